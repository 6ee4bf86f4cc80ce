package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/indicator-engine/internal/indicator"
	"github.com/sells-group/indicator-engine/internal/predictor"
	"github.com/sells-group/indicator-engine/internal/resilience"
	"github.com/sells-group/indicator-engine/internal/sampler"
	"github.com/sells-group/indicator-engine/internal/scenario"
	"github.com/sells-group/indicator-engine/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the indicator operations over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		eng, err := initEngine(ctx)
		if err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
		}

		api := &apiServer{
			engine:      eng,
			store:       st,
			defaultMode: cfg.Engine.DefaultMode,
			maxBody:     int64(cfg.Server.MaxBodyMB) << 20,
			log:         zap.L().With(zap.String("component", "api")),
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           newRouter(api, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// indicatorEngine is the part of indicator.Engine the API calls.
type indicatorEngine interface {
	Indicators(ctx context.Context, table *scenario.Table, mode string, seed *uint64) (*indicator.Table, error)
	IndicatorsLSOA(ctx context.Context, table *scenario.Table) (*indicator.Table, error)
}

type apiServer struct {
	engine      indicatorEngine
	store       store.Store
	defaultMode string
	maxBody     int64
	log         *zap.Logger
}

func newRouter(api *apiServer, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(api.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/indicators", api.handleIndicators)
	r.Post("/indicators/lsoa", api.handleIndicatorsLSOA)

	r.Route("/runs", func(r chi.Router) {
		r.Get("/", api.handleListRuns)
		r.Get("/{id}", api.handleGetRun)
		r.Get("/{id}/results", api.handleRunResults)
	})
	return r
}

func (a *apiServer) handleIndicators(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("mode")
	if mode == "" {
		mode = a.defaultMode
	}
	var seed *uint64
	if raw := q.Get("seed"); raw != "" {
		s, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "seed must be an unsigned integer")
			return
		}
		seed = &s
	}
	indexCol := q.Get("index_column")
	if indexCol == "" {
		indexCol = scenario.DefaultIndexColumn
	}

	table, ok := a.readScenario(w, r, indexCol)
	if !ok {
		return
	}
	spec := store.RunSpec{
		Kind:    store.RunKindOA,
		Mode:    mode,
		Seed:    seed,
		Source:  "api",
		Rows:    table.Len(),
		Changed: table.Changed(),
	}
	result, err := recordRun(r.Context(), a.store, spec, func(ctx context.Context) (*indicator.Table, error) {
		return a.engine.Indicators(ctx, table, mode, seed)
	})
	a.writeResult(w, result, err)
}

func (a *apiServer) handleIndicatorsLSOA(w http.ResponseWriter, r *http.Request) {
	indexCol := r.URL.Query().Get("index_column")
	if indexCol == "" {
		indexCol = indicator.IndexLSOA
	}

	table, ok := a.readScenario(w, r, indexCol)
	if !ok {
		return
	}
	spec := store.RunSpec{
		Kind:    store.RunKindLSOA,
		Mode:    string(predictor.Walk),
		Source:  "api",
		Rows:    table.Len(),
		Changed: table.Changed(),
	}
	result, err := recordRun(r.Context(), a.store, spec, func(ctx context.Context) (*indicator.Table, error) {
		return a.engine.IndicatorsLSOA(ctx, table)
	})
	a.writeResult(w, result, err)
}

func (a *apiServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	runs, err := a.store.ListRuns(r.Context(), store.RunFilter{
		Status: store.RunStatus(q.Get("status")),
		Kind:   store.RunKind(q.Get("kind")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		a.writeErr(w, err)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (a *apiServer) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}
	run, err := a.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (a *apiServer) handleRunResults(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}
	run, err := a.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeErr(w, err)
		return
	}
	if run.Results == nil {
		writeError(w, http.StatusConflict, fmt.Sprintf("run %s is %s", run.ID, run.Status))
		return
	}
	a.writeResult(w, run.Results, nil)
}

func (a *apiServer) readScenario(w http.ResponseWriter, r *http.Request, indexCol string) (*scenario.Table, bool) {
	if a.maxBody > 0 {
		if r.ContentLength > a.maxBody {
			writeError(w, http.StatusRequestEntityTooLarge, "scenario body too large")
			return nil, false
		}
		r.Body = http.MaxBytesReader(w, r.Body, a.maxBody)
	}
	table, err := scenario.ReadCSV(r.Body, indexCol)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "scenario body too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return table, true
}

func (a *apiServer) requireStore(w http.ResponseWriter) bool {
	if a.store == nil {
		writeError(w, http.StatusNotFound, "run history is disabled")
		return false
	}
	return true
}

func (a *apiServer) writeResult(w http.ResponseWriter, result *indicator.Table, err error) {
	if err != nil {
		a.writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.WriteHeader(http.StatusOK)
	if err := result.WriteCSV(w); err != nil {
		a.log.Warn("write response", zap.Error(err))
	}
}

func (a *apiServer) writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.log.Error("request failed", zap.Error(err))
	}
	writeError(w, status, err.Error())
}

// statusFor maps engine errors to HTTP statuses. Input errors are the
// caller's; anything unrecognised is a server failure.
func statusFor(err error) int {
	switch {
	case errors.Is(err, predictor.ErrUnsupportedMode),
		errors.Is(err, sampler.ErrInvalidScenario),
		errors.Is(err, sampler.ErrUnknownArea),
		errors.Is(err, scenario.ErrDuplicateIndex),
		errors.Is(err, scenario.ErrMissingColumn),
		errors.Is(err, indicator.ErrMissingAreas):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

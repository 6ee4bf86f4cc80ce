package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/mat"

	"github.com/sells-group/indicator-engine/internal/resilience"
	"github.com/sells-group/indicator-engine/internal/sampler"
)

// ClientConfig configures the model-server client.
type ClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RateLimit  float64
	Retry      resilience.RetryConfig
	Breaker    resilience.CircuitBreakerConfig
	HTTPClient *http.Client
}

// Client talks to a remote model server. It serves both the regressors
// (through Regressor) and the accessibility engine.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	log     *zap.Logger
}

// NewClient validates cfg and returns a client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, eris.New("predictor: base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 20
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker = resilience.DefaultCircuitBreakerConfig("model-server")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	retry := cfg.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("predictor.client", cfg.BaseURL)
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), max(int(cfg.RateLimit), 1)),
		retry:   retry,
		breaker: resilience.NewCircuitBreaker(cfg.Breaker),
		log:     zap.L().With(zap.String("component", "predictor.client")),
	}, nil
}

type predictRequest struct {
	Index   []string    `json:"index"`
	Columns []string    `json:"columns"`
	Rows    [][]float64 `json:"rows"`
}

type predictResponse struct {
	Values []float64 `json:"values"`
}

type seriesPayload struct {
	Mode   Mode      `json:"mode,omitempty"`
	Index  []string  `json:"index"`
	Values []float64 `json:"values"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Regressor returns a Regressor backed by the named remote model.
func (c *Client) Regressor(model string) Regressor {
	return &remoteRegressor{client: c, model: model}
}

type remoteRegressor struct {
	client *Client
	model  string
}

func (r *remoteRegressor) Predict(ctx context.Context, features *sampler.Features) ([]float64, error) {
	n := features.Len()
	req := predictRequest{
		Index:   features.Index(),
		Columns: features.Columns(),
		Rows:    make([][]float64, n),
	}
	src := features.Matrix()
	for i := range n {
		req.Rows[i] = mat.Row(nil, i, src)
	}

	var resp predictResponse
	if err := r.client.post(ctx, "/predict/"+r.model, req, &resp); err != nil {
		return nil, eris.Wrapf(err, "predictor: remote %s", r.model)
	}
	if len(resp.Values) != n {
		return nil, eris.Errorf("predictor: remote %s returned %d values for %d rows", r.model, len(resp.Values), n)
	}
	return resp.Values, nil
}

// JobAccessibility implements Accessibility.
func (c *Client) JobAccessibility(ctx context.Context, jobs Series, mode Mode) (Series, error) {
	return c.accessibility(ctx, "jobs", jobs, mode)
}

// GreenspaceAccessibility implements Accessibility.
func (c *Client) GreenspaceAccessibility(ctx context.Context, greenspace Series, mode Mode) (Series, error) {
	return c.accessibility(ctx, "greenspace", greenspace, mode)
}

func (c *Client) accessibility(ctx context.Context, kind string, in Series, mode Mode) (Series, error) {
	req := seriesPayload{Mode: mode, Index: in.Index(), Values: in.Values()}
	var resp seriesPayload
	if err := c.post(ctx, "/accessibility/"+kind, req, &resp); err != nil {
		return Series{}, eris.Wrapf(err, "predictor: remote %s accessibility", kind)
	}
	s, err := sampler.NewSeries(resp.Index, resp.Values)
	if err != nil {
		return Series{}, eris.Wrapf(err, "predictor: remote %s accessibility", kind)
	}
	return s, nil
}

// post sends body as JSON and decodes the reply into out, retrying transient
// failures behind the circuit breaker.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}
	url := c.baseURL + path

	start := time.Now()
	_, err = resilience.DoVal(ctx, c.retry, func(ctx context.Context) (struct{}, error) {
		return resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.do(ctx, url, payload, out)
		})
	})
	if err != nil {
		return err
	}
	c.log.Debug("model server call",
		zap.String("path", path),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (c *Client) do(ctx context.Context, url string, payload []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "indicator-engine/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return eris.Wrap(err, "read response")
	}

	if resp.StatusCode == http.StatusUnprocessableEntity {
		var e errorResponse
		if json.Unmarshal(body, &e) == nil && strings.Contains(strings.ToLower(e.Error), "unsupported mode") {
			return eris.Wrap(ErrUnsupportedMode, e.Error)
		}
	}
	if resp.StatusCode != http.StatusOK {
		return resilience.StatusError(resp.StatusCode, url)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}

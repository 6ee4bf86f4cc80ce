// Package indicator assembles neighbourhood indicators from scenario tables:
// it samples features, runs the regressors and the accessibility engine,
// and aggregates OA results up to LSOAs.
package indicator

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/indicator-engine/internal/areal"
	"github.com/sells-group/indicator-engine/internal/predictor"
	"github.com/sells-group/indicator-engine/internal/sampler"
	"github.com/sells-group/indicator-engine/internal/scenario"
)

var (
	// ErrMisaligned is returned when a component's output does not cover the
	// scenario table's identifiers.
	ErrMisaligned = eris.New("component output misaligned with scenario table")
	// ErrMissingAreas is returned under the reject policy when mapped LSOAs
	// are absent from the input.
	ErrMissingAreas = eris.New("scenario table is missing mapped areas")
)

// MissingAreaPolicy decides what happens to mapped LSOAs the LSOA input
// omits.
type MissingAreaPolicy string

const (
	// MissingAsBaseline keeps omitted areas at their current state.
	MissingAsBaseline MissingAreaPolicy = "baseline"
	// MissingReject fails the call.
	MissingReject MissingAreaPolicy = "reject"
)

// ParseMissingAreaPolicy parses a policy name. Empty is MissingAsBaseline.
func ParseMissingAreaPolicy(s string) (MissingAreaPolicy, error) {
	switch p := MissingAreaPolicy(strings.ToLower(s)); p {
	case "":
		return MissingAsBaseline, nil
	case MissingAsBaseline, MissingReject:
		return p, nil
	}
	return "", eris.Errorf("indicator: unknown missing area policy %q", s)
}

// Engine computes indicators. It is immutable after construction and safe
// for concurrent use.
type Engine struct {
	sampler    sampler.Sampler
	airQuality predictor.Regressor
	housePrice predictor.Regressor
	access     predictor.Accessibility
	mapping    *areal.Mapping
	missing    MissingAreaPolicy
	log        *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithSampler sets the feature sampler.
func WithSampler(s sampler.Sampler) Option {
	return func(e *Engine) { e.sampler = s }
}

// WithRegressors sets the air quality and house price regressors.
func WithRegressors(airQuality, housePrice predictor.Regressor) Option {
	return func(e *Engine) {
		e.airQuality = airQuality
		e.housePrice = housePrice
	}
}

// WithAccessibility sets the accessibility engine.
func WithAccessibility(a predictor.Accessibility) Option {
	return func(e *Engine) { e.access = a }
}

// WithMapping sets the OA -> LSOA mapping.
func WithMapping(m *areal.Mapping) Option {
	return func(e *Engine) { e.mapping = m }
}

// WithMissingAreas sets the missing area policy for IndicatorsLSOA.
func WithMissingAreas(p MissingAreaPolicy) Option {
	return func(e *Engine) { e.missing = p }
}

// WithLogger replaces the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func applyOptions(opts []Option) *Engine {
	e := &Engine{
		missing: MissingAsBaseline,
		log:     zap.L().With(zap.String("component", "indicator")),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// New builds an engine from fully specified components.
func New(opts ...Option) (*Engine, error) {
	e := applyOptions(opts)
	if err := e.validate(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) validate() error {
	switch {
	case e.sampler == nil:
		return eris.New("indicator: sampler is required")
	case e.airQuality == nil || e.housePrice == nil:
		return eris.New("indicator: regressors are required")
	case e.access == nil:
		return eris.New("indicator: accessibility engine is required")
	case e.mapping == nil:
		return eris.New("indicator: area mapping is required")
	}
	if _, err := ParseMissingAreaPolicy(string(e.missing)); err != nil {
		return err
	}
	return nil
}

// Mapping returns the engine's area mapping.
func (e *Engine) Mapping() *areal.Mapping {
	return e.mapping
}

// Indicators computes the four indicators for every row of table. The output
// has exactly the table's identifiers in the same order. mode is parsed with
// predictor.ParseMode; seed fixes the sampler's draws when non-nil.
func (e *Engine) Indicators(ctx context.Context, table *scenario.Table, mode string, seed *uint64) (*Table, error) {
	m, err := predictor.ParseMode(mode)
	if err != nil {
		return nil, err
	}
	start := time.Now()

	sample, err := e.sampler.Sample(ctx, table, seed)
	if err != nil {
		return nil, eris.Wrap(err, "indicator: sample features")
	}
	index := table.Index()
	if err := checkSample(index, sample); err != nil {
		return nil, err
	}

	var (
		air, house  []float64
		jobs, green predictor.Series
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		air, err = e.airQuality.Predict(gctx, sample.Features)
		return eris.Wrap(err, "indicator: air quality")
	})
	g.Go(func() error {
		var err error
		house, err = e.housePrice.Predict(gctx, sample.Features)
		return eris.Wrap(err, "indicator: house price")
	})
	g.Go(func() error {
		var err error
		jobs, err = e.access.JobAccessibility(gctx, sample.Jobs, m)
		return eris.Wrap(err, "indicator: job accessibility")
	})
	g.Go(func() error {
		var err error
		green, err = e.access.GreenspaceAccessibility(gctx, sample.Greenspace, m)
		return eris.Wrap(err, "indicator: greenspace accessibility")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(air) != len(index) {
		return nil, eris.Wrapf(ErrMisaligned, "indicator: %d air quality values for %d rows", len(air), len(index))
	}
	if len(house) != len(index) {
		return nil, eris.Wrapf(ErrMisaligned, "indicator: %d house price values for %d rows", len(house), len(index))
	}
	jobVals, err := reindex(index, jobs, "job accessibility")
	if err != nil {
		return nil, err
	}
	greenVals, err := reindex(index, green, "greenspace accessibility")
	if err != nil {
		return nil, err
	}

	rows := make([]Row, len(index))
	for i := range rows {
		rows[i] = Row{
			AirQuality:              air[i],
			HousePrice:              house[i],
			JobAccessibility:        jobVals[i],
			GreenspaceAccessibility: greenVals[i],
		}
	}

	e.log.Info("computed indicators",
		zap.Int("rows", len(index)),
		zap.Int("changed", table.Changed()),
		zap.String("mode", string(m)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &Table{indexName: IndexOA, index: index, rows: rows}, nil
}

// IndicatorsLSOA computes indicators for an LSOA-level scenario. Every OA
// takes its LSOA's row, indicators are computed at OA level under walk mode
// with a fresh seed, and the OA results are averaged per LSOA. The output has
// one row per mapped LSOA sorted by code.
func (e *Engine) IndicatorsLSOA(ctx context.Context, table *scenario.Table) (*Table, error) {
	exp, err := e.mapping.Expand(table)
	if err != nil {
		return nil, err
	}
	if len(exp.Ignored) > 0 {
		e.log.Warn("ignoring identifiers that are not mapped LSOAs",
			zap.Int("count", len(exp.Ignored)),
			zap.Strings("sample", head(exp.Ignored, 10)),
		)
	}
	if len(exp.Missing) > 0 {
		if e.missing == MissingReject {
			return nil, eris.Wrapf(ErrMissingAreas, "indicator: %d LSOAs absent (%s)",
				len(exp.Missing), strings.Join(head(exp.Missing, 10), ", "))
		}
		e.log.Info("keeping absent LSOAs at baseline", zap.Int("count", len(exp.Missing)))
	}

	oa, err := e.Indicators(ctx, exp.OAs, string(predictor.Walk), nil)
	if err != nil {
		return nil, err
	}

	cols := make([][]float64, len(Columns()))
	for j := range cols {
		cols[j] = make([]float64, len(oa.rows))
	}
	for i, r := range oa.rows {
		for j, v := range r.values() {
			cols[j][i] = v
		}
	}
	means, err := e.mapping.Mean(oa.index, cols)
	if err != nil {
		return nil, eris.Wrap(err, "indicator: aggregate to LSOA")
	}

	lsoas := e.mapping.LSOAs()
	rows := make([]Row, len(lsoas))
	vals := make([]float64, len(cols))
	for i := range rows {
		for j := range cols {
			vals[j] = means[j][i]
		}
		rows[i] = rowFromValues(vals)
	}
	return &Table{indexName: IndexLSOA, index: lsoas, rows: rows}, nil
}

func checkSample(index []string, s *sampler.Sample) error {
	if s == nil || s.Features == nil {
		return eris.Wrap(ErrMisaligned, "indicator: sampler returned no features")
	}
	got := s.Features.Index()
	if len(got) != len(index) {
		return eris.Wrapf(ErrMisaligned, "indicator: %d feature rows for %d scenario rows", len(got), len(index))
	}
	for i, id := range index {
		if got[i] != id {
			return eris.Wrapf(ErrMisaligned, "indicator: feature row %d is %s, want %s", i, got[i], id)
		}
		if _, ok := s.Jobs.Value(id); !ok {
			return eris.Wrapf(ErrMisaligned, "indicator: no jobs for %s", id)
		}
		if _, ok := s.Greenspace.Value(id); !ok {
			return eris.Wrapf(ErrMisaligned, "indicator: no greenspace for %s", id)
		}
	}
	return nil
}

func reindex(index []string, s predictor.Series, what string) ([]float64, error) {
	out := make([]float64, len(index))
	for i, id := range index {
		v, ok := s.Value(id)
		if !ok {
			return nil, eris.Wrapf(ErrMisaligned, "indicator: no %s for %s", what, id)
		}
		out[i] = v
	}
	return out, nil
}

func head(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

package indicator

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/indicator-engine/internal/areal"
	"github.com/sells-group/indicator-engine/internal/cache"
	"github.com/sells-group/indicator-engine/internal/predictor"
	"github.com/sells-group/indicator-engine/internal/sampler"
)

// Load fetches every artifact the engine needs from c and builds an Engine.
// Components supplied through opts are used as given and their artifacts are
// not fetched.
func Load(ctx context.Context, c cache.Cache, opts ...Option) (*Engine, error) {
	e := applyOptions(opts)
	start := time.Now()

	names := []string{cache.EmptyTable, cache.OALSOATable}
	if e.sampler == nil {
		names = append(names, cache.BaselineTable, cache.SignaturesTable)
	}
	if e.airQuality == nil {
		names = append(names, cache.AirQualityPredictor)
	}
	if e.housePrice == nil {
		names = append(names, cache.HousePricePredictor)
	}
	if e.access == nil {
		names = append(names, cache.Accessibility)
	}
	if e.mapping != nil {
		names = names[2:]
	}

	found := make([]string, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			p, err := c.Fetch(gctx, name)
			if err != nil {
				return eris.Wrapf(err, "indicator: fetch %s", name)
			}
			found[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	paths := make(map[string]string, len(names))
	for i, name := range names {
		paths[name] = found[i]
	}

	if e.mapping == nil {
		m, err := areal.LoadMapping(paths[cache.EmptyTable], paths[cache.OALSOATable])
		if err != nil {
			return nil, err
		}
		e.mapping = m
	}
	if e.sampler == nil {
		baseline, err := areal.LoadBaseline(paths[cache.BaselineTable])
		if err != nil {
			return nil, err
		}
		profiles, err := sampler.LoadProfiles(paths[cache.SignaturesTable])
		if err != nil {
			return nil, err
		}
		e.sampler = sampler.NewProfileSampler(baseline, profiles)
	}
	if e.airQuality == nil {
		m, err := predictor.LoadLinearModel(paths[cache.AirQualityPredictor])
		if err != nil {
			return nil, eris.Wrap(err, "indicator: air quality predictor")
		}
		e.airQuality = m
	}
	if e.housePrice == nil {
		m, err := predictor.LoadLinearModel(paths[cache.HousePricePredictor])
		if err != nil {
			return nil, eris.Wrap(err, "indicator: house price predictor")
		}
		e.housePrice = m
	}
	if e.access == nil {
		a, err := predictor.LoadNetworkAccessibility(paths[cache.Accessibility])
		if err != nil {
			return nil, eris.Wrap(err, "indicator: accessibility")
		}
		e.access = a
	}

	if err := e.validate(); err != nil {
		return nil, err
	}
	e.log.Info("engine loaded",
		zap.Int("artifacts", len(names)),
		zap.Int("oas", len(e.mapping.OAs())),
		zap.Int("lsoas", len(e.mapping.LSOAs())),
		zap.String("missing_areas", string(e.missing)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return e, nil
}

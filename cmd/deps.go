package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/indicator-engine/internal/cache"
	"github.com/sells-group/indicator-engine/internal/indicator"
	"github.com/sells-group/indicator-engine/internal/predictor"
	"github.com/sells-group/indicator-engine/internal/resilience"
	"github.com/sells-group/indicator-engine/internal/store"
)

func initCache() (*cache.DirCache, error) {
	return cache.New(cache.Options{
		Dir:       cfg.Cache.Dir,
		BaseURL:   cfg.Cache.BaseURL,
		Timeout:   time.Duration(cfg.Cache.TimeoutSecs) * time.Second,
		Retry:     resilience.DefaultRetryConfig().WithAttempts(cfg.Cache.MaxRetries),
		RateLimit: cfg.Cache.RateLimit,
	})
}

// initEngine loads the engine from the artifact cache. The remote backend
// replaces the local regressors and accessibility engine with the model
// server client.
func initEngine(ctx context.Context) (*indicator.Engine, error) {
	c, err := initCache()
	if err != nil {
		return nil, err
	}

	policy, err := indicator.ParseMissingAreaPolicy(cfg.Engine.MissingAreas)
	if err != nil {
		return nil, err
	}
	opts := []indicator.Option{indicator.WithMissingAreas(policy)}

	if cfg.Predictors.Backend == "remote" {
		client, err := predictor.NewClient(predictor.ClientConfig{
			BaseURL:   cfg.Predictors.Remote.BaseURL,
			Timeout:   time.Duration(cfg.Predictors.Remote.TimeoutSecs) * time.Second,
			RateLimit: cfg.Predictors.Remote.RateLimit,
			Retry:     resilience.DefaultRetryConfig(),
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts,
			indicator.WithRegressors(client.Regressor("air_quality"), client.Regressor("house_price")),
			indicator.WithAccessibility(client),
		)
	}

	return indicator.Load(ctx, c, opts...)
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "indicator-runs.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore returns a migrated store, or nil when run history is disabled.
func openStore(ctx context.Context) (store.Store, error) {
	if !cfg.Store.Enabled {
		return nil, nil
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

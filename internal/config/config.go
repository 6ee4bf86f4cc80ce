package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Predictors PredictorsConfig `yaml:"predictors" mapstructure:"predictors"`
	Engine     EngineConfig     `yaml:"engine" mapstructure:"engine"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// CacheConfig configures the model artifact cache.
type CacheConfig struct {
	Dir         string  `yaml:"dir" mapstructure:"dir"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// PredictorsConfig selects where predictions are computed.
type PredictorsConfig struct {
	Backend string       `yaml:"backend" mapstructure:"backend"`
	Remote  RemoteConfig `yaml:"remote" mapstructure:"remote"`
}

// RemoteConfig holds model-server settings for the remote predictor backend.
type RemoteConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// EngineConfig configures indicator computation defaults.
type EngineConfig struct {
	DefaultMode  string `yaml:"default_mode" mapstructure:"default_mode"`
	MissingAreas string `yaml:"missing_areas" mapstructure:"missing_areas"`
}

// StoreConfig configures the run history backend.
type StoreConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	MaxBodyMB      int      `yaml:"max_body_mb" mapstructure:"max_body_mb"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INDICATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("cache.dir", defaultCacheDir())
	v.SetDefault("cache.base_url", "")
	v.SetDefault("cache.timeout_secs", 60)
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.rate_limit", 5.0)
	v.SetDefault("predictors.backend", "local")
	v.SetDefault("predictors.remote.base_url", "")
	v.SetDefault("predictors.remote.timeout_secs", 30)
	v.SetDefault("predictors.remote.rate_limit", 20.0)
	v.SetDefault("engine.default_mode", "walk")
	v.SetDefault("engine.missing_areas", "baseline")
	v.SetDefault("store.enabled", false)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "indicator-runs.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_body_mb", 32)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "indicator-engine")
	}
	return filepath.Join(dir, "indicator-engine")
}

// Validate checks the settings a command depends on. Command is one of
// "indicators", "lsoa", "serve" or "runs".
func (c *Config) Validate(command string) error {
	var errs []error

	switch command {
	case "indicators", "lsoa", "serve":
		if c.Cache.Dir == "" {
			errs = append(errs, eris.New("cache.dir is required"))
		}
		switch c.Predictors.Backend {
		case "local":
		case "remote":
			if c.Predictors.Remote.BaseURL == "" {
				errs = append(errs, eris.New("predictors.remote.base_url is required for the remote backend"))
			}
		default:
			errs = append(errs, eris.Errorf("predictors.backend must be local or remote, got %q", c.Predictors.Backend))
		}
		switch c.Engine.DefaultMode {
		case "walk", "bike", "car", "transit":
		default:
			errs = append(errs, eris.Errorf("engine.default_mode must be walk, bike, car or transit, got %q", c.Engine.DefaultMode))
		}
		switch c.Engine.MissingAreas {
		case "baseline", "reject":
		default:
			errs = append(errs, eris.Errorf("engine.missing_areas must be baseline or reject, got %q", c.Engine.MissingAreas))
		}
		if c.Cache.MaxRetries < 1 || c.Cache.MaxRetries > 10 {
			errs = append(errs, eris.New("cache.max_retries must be between 1 and 10"))
		}
		if command == "serve" {
			if c.Server.Port < 1 || c.Server.Port > 65535 {
				errs = append(errs, eris.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
			}
			if c.Server.MaxBodyMB < 1 {
				errs = append(errs, eris.New("server.max_body_mb must be positive"))
			}
		}
	case "runs":
		if !c.Store.Enabled {
			errs = append(errs, eris.New("store.enabled must be true to list runs"))
		}
	default:
		return eris.Errorf("config: unknown command %q", command)
	}

	if c.Store.Enabled {
		switch c.Store.Driver {
		case "sqlite", "postgres":
		default:
			errs = append(errs, eris.Errorf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
		}
		if c.Store.DatabaseURL == "" {
			errs = append(errs, eris.New("store.database_url is required"))
		}
	}

	if len(errs) > 0 {
		return eris.Wrap(errors.Join(errs...), "config: validate")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

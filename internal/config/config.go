package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tractwise/hotspot-cli/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store    store.Config   `yaml:"store" mapstructure:"store"`
	Census   CensusConfig   `yaml:"census" mapstructure:"census"`
	Shapes   ShapesConfig   `yaml:"shapes" mapstructure:"shapes"`
	Analysis AnalysisConfig `yaml:"analysis" mapstructure:"analysis"`
	Render   RenderConfig   `yaml:"render" mapstructure:"render"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// CensusConfig configures the ACS Data API client.
type CensusConfig struct {
	// Key is the Census API key. Anonymous use is limited to 500
	// queries per day.
	Key        string  `yaml:"key" mapstructure:"key"`
	BaseURL    string  `yaml:"base_url" mapstructure:"base_url"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	MaxRetries int     `yaml:"max_retries" mapstructure:"max_retries"`
	UserAgent  string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// ShapesConfig configures boundary file acquisition.
type ShapesConfig struct {
	CacheDir string `yaml:"cache_dir" mapstructure:"cache_dir"`
	// Year and Resolution fall back to the downloader's defaults
	// when left zero.
	Year       int    `yaml:"year" mapstructure:"year"`
	Resolution string `yaml:"resolution" mapstructure:"resolution"`
	// TIGER switches from cartographic boundaries to full TIGER/Line
	// geometry.
	TIGER       bool `yaml:"tiger" mapstructure:"tiger"`
	UseFTP      bool `yaml:"use_ftp" mapstructure:"use_ftp"`
	Concurrency int  `yaml:"concurrency" mapstructure:"concurrency"`
}

// AnalysisConfig holds defaults for per-run statistical parameters.
// Flags and API requests override them run by run.
type AnalysisConfig struct {
	Permutations int   `yaml:"permutations" mapstructure:"permutations"`
	Seed         int64 `yaml:"seed" mapstructure:"seed"`
}

// RenderConfig configures artifact output.
type RenderConfig struct {
	OutDir string `yaml:"out_dir" mapstructure:"out_dir"`
	Width  int    `yaml:"width" mapstructure:"width"`
	Height int    `yaml:"height" mapstructure:"height"`
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("HOTSPOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "hotspot.db")
	v.SetDefault("census.base_url", "https://api.census.gov/data")
	v.SetDefault("census.rate_per_sec", 5)
	v.SetDefault("census.max_retries", 3)
	v.SetDefault("census.user_agent", "hotspot-cli/1.0")
	v.SetDefault("shapes.cache_dir", "/tmp/hotspot-shapes")
	v.SetDefault("shapes.concurrency", 3)
	v.SetDefault("analysis.permutations", 999)
	v.SetDefault("render.out_dir", ".")
	v.SetDefault("render.width", 1024)
	v.SetDefault("render.height", 1024)
	v.SetDefault("server.port", 8080)
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

// Validate checks the configuration for the given command mode:
// "analyze" needs acquisition settings, "serve" additionally needs a
// usable port, and "store" covers commands that only touch the store.
func (c *Config) Validate(mode string) error {
	var problems []string

	// Bounds shared by every mode.
	if c.Census.RatePerSec <= 0 {
		problems = append(problems, "census.rate_per_sec must be > 0")
	}
	if c.Census.MaxRetries < 0 || c.Census.MaxRetries > 10 {
		problems = append(problems, "census.max_retries must be between 0 and 10")
	}
	if c.Shapes.Concurrency < 1 || c.Shapes.Concurrency > 16 {
		problems = append(problems, "shapes.concurrency must be between 1 and 16")
	}
	if c.Analysis.Permutations < 0 || c.Analysis.Permutations > 100000 {
		problems = append(problems, "analysis.permutations must be between 0 and 100000")
	}
	if c.Render.Width < 64 || c.Render.Width > 8192 {
		problems = append(problems, "render.width must be between 64 and 8192")
	}
	if c.Render.Height < 64 || c.Render.Height > 8192 {
		problems = append(problems, "render.height must be between 64 and 8192")
	}

	switch mode {
	case "analyze":
		if c.Shapes.CacheDir == "" {
			problems = append(problems, "shapes.cache_dir is required")
		}
	case "serve":
		if c.Shapes.CacheDir == "" {
			problems = append(problems, "shapes.cache_dir is required")
		}
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be > 0 and <= 65535")
		}
	case "store":
		// Store settings are checked by store.Open.
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New(fmt.Sprintf("config: invalid configuration: %s", strings.Join(problems, "; ")))
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

package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store StoreConfig `yaml:"store" mapstructure:"store"`
	API   APIConfig   `yaml:"api" mapstructure:"api"`
	Crawl CrawlConfig `yaml:"crawl" mapstructure:"crawl"`
	Log   LogConfig   `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver" mapstructure:"driver"`
	// DatabaseURL is a postgres DSN or a sqlite file path.
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// APIConfig configures the board API client.
type APIConfig struct {
	BaseURL       string  `yaml:"base_url" mapstructure:"base_url"`
	UserAgent     string  `yaml:"user_agent" mapstructure:"user_agent"`
	RatePerSec    float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst         int     `yaml:"burst" mapstructure:"burst"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RetryAttempts int     `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	// BreakerThreshold opens the client's circuit breaker after this many
	// consecutive transient failures; 0 disables the breaker.
	BreakerThreshold    int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownSecs int `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
	// Headers are applied verbatim to every request; the board checks
	// Origin and Referer on some deployments.
	Headers map[string]string `yaml:"headers" mapstructure:"headers"`
}

// CrawlConfig configures the crawl pipelines.
type CrawlConfig struct {
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
	PageSize    int    `yaml:"page_size" mapstructure:"page_size"`
	MaxPages    int    `yaml:"max_pages" mapstructure:"max_pages"`
	SnapshotDir string `yaml:"snapshot_dir" mapstructure:"snapshot_dir"`
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
	v.SetEnvPrefix("WENZHENG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "wenzheng.db")
	v.SetDefault("api.base_url", "https://wz-api.chuanbaoguancha.cn/api/v1")
	v.SetDefault("api.rate_per_sec", 2.0)
	v.SetDefault("api.burst", 1)
	v.SetDefault("api.timeout_secs", 30)
	v.SetDefault("api.retry_attempts", 3)
	v.SetDefault("api.breaker_threshold", 5)
	v.SetDefault("api.breaker_cooldown_secs", 60)
	v.SetDefault("crawl.concurrency", 3)
	v.SetDefault("crawl.page_size", 20)
	v.SetDefault("crawl.max_pages", 50)
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

// Validate checks the configuration for the given invocation mode:
// "crawl" needs the API client and store, "query" only the store.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, `store.driver must be "sqlite" or "postgres"`)
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}

	switch mode {
	case "crawl":
		if c.API.BaseURL == "" {
			problems = append(problems, "api.base_url is required")
		}
		if c.API.RatePerSec <= 0 || c.API.RatePerSec > 10 {
			problems = append(problems, "api.rate_per_sec must be between 0 and 10")
		}
		if c.API.TimeoutSecs <= 0 {
			problems = append(problems, "api.timeout_secs must be > 0")
		}
		if c.API.RetryAttempts < 1 || c.API.RetryAttempts > 10 {
			problems = append(problems, "api.retry_attempts must be between 1 and 10")
		}
		if c.API.BreakerThreshold < 0 {
			problems = append(problems, "api.breaker_threshold must be >= 0 (0 disables the breaker)")
		}
		if c.API.BreakerThreshold > 0 && c.API.BreakerCooldownSecs < 1 {
			problems = append(problems, "api.breaker_cooldown_secs must be >= 1 when the breaker is enabled")
		}
		if c.Crawl.PageSize < 1 || c.Crawl.PageSize > 100 {
			problems = append(problems, "crawl.page_size must be between 1 and 100")
		}
		if c.Crawl.MaxPages < 1 {
			problems = append(problems, "crawl.max_pages must be >= 1")
		}
		if c.Crawl.Concurrency < 1 || c.Crawl.Concurrency > 10 {
			problems = append(problems, "crawl.concurrency must be between 1 and 10")
		}
	case "query":
		// store checks above are enough
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid configuration: %s", strings.Join(problems, "; "))
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

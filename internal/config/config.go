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
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Listing ListingConfig `yaml:"listing" mapstructure:"listing"`
	Browser BrowserConfig `yaml:"browser" mapstructure:"browser"`
	Index   IndexConfig   `yaml:"index" mapstructure:"index"`
	Ingest  IngestConfig  `yaml:"ingest" mapstructure:"ingest"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver           string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL      string `yaml:"database_url" mapstructure:"database_url"`
	BatchSize        int    `yaml:"batch_size" mapstructure:"batch_size"`
	FlushConcurrency int    `yaml:"flush_concurrency" mapstructure:"flush_concurrency"`
}

// ListingConfig points at the directory profile to ingest. An empty
// profile path selects the built-in default.
type ListingConfig struct {
	ProfilePath string `yaml:"profile" mapstructure:"profile"`
}

// BrowserConfig configures the headless browser session.
type BrowserConfig struct {
	Headless           bool   `yaml:"headless" mapstructure:"headless"`
	ControlURL         string `yaml:"control_url" mapstructure:"control_url"`
	UserAgent          string `yaml:"user_agent" mapstructure:"user_agent"`
	NavTimeoutSecs     int    `yaml:"nav_timeout_secs" mapstructure:"nav_timeout_secs"`
	ViewportWidth      int    `yaml:"viewport_width" mapstructure:"viewport_width"`
	ViewportHeight     int    `yaml:"viewport_height" mapstructure:"viewport_height"`
	ScrollDelayMs      int    `yaml:"scroll_delay_ms" mapstructure:"scroll_delay_ms"`
	MaxIterations      int    `yaml:"max_iterations" mapstructure:"max_iterations"`
	StableRounds       int    `yaml:"stable_rounds" mapstructure:"stable_rounds"`
	BottomRounds       int    `yaml:"bottom_rounds" mapstructure:"bottom_rounds"`
	SearchSettleMs     int    `yaml:"search_settle_ms" mapstructure:"search_settle_ms"`
	SearchMaxScrolls   int    `yaml:"search_max_scrolls" mapstructure:"search_max_scrolls"`
	SearchStableChecks int    `yaml:"search_stable_checks" mapstructure:"search_stable_checks"`
}

// IndexConfig tunes the direct index client.
type IndexConfig struct {
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst   int     `yaml:"rate_burst" mapstructure:"rate_burst"`
	MaxAttempts int     `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// IngestConfig sets the escalation gates between acquisition strategies.
type IngestConfig struct {
	APIMinYield          int `yaml:"api_min_yield" mapstructure:"api_min_yield"`
	MergedMinYield       int `yaml:"merged_min_yield" mapstructure:"merged_min_yield"`
	DOMMinYield          int `yaml:"dom_min_yield" mapstructure:"dom_min_yield"`
	CredentialWindowSecs int `yaml:"credential_window_secs" mapstructure:"credential_window_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks that the fields a command relies on are present and in
// range. Mode selects the command's requirements: "ingest" needs the full
// acquisition stack, "runs" only the store.
func (c *Config) Validate(mode string) error {
	var problems []string

	if c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
		problems = append(problems, "store.driver must be postgres or sqlite")
	}
	// SQLite falls back to a local file when no URL is set.
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}
	if c.Store.BatchSize < 1 {
		problems = append(problems, "store.batch_size must be >= 1")
	}
	if c.Store.FlushConcurrency < 1 || c.Store.FlushConcurrency > 16 {
		problems = append(problems, "store.flush_concurrency must be between 1 and 16")
	}

	switch mode {
	case "ingest":
		if c.Ingest.CredentialWindowSecs < 1 {
			problems = append(problems, "ingest.credential_window_secs must be >= 1")
		}
		if c.Ingest.APIMinYield < 0 || c.Ingest.MergedMinYield < 0 || c.Ingest.DOMMinYield < 0 {
			problems = append(problems, "ingest yield gates must be >= 0")
		}
		if c.Browser.MaxIterations < 1 {
			problems = append(problems, "browser.max_iterations must be >= 1")
		}
		if c.Browser.StableRounds < 1 || c.Browser.BottomRounds < 1 {
			problems = append(problems, "browser convergence rounds must be >= 1")
		}
		if c.Index.RateLimit <= 0 {
			problems = append(problems, "index.rate_limit must be > 0")
		}
		if c.Index.MaxAttempts < 1 {
			problems = append(problems, "index.max_attempts must be >= 1")
		}
	case "runs":
		// Store checks above are all it needs.
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DIRECTORY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.batch_size", 500)
	v.SetDefault("store.flush_concurrency", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.nav_timeout_secs", 45)
	v.SetDefault("browser.viewport_width", 1366)
	v.SetDefault("browser.viewport_height", 900)
	v.SetDefault("browser.scroll_delay_ms", 350)
	v.SetDefault("browser.max_iterations", 3000)
	v.SetDefault("browser.stable_rounds", 20)
	v.SetDefault("browser.bottom_rounds", 10)
	v.SetDefault("browser.search_settle_ms", 600)
	v.SetDefault("browser.search_max_scrolls", 80)
	v.SetDefault("browser.search_stable_checks", 5)
	v.SetDefault("index.rate_limit", 8.0)
	v.SetDefault("index.rate_burst", 8)
	v.SetDefault("index.max_attempts", 3)
	v.SetDefault("ingest.api_min_yield", 2000)
	v.SetDefault("ingest.merged_min_yield", 4000)
	v.SetDefault("ingest.dom_min_yield", 2000)
	v.SetDefault("ingest.credential_window_secs", 8)

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

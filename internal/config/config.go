package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/grandcru/winematch/internal/resilience"
	"github.com/grandcru/winematch/internal/resolver"
	"github.com/grandcru/winematch/internal/scorer"
	"github.com/grandcru/winematch/internal/search"
	"github.com/grandcru/winematch/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Paths    PathsConfig    `yaml:"paths" mapstructure:"paths"`
	Search   SearchConfig   `yaml:"search" mapstructure:"search"`
	Resolver ResolverConfig `yaml:"resolver" mapstructure:"resolver"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Importer ImporterConfig `yaml:"importer" mapstructure:"importer"`
	Refresh  RefreshConfig  `yaml:"refresh" mapstructure:"refresh"`
	Ops      OpsConfig      `yaml:"ops" mapstructure:"ops"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// PathsConfig locates the input and output tables.
type PathsConfig struct {
	Comparison     string `yaml:"comparison" mapstructure:"comparison"`
	Ratings        string `yaml:"ratings" mapstructure:"ratings"`
	Overrides      string `yaml:"overrides" mapstructure:"overrides"`
	Review         string `yaml:"review" mapstructure:"review"`
	Unmatched      string `yaml:"unmatched" mapstructure:"unmatched"`
	Suggestions    string `yaml:"suggestions" mapstructure:"suggestions"`
	ReviewWorkbook string `yaml:"review_workbook" mapstructure:"review_workbook"`
	QueryCache     string `yaml:"query_cache" mapstructure:"query_cache"`
	State          string `yaml:"state" mapstructure:"state"`
}

// SearchConfig configures the candidate search providers.
type SearchConfig struct {
	Provider         string  `yaml:"provider" mapstructure:"provider"`
	AutoOrder        string  `yaml:"auto_order" mapstructure:"auto_order"`
	MaxResults       int     `yaml:"max_results" mapstructure:"max_results"`
	SleepSeconds     float64 `yaml:"sleep_seconds" mapstructure:"sleep_seconds"`
	CacheTTLHours    float64 `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	MaxAPIQueries    int     `yaml:"max_api_queries" mapstructure:"max_api_queries"`
	RetryAttempts    int     `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	BreakerThreshold int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BraveAPIKey      string  `yaml:"brave_api_key" mapstructure:"brave_api_key"`
	SerperAPIKey     string  `yaml:"serper_api_key" mapstructure:"serper_api_key"`
	GoogleAPIKey     string  `yaml:"google_api_key" mapstructure:"google_api_key"`
	GoogleCSEID      string  `yaml:"google_cse_id" mapstructure:"google_cse_id"`
}

// ResolverConfig holds the decision thresholds and run selection.
type ResolverConfig struct {
	MinConfidence         float64 `yaml:"min_confidence" mapstructure:"min_confidence"`
	MinMargin             float64 `yaml:"min_margin" mapstructure:"min_margin"`
	RequireExistingRating bool    `yaml:"require_existing_rating" mapstructure:"require_existing_rating"`
	Limit                 int     `yaml:"limit" mapstructure:"limit"`
	OnlyNew               bool    `yaml:"only_new" mapstructure:"only_new"`
	AutoApply             bool    `yaml:"auto_apply" mapstructure:"auto_apply"`
	Workers               int     `yaml:"workers" mapstructure:"workers"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// ImporterConfig configures deal imports.
type ImporterConfig struct {
	HistoryRetentionDays int    `yaml:"history_retention_days" mapstructure:"history_retention_days"`
	PlatinumBaseURL      string `yaml:"platinum_base_url" mapstructure:"platinum_base_url"`
}

// RefreshConfig configures the background refresh runner.
type RefreshConfig struct {
	DataDir      string              `yaml:"data_dir" mapstructure:"data_dir"`
	LockFile     string              `yaml:"lock_file" mapstructure:"lock_file"`
	StateFile    string              `yaml:"state_file" mapstructure:"state_file"`
	Provider     string              `yaml:"provider" mapstructure:"provider"`
	HealthURL    string              `yaml:"health_url" mapstructure:"health_url"`
	StrictHealth bool                `yaml:"strict_health" mapstructure:"strict_health"`
	PreCommands  map[string][]string `yaml:"pre_commands" mapstructure:"pre_commands"`
}

// OpsConfig guards the operations endpoints.
type OpsConfig struct {
	APIKey string `yaml:"api_key" mapstructure:"api_key"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port                int `yaml:"port" mapstructure:"port"`
	IngestionStaleHours int `yaml:"ingestion_stale_hours" mapstructure:"ingestion_stale_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// legacyEnv maps config keys to the unprefixed variables older deployments set.
var legacyEnv = map[string][]string{
	"search.brave_api_key":  {"WINEMATCH_SEARCH_BRAVE_API_KEY", "BRAVE_API_KEY"},
	"search.serper_api_key": {"WINEMATCH_SEARCH_SERPER_API_KEY", "SERPER_API_KEY"},
	"search.google_api_key": {"WINEMATCH_SEARCH_GOOGLE_API_KEY", "GOOGLE_API_KEY", "GOOGLE_CSE_API_KEY"},
	"search.google_cse_id":  {"WINEMATCH_SEARCH_GOOGLE_CSE_ID", "GOOGLE_CSE_ID"},
	"search.auto_order":     {"WINEMATCH_SEARCH_AUTO_ORDER", "VIVINO_AUTO_PROVIDER_ORDER"},
	"store.database_url":    {"WINEMATCH_STORE_DATABASE_URL", "DATABASE_URL"},
	"ops.api_key":           {"WINEMATCH_OPS_API_KEY", "OPS_API_KEY"},
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("WINEMATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	// Defaults
	v.SetDefault("paths.comparison", "seed/comparison_summary.csv")
	v.SetDefault("paths.ratings", "seed/vivino_results.csv")
	v.SetDefault("paths.overrides", "seed/vivino_overrides.csv")
	v.SetDefault("paths.review", "data/vivino_review_queue.csv")
	v.SetDefault("paths.unmatched", "data/vivino_unmatched.csv")
	v.SetDefault("paths.suggestions", "data/vivino_auto_overrides.csv")
	v.SetDefault("paths.review_workbook", "")
	v.SetDefault("paths.query_cache", "data/vivino_query_cache.json")
	v.SetDefault("paths.state", "data/vivino_resolver_state.json")
	v.SetDefault("search.provider", search.ProviderNone)
	v.SetDefault("search.auto_order", search.DefaultAutoOrder)
	v.SetDefault("search.max_results", 8)
	v.SetDefault("search.sleep_seconds", 1.2)
	v.SetDefault("search.cache_ttl_hours", 168.0)
	v.SetDefault("search.max_api_queries", 0)
	v.SetDefault("search.retry_attempts", 3)
	v.SetDefault("search.breaker_threshold", 5)
	v.SetDefault("search.brave_api_key", "")
	v.SetDefault("search.serper_api_key", "")
	v.SetDefault("search.google_api_key", "")
	v.SetDefault("search.google_cse_id", "")
	v.SetDefault("resolver.min_confidence", 0.82)
	v.SetDefault("resolver.min_margin", 0.08)
	v.SetDefault("resolver.require_existing_rating", true)
	v.SetDefault("resolver.limit", 0)
	v.SetDefault("resolver.only_new", true)
	v.SetDefault("resolver.auto_apply", false)
	v.SetDefault("resolver.workers", 1)
	v.SetDefault("store.driver", "")
	v.SetDefault("store.database_url", "sqlite:///./data/wines.db")
	v.SetDefault("importer.history_retention_days", 90)
	v.SetDefault("importer.platinum_base_url", "https://platwineclub.wineportal.com")
	v.SetDefault("refresh.data_dir", "data")
	v.SetDefault("refresh.lock_file", "")
	v.SetDefault("refresh.state_file", "")
	v.SetDefault("refresh.provider", search.ProviderBrave)
	v.SetDefault("refresh.health_url", "")
	v.SetDefault("refresh.strict_health", false)
	v.SetDefault("ops.api_key", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.ingestion_stale_hours", 24)
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

// Validate checks the settings a command mode depends on. Modes are
// resolve, import, refresh and serve.
func (c *Config) Validate(mode string) error {
	var errs []string
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, msg)
		}
	}

	switch mode {
	case "resolve":
		c.validateResolve(check)
	case "import":
		c.validateImport(check)
	case "refresh":
		c.validateResolve(check)
		c.validateImport(check)
		check(c.Refresh.DataDir != "", "refresh.data_dir is required")
	case "serve":
		check(c.Server.Port > 0, "server.port must be > 0")
		check(c.Refresh.DataDir != "", "refresh.data_dir is required")
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateResolve(check func(bool, string)) {
	check(c.Paths.Comparison != "", "paths.comparison is required")
	check(c.Paths.Ratings != "", "paths.ratings is required")
	check(search.Known(c.Search.Provider), "search.provider must be one of auto, none, brave, serper, google_cse")
	check(c.Search.MaxResults >= 1 && c.Search.MaxResults <= 20, "search.max_results must be between 1 and 20")
	check(c.Search.MaxAPIQueries >= 0, "search.max_api_queries must be >= 0")
	check(c.Search.SleepSeconds >= 0, "search.sleep_seconds must be >= 0")
	check(c.Resolver.MinConfidence > 0 && c.Resolver.MinConfidence <= 1, "resolver.min_confidence must be in (0,1]")
	check(c.Resolver.MinMargin >= 0 && c.Resolver.MinMargin <= 1, "resolver.min_margin must be in [0,1]")
	check(c.Resolver.Workers >= 1 && c.Resolver.Workers <= 16, "resolver.workers must be between 1 and 16")
	check(c.Resolver.Limit >= 0, "resolver.limit must be >= 0")
}

func (c *Config) validateImport(check func(bool, string)) {
	check(c.Paths.Comparison != "", "paths.comparison is required")
	check(c.Paths.Ratings != "", "paths.ratings is required")
	check(c.Store.DatabaseURL != "", "store.database_url is required")
	check(c.Importer.HistoryRetentionDays > 0, "importer.history_retention_days must be > 0")
}

// Credentials returns the provider secrets.
func (c SearchConfig) Credentials() search.Credentials {
	return search.Credentials{
		BraveAPIKey:  c.BraveAPIKey,
		SerperAPIKey: c.SerperAPIKey,
		GoogleAPIKey: c.GoogleAPIKey,
		GoogleCSEID:  c.GoogleCSEID,
	}
}

// Gateway maps the section onto the search gateway settings.
func (c SearchConfig) Gateway() search.Config {
	retry := resilience.DefaultPolicy()
	retry.Attempts = c.RetryAttempts
	return search.Config{
		AutoOrder:        c.AutoOrder,
		MaxResults:       c.MaxResults,
		CacheTTL:         time.Duration(c.CacheTTLHours * float64(time.Hour)),
		MaxAPIQueries:    c.MaxAPIQueries,
		Interval:         time.Duration(c.SleepSeconds * float64(time.Second)),
		Retry:            retry,
		BreakerThreshold: c.BreakerThreshold,
	}
}

// Policy returns the decision thresholds.
func (c ResolverConfig) Policy() scorer.Policy {
	return scorer.Policy{
		MinConfidence:         c.MinConfidence,
		MinMargin:             c.MinMargin,
		RequireExistingRating: c.RequireExistingRating,
	}
}

// ResolverOptions assembles the options for one resolver run.
func (c *Config) ResolverOptions() resolver.Options {
	return resolver.Options{
		Paths: resolver.Paths{
			Comparison:     c.Paths.Comparison,
			Ratings:        c.Paths.Ratings,
			Overrides:      c.Paths.Overrides,
			Review:         c.Paths.Review,
			Unmatched:      c.Paths.Unmatched,
			Suggestions:    c.Paths.Suggestions,
			ReviewWorkbook: c.Paths.ReviewWorkbook,
			QueryCache:     c.Paths.QueryCache,
			State:          c.Paths.State,
		},
		Provider:  c.Search.Provider,
		Search:    c.Search.Gateway(),
		Policy:    c.Resolver.Policy(),
		Limit:     c.Resolver.Limit,
		OnlyNew:   c.Resolver.OnlyNew,
		AutoApply: c.Resolver.AutoApply,
		Workers:   c.Resolver.Workers,
	}
}

// Connection returns the store driver and driver-specific DSN. An empty
// driver is inferred from the database URL scheme; sqlite URLs of the form
// sqlite:///path are reduced to the file path.
func (c StoreConfig) Connection() (driver, dsn string) {
	driver = strings.ToLower(strings.TrimSpace(c.Driver))
	dsn = strings.TrimSpace(c.DatabaseURL)
	if driver == "" {
		switch {
		case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
			driver = "postgres"
		default:
			driver = "sqlite"
		}
	}
	if driver == "sqlite" {
		if path, ok := strings.CutPrefix(dsn, "sqlite:///"); ok {
			dsn = path
		} else if path, ok := strings.CutPrefix(dsn, "sqlite://"); ok {
			dsn = path
		}
		if dsn == "" {
			dsn = "data/wines.db"
		}
	}
	return driver, dsn
}

// InitLogger sets up the global zap logger based on config.
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

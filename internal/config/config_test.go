package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "seed/comparison_summary.csv", cfg.Paths.Comparison)
	assert.Equal(t, "data/vivino_review_queue.csv", cfg.Paths.Review)
	assert.Equal(t, "data/vivino_resolver_state.json", cfg.Paths.State)
	assert.Equal(t, "none", cfg.Search.Provider)
	assert.Equal(t, "google_cse,brave,serper", cfg.Search.AutoOrder)
	assert.Equal(t, 8, cfg.Search.MaxResults)
	assert.InDelta(t, 1.2, cfg.Search.SleepSeconds, 0.001)
	assert.InDelta(t, 168, cfg.Search.CacheTTLHours, 0.001)
	assert.Equal(t, 0, cfg.Search.MaxAPIQueries)
	assert.InDelta(t, 0.82, cfg.Resolver.MinConfidence, 0.001)
	assert.InDelta(t, 0.08, cfg.Resolver.MinMargin, 0.001)
	assert.True(t, cfg.Resolver.RequireExistingRating)
	assert.True(t, cfg.Resolver.OnlyNew)
	assert.False(t, cfg.Resolver.AutoApply)
	assert.Equal(t, 1, cfg.Resolver.Workers)
	assert.Equal(t, "sqlite:///./data/wines.db", cfg.Store.DatabaseURL)
	assert.Equal(t, 90, cfg.Importer.HistoryRetentionDays)
	assert.Equal(t, "data", cfg.Refresh.DataDir)
	assert.Equal(t, "brave", cfg.Refresh.Provider)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 24, cfg.Server.IngestionStaleHours)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
search:
  provider: auto
  max_api_queries: 40
resolver:
  min_confidence: 0.9
  workers: 4
refresh:
  pre_commands:
    daily:
      - ./scrape --pages 500
log:
  level: debug
  format: console
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "auto", cfg.Search.Provider)
	assert.Equal(t, 40, cfg.Search.MaxAPIQueries)
	assert.InDelta(t, 0.9, cfg.Resolver.MinConfidence, 0.001)
	assert.Equal(t, 4, cfg.Resolver.Workers)
	assert.Equal(t, []string{"./scrape --pages 500"}, cfg.Refresh.PreCommands["daily"])
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Defaults still apply for unset values
	assert.Equal(t, 8, cfg.Search.MaxResults)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
search:
  provider: serper
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("WINEMATCH_SEARCH_PROVIDER", "brave")
	t.Setenv("WINEMATCH_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "brave", cfg.Search.Provider)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("WINEMATCH_SERVER_PORT", "3000")
	t.Setenv("WINEMATCH_RESOLVER_ONLY_NEW", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.False(t, cfg.Resolver.OnlyNew)
}

func TestLoadLegacyEnv(t *testing.T) {
	chdirTemp(t)

	t.Setenv("BRAVE_API_KEY", "brave-key")
	t.Setenv("GOOGLE_CSE_API_KEY", "google-key")
	t.Setenv("GOOGLE_CSE_ID", "cx")
	t.Setenv("VIVINO_AUTO_PROVIDER_ORDER", "brave,serper")
	t.Setenv("DATABASE_URL", "postgres://db/wines")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "brave-key", cfg.Search.BraveAPIKey)
	assert.Equal(t, "google-key", cfg.Search.GoogleAPIKey)
	assert.Equal(t, "cx", cfg.Search.GoogleCSEID)
	assert.Equal(t, "brave,serper", cfg.Search.AutoOrder)
	assert.Equal(t, "postgres://db/wines", cfg.Store.DatabaseURL)
}

func TestLoadPrefixedEnvWinsOverLegacy(t *testing.T) {
	chdirTemp(t)

	t.Setenv("BRAVE_API_KEY", "legacy")
	t.Setenv("WINEMATCH_SEARCH_BRAVE_API_KEY", "current")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "current", cfg.Search.BraveAPIKey)
}

func TestGatewayConfig(t *testing.T) {
	sc := SearchConfig{
		AutoOrder:        "brave",
		MaxResults:       5,
		SleepSeconds:     1.5,
		CacheTTLHours:    2,
		MaxAPIQueries:    40,
		RetryAttempts:    2,
		BreakerThreshold: 3,
	}
	gw := sc.Gateway()
	assert.Equal(t, "brave", gw.AutoOrder)
	assert.Equal(t, 5, gw.MaxResults)
	assert.Equal(t, 1500*time.Millisecond, gw.Interval)
	assert.Equal(t, 2*time.Hour, gw.CacheTTL)
	assert.Equal(t, 40, gw.MaxAPIQueries)
	assert.Equal(t, 2, gw.Retry.Attempts)
	assert.Equal(t, 3, gw.BreakerThreshold)
}

func TestResolverOptions(t *testing.T) {
	chdirTemp(t)
	cfg, err := Load()
	require.NoError(t, err)
	cfg.Resolver.Limit = 10

	opts := cfg.ResolverOptions()
	assert.Equal(t, cfg.Paths.Comparison, opts.Paths.Comparison)
	assert.Equal(t, cfg.Paths.QueryCache, opts.Paths.QueryCache)
	assert.Equal(t, "none", opts.Provider)
	assert.Equal(t, 10, opts.Limit)
	assert.True(t, opts.OnlyNew)
	assert.InDelta(t, 0.82, opts.Policy.MinConfidence, 0.001)
	assert.Equal(t, 168*time.Hour, opts.Search.CacheTTL)
}

func TestStoreConnection(t *testing.T) {
	tests := []struct {
		name   string
		cfg    StoreConfig
		driver string
		dsn    string
	}{
		{"sqlite url", StoreConfig{DatabaseURL: "sqlite:///./data/wines.db"}, "sqlite", "./data/wines.db"},
		{"plain path", StoreConfig{DatabaseURL: "wines.db"}, "sqlite", "wines.db"},
		{"empty", StoreConfig{}, "sqlite", "data/wines.db"},
		{"postgres url", StoreConfig{DatabaseURL: "postgres://u@h/db"}, "postgres", "postgres://u@h/db"},
		{"postgresql url", StoreConfig{DatabaseURL: "postgresql://u@h/db"}, "postgres", "postgresql://u@h/db"},
		{"explicit driver", StoreConfig{Driver: "Postgres", DatabaseURL: "host=h"}, "postgres", "host=h"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			driver, dsn := tt.cfg.Connection()
			assert.Equal(t, tt.driver, driver)
			assert.Equal(t, tt.dsn, dsn)
		})
	}
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Paths.Comparison = "comparison.csv"
	cfg.Paths.Ratings = "ratings.csv"
	cfg.Search.Provider = "none"
	cfg.Search.MaxResults = 8
	cfg.Resolver.MinConfidence = 0.82
	cfg.Resolver.MinMargin = 0.08
	cfg.Resolver.Workers = 1
	cfg.Store.DatabaseURL = "sqlite:///wines.db"
	cfg.Importer.HistoryRetentionDays = 90
	cfg.Refresh.DataDir = "data"
	cfg.Server.Port = 8080
	return cfg
}

func TestValidate_AllModesPass(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{"resolve", "import", "refresh", "serve"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidateResolve_BadValues(t *testing.T) {
	cfg := validDefaults()
	cfg.Search.Provider = "bing"
	cfg.Resolver.MinConfidence = 1.5
	cfg.Resolver.Workers = 0

	err := cfg.Validate("resolve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search.provider must be one of")
	assert.Contains(t, err.Error(), "resolver.min_confidence must be in (0,1]")
	assert.Contains(t, err.Error(), "resolver.workers must be between 1 and 16")
}

func TestValidateImport_MissingDatabase(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("import")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

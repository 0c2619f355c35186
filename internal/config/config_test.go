package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
log:
  level: debug
  format: json
ingestion:
  page_size: 50
  base_block_time: 1500ms
providers:
  helius:
    api_key: h-key
    rate_per_second: 2.5
cache:
  backend: redis
  redis_addr: localhost:6379
  ttl:
    history: 30m
patience:
  early_exit_pct: 75
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 50, cfg.Ingestion.PageSize)
	assert.Equal(t, 10, cfg.Ingestion.MaxPages, "unset keys keep defaults")
	assert.Equal(t, 1500*time.Millisecond, cfg.Ingestion.BaseBlockTime)
	assert.True(t, cfg.Providers.Helius.Configured())
	assert.False(t, cfg.Providers.Birdeye.Configured())
	assert.Equal(t, "https://api.helius.xyz", cfg.Providers.Helius.BaseURL)
	assert.Equal(t, 2.5, cfg.Providers.Helius.RatePerSecond)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL.History)
	assert.Equal(t, 2*time.Minute, cfg.Cache.TTL.Price)
	assert.Equal(t, 75.0, cfg.Patience.EarlyExitPct)
}

func TestParse_UnknownKey(t *testing.T) {
	_, err := Parse([]byte("patience:\n  window: 30\n"))
	assert.Error(t, err)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CONVICTION_PATIENCE_WINDOW_DAYS":    "30",
		"CONVICTION_HTTP_TIMEOUT":            "3s",
		"CONVICTION_BIRDEYE_API_KEY":         " b-key ",
		"CONVICTION_STORAGE_USE_MEMORY":      "true",
		"CONVICTION_ALCHEMY_RATE_PER_SECOND": "20",
	}
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))

	assert.Equal(t, 30, cfg.Patience.WindowDays)
	assert.Equal(t, 3*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, "b-key", cfg.Providers.Birdeye.APIKey)
	assert.True(t, cfg.Storage.UseMemory)
	assert.Equal(t, 20.0, cfg.Providers.Alchemy.RatePerSecond)
}

func TestApplyEnv_BadValue(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(func(k string) (string, bool) {
		if k == "CONVICTION_INGESTION_MAX_PAGES" {
			return "many", true
		}
		return "", false
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONVICTION_INGESTION_MAX_PAGES")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"page size", func(c *Config) { c.Ingestion.PageSize = 0 }, "ingestion.page_size"},
		{"block time", func(c *Config) { c.Ingestion.BaseBlockTime = 0 }, "ingestion.base_block_time"},
		{"redis addr", func(c *Config) { c.Cache.Backend = "redis" }, "cache.redis_addr"},
		{"cache backend", func(c *Config) { c.Cache.Backend = "memcached" }, "cache.backend"},
		{"window", func(c *Config) { c.Patience.WindowDays = -1 }, "patience.window_days"},
		{"solana rpc", func(c *Config) { c.Providers.SolanaRPC.BaseURL = "" }, "providers.solana_rpc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_ReportsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Server.Addr = ""
	cfg.Scoring.MinPopulation = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.addr")
	assert.Contains(t, err.Error(), "scoring.min_population")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conviction.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9090\"\npatience:\n  window_days: 60\n"), 0o600))
	t.Setenv("CONVICTION_PATIENCE_WINDOW_DAYS", "45")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 45, cfg.Patience.WindowDays, "environment wins over the file")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

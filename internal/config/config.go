// Package config loads runtime settings from a YAML file, the process
// environment and an optional .env file, in increasing precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CONVICTION_"

// Config is the full runtime configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	HTTP      HTTPConfig      `yaml:"http"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Providers ProvidersConfig `yaml:"providers"`
	Cache     CacheConfig     `yaml:"cache"`
	Patience  PatienceConfig  `yaml:"patience"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Storage   StorageConfig   `yaml:"storage"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console | json
}

type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// HTTPConfig applies to every upstream provider client.
type HTTPConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	InitialDelay     time.Duration `yaml:"initial_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	BreakerFailures  uint32        `yaml:"breaker_failures"`
	BreakerOpenDelay time.Duration `yaml:"breaker_open_delay"`
}

type IngestionConfig struct {
	PageSize      int           `yaml:"page_size"`
	MaxPages      int           `yaml:"max_pages"`
	BaseBlockTime time.Duration `yaml:"base_block_time"`
	LookbackDays  int           `yaml:"lookback_days"`
	Concurrency   int           `yaml:"concurrency"`
}

// ProviderConfig describes one upstream. RatePerSecond 0 disables limiting.
type ProviderConfig struct {
	BaseURL       string  `yaml:"base_url"`
	APIKey        string  `yaml:"api_key"`
	RatePerSecond float64 `yaml:"rate_per_second"`
}

// Configured reports whether a keyed provider can be used.
func (p ProviderConfig) Configured() bool {
	return p.APIKey != ""
}

// ProvidersConfig lists upstreams. Keyed providers without a key are
// skipped; the node RPC endpoints are the keyless last resort per chain.
type ProvidersConfig struct {
	Helius      ProviderConfig `yaml:"helius"`
	Birdeye     ProviderConfig `yaml:"birdeye"`
	SolanaRPC   ProviderConfig `yaml:"solana_rpc"`
	Alchemy     ProviderConfig `yaml:"alchemy"`
	Basescan    ProviderConfig `yaml:"basescan"`
	BaseRPC     ProviderConfig `yaml:"base_rpc"`
	DexScreener ProviderConfig `yaml:"dexscreener"`
	DefiLlama   ProviderConfig `yaml:"defillama"`
	Reputation  ProviderConfig `yaml:"reputation"`
}

type CacheConfig struct {
	Backend       string        `yaml:"backend"` // memory | redis
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	Prefix        string        `yaml:"prefix"`
	TTL           TTLConfig     `yaml:"ttl"`
	PatienceTTL   time.Duration `yaml:"patience_ttl"`
}

type TTLConfig struct {
	Metadata time.Duration `yaml:"metadata"`
	Price    time.Duration `yaml:"price"`
	History  time.Duration `yaml:"history"`
}

type PatienceConfig struct {
	WindowDays   int           `yaml:"window_days"`
	EarlyExitPct float64       `yaml:"early_exit_pct"`
	Granularity  time.Duration `yaml:"granularity"`
}

type ScoringConfig struct {
	MinPopulation int `yaml:"min_population"`
}

// StorageConfig selects persistence. Empty DSNs disable the store.
type StorageConfig struct {
	UseMemory     bool   `yaml:"use_memory"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log:    LogConfig{Level: "info", Format: "console"},
		Server: ServerConfig{Addr: ":8080", RequestTimeout: 60 * time.Second},
		HTTP: HTTPConfig{
			Timeout:          15 * time.Second,
			MaxRetries:       2,
			InitialDelay:     500 * time.Millisecond,
			MaxDelay:         5 * time.Second,
			BreakerFailures:  5,
			BreakerOpenDelay: 30 * time.Second,
		},
		Ingestion: IngestionConfig{
			PageSize:      100,
			MaxPages:      10,
			BaseBlockTime: 2 * time.Second,
			LookbackDays:  90,
			Concurrency:   8,
		},
		Providers: ProvidersConfig{
			Helius:      ProviderConfig{BaseURL: "https://api.helius.xyz", RatePerSecond: 10},
			Birdeye:     ProviderConfig{BaseURL: "https://public-api.birdeye.so", RatePerSecond: 15},
			SolanaRPC:   ProviderConfig{BaseURL: "https://api.mainnet-beta.solana.com", RatePerSecond: 5},
			Alchemy:     ProviderConfig{BaseURL: "https://base-mainnet.g.alchemy.com/v2", RatePerSecond: 10},
			Basescan:    ProviderConfig{BaseURL: "https://api.basescan.org/api", RatePerSecond: 5},
			BaseRPC:     ProviderConfig{BaseURL: "https://mainnet.base.org", RatePerSecond: 5},
			DexScreener: ProviderConfig{BaseURL: "https://api.dexscreener.com", RatePerSecond: 5},
			DefiLlama:   ProviderConfig{BaseURL: "https://coins.llama.fi", RatePerSecond: 5},
		},
		Cache: CacheConfig{
			Backend: "memory",
			Prefix:  "conviction:",
			TTL: TTLConfig{
				Metadata: time.Hour,
				Price:    2 * time.Minute,
				History:  15 * time.Minute,
			},
			PatienceTTL: 15 * time.Minute,
		},
		Patience: PatienceConfig{WindowDays: 90, EarlyExitPct: 50, Granularity: time.Hour},
		Scoring:  ScoringConfig{MinPopulation: 20},
	}
}

// Load builds a Config from defaults, then path (if non-empty), then the
// environment. A .env file in the working directory is loaded first when
// present; variables already set in the process win over it.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := cfg.decode(f); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without consulting the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from CONVICTION_* variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, b := range c.envBindings() {
		raw, ok := lookup(EnvPrefix + b.name)
		if !ok {
			continue
		}
		if err := b.set(strings.TrimSpace(raw)); err != nil {
			return fmt.Errorf("env %s%s: %w", EnvPrefix, b.name, err)
		}
	}
	return nil
}

type envBinding struct {
	name string
	set  func(string) error
}

func (c *Config) envBindings() []envBinding {
	b := []envBinding{
		str("LOG_LEVEL", &c.Log.Level),
		str("LOG_FORMAT", &c.Log.Format),
		str("SERVER_ADDR", &c.Server.Addr),
		dur("SERVER_REQUEST_TIMEOUT", &c.Server.RequestTimeout),
		dur("HTTP_TIMEOUT", &c.HTTP.Timeout),
		integer("HTTP_MAX_RETRIES", &c.HTTP.MaxRetries),
		dur("HTTP_INITIAL_DELAY", &c.HTTP.InitialDelay),
		integer("INGESTION_PAGE_SIZE", &c.Ingestion.PageSize),
		integer("INGESTION_MAX_PAGES", &c.Ingestion.MaxPages),
		dur("INGESTION_BASE_BLOCK_TIME", &c.Ingestion.BaseBlockTime),
		integer("INGESTION_LOOKBACK_DAYS", &c.Ingestion.LookbackDays),
		str("CACHE_BACKEND", &c.Cache.Backend),
		str("CACHE_REDIS_ADDR", &c.Cache.RedisAddr),
		str("CACHE_REDIS_PASSWORD", &c.Cache.RedisPassword),
		dur("CACHE_TTL_METADATA", &c.Cache.TTL.Metadata),
		dur("CACHE_TTL_PRICE", &c.Cache.TTL.Price),
		dur("CACHE_TTL_HISTORY", &c.Cache.TTL.History),
		integer("PATIENCE_WINDOW_DAYS", &c.Patience.WindowDays),
		float("PATIENCE_EARLY_EXIT_PCT", &c.Patience.EarlyExitPct),
		boolean("STORAGE_USE_MEMORY", &c.Storage.UseMemory),
		str("STORAGE_POSTGRES_DSN", &c.Storage.PostgresDSN),
		str("STORAGE_CLICKHOUSE_DSN", &c.Storage.ClickhouseDSN),
	}
	providers := map[string]*ProviderConfig{
		"HELIUS":      &c.Providers.Helius,
		"BIRDEYE":     &c.Providers.Birdeye,
		"SOLANA_RPC":  &c.Providers.SolanaRPC,
		"ALCHEMY":     &c.Providers.Alchemy,
		"BASESCAN":    &c.Providers.Basescan,
		"BASE_RPC":    &c.Providers.BaseRPC,
		"DEXSCREENER": &c.Providers.DexScreener,
		"DEFILLAMA":   &c.Providers.DefiLlama,
		"REPUTATION":  &c.Providers.Reputation,
	}
	for name, p := range providers {
		b = append(b,
			str(name+"_BASE_URL", &p.BaseURL),
			str(name+"_API_KEY", &p.APIKey),
			float(name+"_RATE_PER_SECOND", &p.RatePerSecond),
		)
	}
	return b
}

func str(name string, dst *string) envBinding {
	return envBinding{name, func(v string) error { *dst = v; return nil }}
}

func dur(name string, dst *time.Duration) envBinding {
	return envBinding{name, func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}}
}

func integer(name string, dst *int) envBinding {
	return envBinding{name, func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}}
}

func float(name string, dst *float64) envBinding {
	return envBinding{name, func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst = f
		return nil
	}}
}

func boolean(name string, dst *bool) envBinding {
	return envBinding{name, func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}}
}

// Validate reports every invalid value at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	check(c.Log.Format == "console" || c.Log.Format == "json", "log.format must be console or json, got %q", c.Log.Format)
	check(c.Server.Addr != "", "server.addr is required")
	check(c.Server.RequestTimeout > 0, "server.request_timeout must be positive")

	check(c.HTTP.Timeout > 0, "http.timeout must be positive")
	check(c.HTTP.MaxRetries >= 0, "http.max_retries must not be negative")
	check(c.HTTP.InitialDelay >= 0, "http.initial_delay must not be negative")

	check(c.Ingestion.PageSize > 0, "ingestion.page_size must be positive")
	check(c.Ingestion.MaxPages > 0, "ingestion.max_pages must be positive")
	check(c.Ingestion.BaseBlockTime > 0, "ingestion.base_block_time must be positive")
	check(c.Ingestion.LookbackDays > 0, "ingestion.lookback_days must be positive")

	check(c.Providers.SolanaRPC.BaseURL != "", "providers.solana_rpc.base_url is required")
	check(c.Providers.BaseRPC.BaseURL != "", "providers.base_rpc.base_url is required")

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		check(c.Cache.RedisAddr != "", "cache.redis_addr is required for the redis backend")
	default:
		errs = append(errs, fmt.Errorf("cache.backend must be memory or redis, got %q", c.Cache.Backend))
	}
	check(c.Cache.TTL.Metadata > 0 && c.Cache.TTL.Price > 0 && c.Cache.TTL.History > 0, "cache.ttl values must be positive")

	check(c.Patience.WindowDays > 0, "patience.window_days must be positive")
	check(c.Patience.EarlyExitPct > 0, "patience.early_exit_pct must be positive")
	check(c.Scoring.MinPopulation > 0, "scoring.min_population must be positive")

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"math"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"conviction-lab/internal/analysis"
	"conviction-lab/internal/cache"
	"conviction-lab/internal/config"
	"conviction-lab/internal/domain"
	"conviction-lab/internal/evm"
	"conviction-lab/internal/ingestion"
	"conviction-lab/internal/observability"
	"conviction-lab/internal/patience"
	"conviction-lab/internal/pricing"
	"conviction-lab/internal/provider/alchemy"
	"conviction-lab/internal/provider/basescan"
	"conviction-lab/internal/provider/birdeye"
	"conviction-lab/internal/provider/defillama"
	"conviction-lab/internal/provider/dexscreener"
	"conviction-lab/internal/provider/helius"
	"conviction-lab/internal/provider/httpx"
	"conviction-lab/internal/provider/reputation"
	"conviction-lab/internal/solana"
	"conviction-lab/internal/storage"
	chstore "conviction-lab/internal/storage/clickhouse"
	"conviction-lab/internal/storage/memory"
	"conviction-lab/internal/storage/migrations"
	pgstore "conviction-lab/internal/storage/postgres"
)

const metricsNamespace = "conviction"

// app holds every wired component of one process.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	registry *prometheus.Registry
	metrics  *observability.Metrics

	cache        cache.Cache
	pricing      *pricing.Service
	orchestrator *ingestion.Orchestrator
	analysis     *analysis.Service

	birdeyes map[domain.Chain]*birdeye.Client
	closers  []func()
}

// buildApp wires providers, cache, stores and services from cfg.
func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		metrics:  observability.NewMetrics(metricsNamespace, reg),
		birdeyes: make(map[domain.Chain]*birdeye.Client),
	}

	if err := a.buildCache(ctx); err != nil {
		a.Close()
		return nil, err
	}
	convictions, storeName, archive, err := a.buildStores(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	solanaRPC := solana.NewHTTPClient(cfg.Providers.SolanaRPC.BaseURL, a.httpClient(solana.Name, cfg.Providers.SolanaRPC))
	baseRPC, err := evm.Dial(ctx, cfg.Providers.BaseRPC.BaseURL)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, baseRPC.Close)

	a.pricing = pricing.NewService(pricing.Options{
		Sources: map[domain.Chain]pricing.ChainSources{
			domain.ChainSolana: a.pricingSources(domain.ChainSolana, solana.NewMetadataSource(solanaRPC)),
			domain.ChainBase:   a.pricingSources(domain.ChainBase, evm.NewMetadataSource(baseRPC)),
		},
		Cache:       a.cache,
		Archive:     archive,
		PriceTTL:    cfg.Cache.TTL.Price,
		HistoryTTL:  cfg.Cache.TTL.History,
		MetadataTTL: cfg.Cache.TTL.Metadata,
		Metrics:     a.metrics,
		Logger:      logger,
	})

	tradeSources := map[domain.Chain][]ingestion.TradeSource{
		domain.ChainSolana: a.solanaTradeSources(solanaRPC),
		domain.ChainBase:   a.baseTradeSources(baseRPC),
	}
	a.orchestrator = ingestion.NewOrchestrator(ingestion.Options{
		Sources: tradeSources,
		Market:  a.pricing,
		Metrics: a.metrics,
		Logger:  logger,
	})

	engine := patience.NewEngine(a.pricing, patience.Options{
		WindowDays:   cfg.Patience.WindowDays,
		EarlyExitPct: cfg.Patience.EarlyExitPct,
		Granularity:  cfg.Patience.Granularity,
		Cache:        a.cache,
		TTL:          cfg.Cache.PatienceTTL,
		Metrics:      a.metrics,
		Logger:       logger,
	})

	opts := analysis.Options{
		Ingester:      a.orchestrator,
		Patience:      engine,
		Store:         convictions,
		StoreName:     storeName,
		MinPopulation: cfg.Scoring.MinPopulation,
		Metrics:       a.metrics,
		Logger:        logger,
	}
	if p := cfg.Providers.Reputation; p.BaseURL != "" {
		var extra []httpx.ClientOption
		if p.APIKey != "" {
			extra = append(extra, httpx.WithHeader("Authorization", "Bearer "+p.APIKey))
		}
		opts.Reputation = reputation.New(p.BaseURL, a.httpClient(reputation.Name, p, extra...))
	}
	a.analysis = analysis.NewService(opts)

	logger.Info().
		Strs("solana_sources", sourceNames(tradeSources[domain.ChainSolana])).
		Strs("base_sources", sourceNames(tradeSources[domain.ChainBase])).
		Str("cache", cfg.Cache.Backend).
		Str("store", storeName).
		Msg("components wired")
	return a, nil
}

// Close releases connections in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// httpClient builds the shared upstream client for one provider.
func (a *app) httpClient(name string, p config.ProviderConfig, extra ...httpx.ClientOption) *httpx.Client {
	h := a.cfg.HTTP
	opts := []httpx.ClientOption{
		httpx.WithTimeout(h.Timeout),
		httpx.WithMaxRetries(h.MaxRetries),
		httpx.WithRetryDelay(h.InitialDelay),
		httpx.WithMaxDelay(h.MaxDelay),
		httpx.WithBreaker(h.BreakerFailures, h.BreakerOpenDelay),
		httpx.WithMetrics(a.metrics),
		httpx.WithLogger(a.logger),
	}
	if p.RatePerSecond > 0 {
		opts = append(opts, httpx.WithRateLimit(p.RatePerSecond, int(math.Max(1, math.Ceil(p.RatePerSecond)))))
	}
	return httpx.New(name, append(opts, extra...)...)
}

// solanaTradeSources: Helius, then Birdeye, then the node.
func (a *app) solanaTradeSources(rpc solana.RPCClient) []ingestion.TradeSource {
	cfg := a.cfg
	var out []ingestion.TradeSource
	if p := cfg.Providers.Helius; p.Configured() {
		out = append(out, helius.New(helius.Config{
			BaseURL:  p.BaseURL,
			APIKey:   p.APIKey,
			PageSize: cfg.Ingestion.PageSize,
			MaxPages: cfg.Ingestion.MaxPages,
			Logger:   a.logger,
		}, a.httpClient(helius.Name, p)))
	}
	if p := cfg.Providers.Birdeye; p.Configured() {
		out = append(out, a.birdeye(domain.ChainSolana))
	}
	return append(out, solana.NewSource(rpc, solana.SourceConfig{
		PageSize:    cfg.Ingestion.PageSize,
		MaxPages:    cfg.Ingestion.MaxPages,
		Concurrency: cfg.Ingestion.Concurrency,
		Logger:      a.logger,
	}))
}

// baseTradeSources: Alchemy, then Basescan, then the node's transfer logs.
func (a *app) baseTradeSources(client evm.ChainReader) []ingestion.TradeSource {
	cfg := a.cfg
	var out []ingestion.TradeSource
	if p := cfg.Providers.Alchemy; p.Configured() {
		out = append(out, alchemy.New(alchemy.Config{
			BaseURL:   p.BaseURL,
			APIKey:    p.APIKey,
			BlockTime: cfg.Ingestion.BaseBlockTime,
			MaxPages:  cfg.Ingestion.MaxPages,
		}, a.httpClient(alchemy.Name, p)))
	}
	if p := cfg.Providers.Basescan; p.Configured() {
		out = append(out, basescan.New(basescan.Config{
			BaseURL:  p.BaseURL,
			APIKey:   p.APIKey,
			PageSize: cfg.Ingestion.PageSize,
			MaxPages: cfg.Ingestion.MaxPages,
		}, a.httpClient(basescan.Name, p)))
	}
	return append(out, evm.NewSource(client, evm.SourceConfig{
		BlockTime:   cfg.Ingestion.BaseBlockTime,
		MaxPages:    cfg.Ingestion.MaxPages,
		Concurrency: cfg.Ingestion.Concurrency,
		Logger:      a.logger,
	}))
}

// birdeye returns one client per chain so trade and price calls share a
// rate limiter.
func (a *app) birdeye(chain domain.Chain) *birdeye.Client {
	if c, ok := a.birdeyes[chain]; ok {
		return c
	}
	p := a.cfg.Providers.Birdeye
	c := birdeye.New(birdeye.Config{
		BaseURL:  p.BaseURL,
		PageSize: a.cfg.Ingestion.PageSize,
		MaxPages: a.cfg.Ingestion.MaxPages,
	}, chain, a.httpClient(birdeye.Name, p, birdeye.Headers(p.APIKey, chain)...))
	a.birdeyes[chain] = c
	return c
}

func sourceNames(sources []ingestion.TradeSource) []string {
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = s.Name()
	}
	return names
}

// pricingSources orders price providers per chain: Birdeye when keyed,
// then DexScreener, then DefiLlama. The node answers metadata last.
func (a *app) pricingSources(chain domain.Chain, node pricing.MetadataSource) pricing.ChainSources {
	p := a.cfg.Providers
	dex := dexscreener.New(p.DexScreener.BaseURL, chain, a.httpClient(dexscreener.Name, p.DexScreener))
	llama := defillama.New(p.DefiLlama.BaseURL, chain, a.httpClient(defillama.Name, p.DefiLlama))

	var src pricing.ChainSources
	if p.Birdeye.Configured() {
		be := a.birdeye(chain)
		src.Prices = append(src.Prices, be)
		src.History = append(src.History, be)
		src.Metadata = append(src.Metadata, be)
	}
	src.Prices = append(src.Prices, dex, llama)
	src.History = append(src.History, llama)
	src.Metadata = append(src.Metadata, dex, llama, node)
	return src
}

func (a *app) buildCache(ctx context.Context) error {
	c := a.cfg.Cache
	switch c.Backend {
	case "redis":
		client, err := cache.NewRedisClient(ctx, c.RedisAddr, c.RedisPassword, c.RedisDB)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { client.Close() })
		a.cache = cache.NewRedis(client, cache.RedisOptions{Prefix: c.Prefix, Logger: a.logger, Metrics: a.metrics})
	default:
		mem := cache.NewMemory(cache.WithMemoryMetrics(a.metrics))
		go mem.Run(ctx, cache.DefaultPurgeInterval)
		a.cache = mem
	}
	return nil
}

// buildStores returns the snapshot sink and the price archive. Either may
// be nil when its DSN is not configured.
func (a *app) buildStores(ctx context.Context) (storage.ConvictionStore, string, storage.PriceHistoryStore, error) {
	s := a.cfg.Storage
	if s.UseMemory {
		return memory.NewConvictionStore(), "memory", memory.NewPriceHistoryStore(), nil
	}

	var (
		convictions storage.ConvictionStore
		storeName   string
		archive     storage.PriceHistoryStore
	)
	if s.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, s.PostgresDSN)
		if err != nil {
			return nil, "", nil, fmt.Errorf("postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if err := migrations.RunPostgresMigrations(ctx, pool, a.logger); err != nil {
			return nil, "", nil, fmt.Errorf("postgres migrations: %w", err)
		}
		convictions, storeName = pgstore.NewConvictionStore(pool, a.metrics), "postgres"
	}
	if s.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, s.ClickhouseDSN, a.logger)
		if err != nil {
			return nil, "", nil, fmt.Errorf("clickhouse: %w", err)
		}
		a.closers = append(a.closers, func() { conn.Close() })
		archive = chstore.NewPriceHistoryStore(conn, a.metrics)
	}
	if convictions == nil {
		a.logger.Warn().Msg("no snapshot store configured: percentiles use the score fallback and leaderboard is disabled")
	}
	return convictions, storeName, archive, nil
}

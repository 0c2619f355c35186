// Package pricing resolves current prices, price history and token metadata
// through ordered per-chain provider lists behind the shared cache.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"conviction-lab/internal/cache"
	"conviction-lab/internal/domain"
	"conviction-lab/internal/idhash"
	"conviction-lab/internal/lookup"
	"conviction-lab/internal/normalization"
	"conviction-lab/internal/observability"
	"conviction-lab/internal/provider"
	"conviction-lab/internal/storage"
)

// ErrNoPrice is returned when no provider of a chain could price a token.
var ErrNoPrice = errors.New("no price available")

// ErrHistoryUnavailable is returned when a history provider failed and
// neither the others nor the archive had data for the window. Unlike an
// empty answer, the window may have data once providers recover.
var ErrHistoryUnavailable = errors.New("price history unavailable")

// errNoHistory keeps empty history windows out of the cache.
var errNoHistory = errors.New("no price history")

// PriceSource reports the current USD price of a token.
type PriceSource interface {
	Name() string
	CurrentPrice(ctx context.Context, token string) (float64, error)
}

// HistorySource reports USD price points inside a window.
type HistorySource interface {
	Name() string
	PriceHistory(ctx context.Context, token string, window domain.Window) ([]domain.PricePoint, error)
}

// MetadataSource reports token name, symbol and decimals.
type MetadataSource interface {
	Name() string
	TokenMetadata(ctx context.Context, token string) (*domain.TokenMetadata, error)
}

// ChainSources lists the providers of one chain in fallback order.
type ChainSources struct {
	Prices   []PriceSource
	History  []HistorySource
	Metadata []MetadataSource
}

// Default cache TTLs and fan-out.
const (
	DefaultPriceTTL    = 2 * time.Minute
	DefaultHistoryTTL  = 15 * time.Minute
	DefaultMetadataTTL = time.Hour
	DefaultConcurrency = 8
)

// Options configures Service.
type Options struct {
	Sources map[domain.Chain]ChainSources

	// Cache may be nil: every lookup then goes upstream.
	Cache cache.Cache

	// Archive, when set, receives every fetched history window and is read
	// when all history providers come back empty.
	Archive storage.PriceHistoryStore

	PriceTTL    time.Duration
	HistoryTTL  time.Duration
	MetadataTTL time.Duration
	Concurrency int

	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

// Service is safe for concurrent use by many analyses.
type Service struct {
	opts   Options
	logger zerolog.Logger
}

// NewService creates a pricing service.
func NewService(opts Options) *Service {
	if opts.PriceTTL <= 0 {
		opts.PriceTTL = DefaultPriceTTL
	}
	if opts.HistoryTTL <= 0 {
		opts.HistoryTTL = DefaultHistoryTTL
	}
	if opts.MetadataTTL <= 0 {
		opts.MetadataTTL = DefaultMetadataTTL
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Service{opts: opts, logger: opts.Logger.With().Str("component", "pricing").Logger()}
}

// CurrentPrice returns the first positive price reported by the chain's
// price providers.
func (s *Service) CurrentPrice(ctx context.Context, chain domain.Chain, token string) (float64, error) {
	key := "price:" + chain.String() + ":" + token
	return cache.GetOrCompute(ctx, s.opts.Cache, key, s.opts.PriceTTL, func(ctx context.Context) (float64, error) {
		var lastErr error
		for _, src := range s.opts.Sources[chain].Prices {
			price, err := src.CurrentPrice(ctx, token)
			if err == nil && price > 0 {
				return price, nil
			}
			if err == nil {
				err = provider.ErrNoData
			}
			lastErr = err
			s.skip(chain, src.Name(), token, "price", err)
		}
		if lastErr != nil {
			return 0, fmt.Errorf("%w for %s on %s: %v", ErrNoPrice, token, chain, lastErr)
		}
		return 0, fmt.Errorf("%w for %s on %s", ErrNoPrice, token, chain)
	})
}

// NativePrice returns the USD price of the chain's native coin, or 0 when
// it cannot be priced. Trades settled in the native coin then carry no USD
// value instead of failing ingestion.
func (s *Service) NativePrice(ctx context.Context, chain domain.Chain) float64 {
	addr := normalization.DefaultRegistry(chain).NativePriceAddress()
	if addr == "" {
		return 0
	}
	price, err := s.CurrentPrice(ctx, chain, addr)
	if err != nil {
		s.logger.Warn().Err(err).Str("chain", chain.String()).Msg("native price unavailable")
		return 0
	}
	return price
}

// PriceHistory returns the points of the first history provider that has
// data for window. An empty result is not an error and is not cached. When
// a provider failed and nothing else had data it returns
// ErrHistoryUnavailable.
func (s *Service) PriceHistory(ctx context.Context, chain domain.Chain, token string, window domain.Window) ([]domain.PricePoint, error) {
	key := idhash.ComputeWindowKey("history", chain.String(), token, window.FromMs, window.ToMs)
	points, err := cache.GetOrCompute(ctx, s.opts.Cache, key, s.opts.HistoryTTL, func(ctx context.Context) ([]domain.PricePoint, error) {
		return s.fetchHistory(ctx, chain, token, window)
	})
	if errors.Is(err, errNoHistory) {
		return nil, nil
	}
	return points, err
}

func (s *Service) fetchHistory(ctx context.Context, chain domain.Chain, token string, window domain.Window) ([]domain.PricePoint, error) {
	var lastErr error
	for _, src := range s.opts.Sources[chain].History {
		points, err := src.PriceHistory(ctx, token, window)
		if err == nil {
			points = lookup.Within(points, window)
		}
		if err == nil && len(points) > 0 {
			s.archive(ctx, chain, token, points)
			return points, nil
		}
		if err == nil {
			err = provider.ErrNoData
		}
		if !isEmptyAnswer(err) {
			lastErr = err
		}
		s.skip(chain, src.Name(), token, "history", err)
	}

	if s.opts.Archive != nil {
		points, err := s.opts.Archive.GetByTimeRange(ctx, chain, token, window.FromMs, window.ToMs)
		if err != nil {
			s.logger.Warn().Err(err).Str("token", token).Msg("price archive read failed")
		} else if len(points) > 0 {
			s.logger.Debug().Str("token", token).Int("points", len(points)).Msg("history served from archive")
			return points, nil
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w for %s on %s: %w", ErrHistoryUnavailable, token, chain, lastErr)
	}
	return nil, errNoHistory
}

func (s *Service) archive(ctx context.Context, chain domain.Chain, token string, points []domain.PricePoint) {
	if s.opts.Archive == nil {
		return
	}
	if err := s.opts.Archive.InsertBulk(ctx, chain, token, points); err != nil {
		s.logger.Warn().Err(err).Str("token", token).Msg("price archive write failed")
	}
}

// TokenMetadata returns the first metadata a provider reports for token.
// Missing fields are filled from later providers while any remain.
func (s *Service) TokenMetadata(ctx context.Context, chain domain.Chain, token string) (*domain.TokenMetadata, error) {
	key := "meta:" + chain.String() + ":" + token
	return cache.GetOrCompute(ctx, s.opts.Cache, key, s.opts.MetadataTTL, func(ctx context.Context) (*domain.TokenMetadata, error) {
		var merged *domain.TokenMetadata
		for _, src := range s.opts.Sources[chain].Metadata {
			meta, err := src.TokenMetadata(ctx, token)
			if err == nil && meta == nil {
				err = provider.ErrNoData
			}
			if err != nil {
				s.skip(chain, src.Name(), token, "metadata", err)
				continue
			}
			if merged == nil {
				merged = meta
			} else {
				fillMetadata(merged, meta)
			}
			if merged.Symbol != "" && merged.HasDecimals() {
				break
			}
		}
		if merged == nil {
			return nil, fmt.Errorf("metadata for %s on %s: %w", token, chain, provider.ErrNoData)
		}
		return merged, nil
	})
}

func fillMetadata(dst, src *domain.TokenMetadata) {
	if dst.Name == "" {
		dst.Name = src.Name
	}
	if dst.Symbol == "" {
		dst.Symbol = src.Symbol
	}
	if !dst.HasDecimals() {
		dst.Decimals = src.Decimals
	}
	if dst.LogoURI == "" {
		dst.LogoURI = src.LogoURI
	}
}

// Symbols resolves symbols for tokens in parallel. Tokens without metadata
// are left out of the result.
func (s *Service) Symbols(ctx context.Context, chain domain.Chain, tokens []string) map[string]string {
	out := make(map[string]string, len(tokens))
	var mu sync.Mutex
	s.each(ctx, tokens, func(ctx context.Context, token string) {
		meta, err := s.TokenMetadata(ctx, chain, token)
		if err != nil || meta.Symbol == "" {
			return
		}
		mu.Lock()
		out[token] = meta.Symbol
		mu.Unlock()
	})
	return out
}

// Prices resolves current prices for tokens in parallel. Unpriced tokens
// are left out of the result.
func (s *Service) Prices(ctx context.Context, chain domain.Chain, tokens []string) map[string]float64 {
	out := make(map[string]float64, len(tokens))
	var mu sync.Mutex
	s.each(ctx, tokens, func(ctx context.Context, token string) {
		price, err := s.CurrentPrice(ctx, chain, token)
		if err != nil {
			return
		}
		mu.Lock()
		out[token] = price
		mu.Unlock()
	})
	return out
}

// each runs fn once per unique token with bounded parallelism.
func (s *Service) each(ctx context.Context, tokens []string, fn func(ctx context.Context, token string)) {
	seen := make(map[string]struct{}, len(tokens))
	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for _, token := range tokens {
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		g.Go(func() error {
			fn(ctx, token)
			return nil
		})
	}
	g.Wait()
}

func (s *Service) skip(chain domain.Chain, name, token, kind string, err error) {
	reason := "error"
	if isEmptyAnswer(err) {
		reason = "empty"
	}
	s.opts.Metrics.RecordFallback(chain.String(), name, kind+"_"+reason)
	s.logger.Debug().Err(err).Str("provider", name).Str("chain", chain.String()).Str("token", token).Str("kind", kind).Msg("provider fell through")
}

// isEmptyAnswer reports whether err means the provider answered without data.
func isEmptyAnswer(err error) bool {
	return errors.Is(err, provider.ErrNoData) || provider.IsNotFound(err)
}

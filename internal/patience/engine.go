// Package patience computes the post-exit counterfactual of closed
// positions: what the realized proceeds would have been worth at the best
// price reached after the wallet sold.
package patience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"conviction-lab/internal/cache"
	"conviction-lab/internal/domain"
	"conviction-lab/internal/idhash"
	"conviction-lab/internal/lookup"
	"conviction-lab/internal/observability"
)

// Engine defaults.
const (
	DefaultWindowDays   = 90
	DefaultEarlyExitPct = 50.0
	DefaultGranularity  = time.Hour
	DefaultTTL          = 15 * time.Minute
	DefaultConcurrency  = 8
)

// HistoryProvider supplies post-exit price history. An empty result with a
// nil error means no provider has data for the window; an error means the
// window could not be fetched.
type HistoryProvider interface {
	PriceHistory(ctx context.Context, chain domain.Chain, token string, window domain.Window) ([]domain.PricePoint, error)
}

// errEmptyHistory keeps windows without usable points out of the cache.
var errEmptyHistory = errors.New("empty price history")

// Options configures Engine.
type Options struct {
	WindowDays   int
	EarlyExitPct float64 // exits that missed more than this gain are early

	// Granularity truncates a window that ends at the current time so
	// repeated analyses of the same exit share cache keys.
	Granularity time.Duration
	Cache       cache.Cache
	TTL         time.Duration
	Concurrency int

	Metrics *observability.Metrics
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Engine is safe for concurrent use.
type Engine struct {
	history HistoryProvider
	opts    Options
	logger  zerolog.Logger
}

// NewEngine creates a patience-tax engine.
func NewEngine(history HistoryProvider, opts Options) *Engine {
	if opts.WindowDays <= 0 {
		opts.WindowDays = DefaultWindowDays
	}
	if opts.EarlyExitPct <= 0 {
		opts.EarlyExitPct = DefaultEarlyExitPct
	}
	if opts.Granularity <= 0 {
		opts.Granularity = DefaultGranularity
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		history: history,
		opts:    opts,
		logger:  opts.Logger.With().Str("component", "patience").Logger(),
	}
}

// peak is the token-level part of an analysis, shared by every position
// that exited the token at the same time.
type peak struct {
	Max         domain.PricePoint `json:"max"`
	PriceAtExit float64           `json:"priceAtExit"`
	Points      int               `json:"points"`
}

// Window returns the post-exit window [exit, min(now, exit+WindowDays)] for
// an exit at exitMs. Only an end set by the current time is truncated to
// Granularity; a full window keeps its exact end.
func (e *Engine) Window(exitMs int64) domain.Window {
	end := exitMs + int64(e.opts.WindowDays)*24*time.Hour.Milliseconds()
	if now := e.opts.Now().UnixMilli(); now < end {
		end = now - now%e.opts.Granularity.Milliseconds()
	}
	if end < exitMs {
		end = exitMs
	}
	return domain.Window{FromMs: exitMs, ToMs: end}
}

// Analyze returns nil for positions without exits. Missing history gives a
// zero-tax result anchored at the last exit, never an error.
func (e *Engine) Analyze(ctx context.Context, chain domain.Chain, p *domain.Position) (*domain.PatienceTaxAnalysis, error) {
	last := p.LastExit()
	if last == nil {
		return nil, nil
	}

	window := e.Window(last.TimestampMs)
	key := idhash.ComputeWindowKey("patience", chain.String(), p.TokenAddress, window.FromMs, window.ToMs)
	pk, err := cache.GetOrCompute(ctx, e.opts.Cache, key, e.opts.TTL, func(ctx context.Context) (peak, error) {
		points, err := e.history.PriceHistory(ctx, chain, p.TokenAddress, window)
		if err != nil {
			return peak{}, err
		}
		top, err := lookup.MaxAt(points)
		if err != nil {
			return peak{}, errEmptyHistory
		}
		out := peak{Max: top, Points: len(points)}
		if price, err := lookup.PriceAt(window.FromMs, points); err == nil {
			out.PriceAtExit = price
		}
		return out, nil
	})
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, errEmptyHistory):
		pk = peak{}
	default:
		e.logger.Warn().Err(err).Str("token", p.TokenAddress).Msg("price history failed")
		pk = peak{}
	}

	exitPrice := last.UnitPriceUSD
	if exitPrice <= 0 {
		exitPrice = pk.PriceAtExit
	}
	if pk.Points == 0 || exitPrice <= 0 {
		e.opts.Metrics.RecordHistoryMiss(chain.String())
		return zeroTax(p, last), nil
	}

	a := compute(p.TotalRealizedUSD, exitPrice, last.TimestampMs, pk.Max, e.opts.EarlyExitPct)
	a.HistoryPoints = pk.Points
	return a, nil
}

// compute treats the exit price as a floor for the post-exit peak.
func compute(realized, exitPrice float64, exitMs int64, top domain.PricePoint, earlyExitPct float64) *domain.PatienceTaxAnalysis {
	peakPrice, peakMs := exitPrice, exitMs
	if top.PriceUSD > exitPrice {
		peakPrice, peakMs = top.PriceUSD, top.TimestampMs
	}
	multiplier := peakPrice / exitPrice
	missed := (multiplier - 1) * 100

	return &domain.PatienceTaxAnalysis{
		PatienceTaxUSD:           max(0, realized*(multiplier-1)),
		MaxMissedGainPct:         missed,
		MaxMissedGainTimestampMs: peakMs,
		WouldBeValueUSD:          realized * multiplier,
		IsEarlyExit:              missed > earlyExitPct,
	}
}

func zeroTax(p *domain.Position, last *domain.Trade) *domain.PatienceTaxAnalysis {
	return &domain.PatienceTaxAnalysis{
		MaxMissedGainTimestampMs: last.TimestampMs,
		WouldBeValueUSD:          p.TotalRealizedUSD,
	}
}

// EnrichAll analyzes every position with exits in parallel and sets
// Position.PatienceTax. It returns only when all analyses are done.
func (e *Engine) EnrichAll(ctx context.Context, chain domain.Chain, positions []*domain.Position) error {
	results := make([]*domain.PatienceTaxAnalysis, len(positions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for i, p := range positions {
		if len(p.Exits) == 0 {
			continue
		}
		g.Go(func() error {
			a, err := e.Analyze(gctx, chain, p)
			if err != nil {
				return fmt.Errorf("patience tax %s: %w", p.TokenAddress, err)
			}
			results[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, a := range results {
		if a != nil {
			positions[i].PatienceTax = a
		}
	}
	return nil
}

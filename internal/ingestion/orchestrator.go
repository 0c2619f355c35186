// Package ingestion fetches a wallet's trade history through an ordered list
// of providers per chain and normalizes it into deduplicated trades.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"conviction-lab/internal/domain"
	"conviction-lab/internal/normalization"
	"conviction-lab/internal/observability"
	"conviction-lab/internal/provider"
)

// ErrAllProvidersExhausted is returned when every provider of a chain failed.
// It is fatal for the request and never reported as an empty history.
var ErrAllProvidersExhausted = errors.New("ingestion failed")

// DefaultLookbackDays is used when a request does not set LookbackDays.
const DefaultLookbackDays = 90

// Request describes one ingestion.
type Request struct {
	Address          string
	Chain            domain.Chain
	LookbackDays     int
	MinTradeValueUSD float64
}

// Attempt records the outcome of one provider call.
type Attempt struct {
	Provider string `json:"provider"`
	Records  int    `json:"records"`
	Error    string `json:"error,omitempty"`
}

// Result is the output of a successful ingestion.
type Result struct {
	Trades   []*domain.Trade      `json:"transactions"`
	Quality  domain.QualityReport `json:"quality"`
	Window   domain.Window        `json:"-"`
	Attempts []Attempt            `json:"attempts,omitempty"`
}

// Options configures an Orchestrator.
type Options struct {
	// Sources lists trade providers per chain in priority order.
	Sources map[domain.Chain][]TradeSource

	// Market may be nil: native legs then carry no USD value and symbols
	// are left as reported.
	Market MarketData

	Metrics *observability.Metrics
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Orchestrator runs ingestion requests. It holds no per-request state and
// is safe for concurrent use.
type Orchestrator struct {
	sources map[domain.Chain][]TradeSource
	market  MarketData
	metrics *observability.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// NewOrchestrator creates a new orchestrator.
func NewOrchestrator(opts Options) *Orchestrator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		sources: opts.Sources,
		market:  opts.Market,
		metrics: opts.Metrics,
		logger:  opts.Logger.With().Str("component", "ingestion").Logger(),
		now:     now,
	}
}

// Window returns the lookback window of req ending now.
func (o *Orchestrator) Window(req Request) domain.Window {
	days := req.LookbackDays
	if days <= 0 {
		days = DefaultLookbackDays
	}
	end := o.now().UnixMilli()
	return domain.Window{FromMs: end - int64(days)*24*time.Hour.Milliseconds(), ToMs: end}
}

// Ingest walks the chain's providers in order. The first provider that
// returns records wins and no other provider's records are mixed in.
// A provider that errors or returns nothing is skipped. When all providers
// were skipped and at least one answered without error, the result is an
// empty history; when all errored, ErrAllProvidersExhausted is returned.
func (o *Orchestrator) Ingest(ctx context.Context, req Request) (*Result, error) {
	if err := ValidateAddress(req.Chain, req.Address); err != nil {
		return nil, err
	}
	sources := o.sources[req.Chain]
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no providers configured for %s", ErrAllProvidersExhausted, req.Chain)
	}

	window := o.Window(req)
	res := &Result{Window: window}
	log := o.logger.With().Str("chain", req.Chain.String()).Str("wallet", req.Address).Logger()

	var (
		records  []normalization.RawTrade
		winner   string
		answered bool
		lastErr  error
	)
	for _, src := range sources {
		start := time.Now()
		recs, err := src.FetchTrades(ctx, req.Address, window)
		elapsed := time.Since(start)

		attempt := Attempt{Provider: src.Name(), Records: len(recs)}
		switch {
		case errors.Is(err, provider.ErrNoData):
			answered = true
			attempt.Records = 0
			attempt.Error = err.Error()
			o.metrics.RecordFallback(req.Chain.String(), src.Name(), "empty")
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			attempt.Records = 0
			attempt.Error = err.Error()
			o.metrics.RecordFallback(req.Chain.String(), src.Name(), "error")
			log.Warn().Err(err).Str("provider", src.Name()).Dur("elapsed", elapsed).Msg("provider failed, falling back")
		case len(recs) == 0:
			answered = true
			o.metrics.RecordFallback(req.Chain.String(), src.Name(), "empty")
			log.Info().Str("provider", src.Name()).Msg("provider returned no trades, falling back")
		default:
			records, winner = recs, src.Name()
		}
		res.Attempts = append(res.Attempts, attempt)
		if winner != "" {
			break
		}
	}

	if winner == "" {
		if !answered {
			o.metrics.RecordIngestion(req.Chain.String(), "failed", 0, 0)
			log.Error().Err(lastErr).Int("providers", len(sources)).Msg("all providers failed")
			return nil, fmt.Errorf("%w: %d providers for %s: %v", ErrAllProvidersExhausted, len(sources), req.Chain, lastErr)
		}
		o.metrics.RecordIngestion(req.Chain.String(), "empty", 0, 0)
		res.Trades = []*domain.Trade{}
		res.Quality = BuildQualityReport(domain.QualityReport{}, nil)
		return res, nil
	}

	var nativePrice float64
	if o.market != nil {
		nativePrice = o.market.NativePrice(ctx, req.Chain)
	}
	batch := normalization.New(normalization.DefaultRegistry(req.Chain), nativePrice).NormalizeAll(records)

	o.enrich(ctx, req.Chain, batch.Trades)

	trades, dupes := DedupeTrades(batch.Trades)
	trades, belowMin := FilterMinValue(trades, req.MinTradeValueUSD)
	if err := ValidateTradeOrdering(trades); err != nil {
		o.metrics.RecordIngestion(req.Chain.String(), "failed", 0, 0)
		log.Error().Err(err).Str("provider", winner).Msg("trade ordering check failed")
		return nil, fmt.Errorf("ingest %s from %s: %w", req.Chain, winner, err)
	}

	res.Trades = trades
	res.Quality = BuildQualityReport(domain.QualityReport{
		TotalRaw:        batch.Raw,
		InvalidFiltered: batch.Invalid,
		Skipped:         batch.Skipped,
		BelowMinValue:   belowMin,
		Duplicates:      dupes,
		Provider:        winner,
	}, trades)

	o.metrics.RecordIngestion(req.Chain.String(), "ok", len(trades), batch.Invalid)
	log.Info().
		Str("provider", winner).
		Int("raw", batch.Raw).
		Int("trades", len(trades)).
		Int("invalid", batch.Invalid).
		Int("skipped", batch.Skipped).
		Msg("ingestion complete")
	return res, nil
}

// enrich fills missing symbols from token metadata and prices trades the
// normalizer could not value with the token's current price.
func (o *Orchestrator) enrich(ctx context.Context, chain domain.Chain, trades []*domain.Trade) {
	if o.market == nil || len(trades) == 0 {
		return
	}

	var unlabeled, unpriced []string
	for _, t := range trades {
		if t.TokenSymbol == "" {
			unlabeled = append(unlabeled, t.TokenAddress)
		}
		if t.ValueUSD == 0 && t.Amount > 0 {
			unpriced = append(unpriced, t.TokenAddress)
		}
	}

	if len(unlabeled) > 0 {
		symbols := o.market.Symbols(ctx, chain, unlabeled)
		for _, t := range trades {
			if t.TokenSymbol == "" {
				t.TokenSymbol = symbols[t.TokenAddress]
			}
		}
	}
	if len(unpriced) > 0 {
		prices := o.market.Prices(ctx, chain, unpriced)
		for _, t := range trades {
			if t.ValueUSD == 0 && t.Amount > 0 {
				if price, ok := prices[t.TokenAddress]; ok {
					t.UnitPriceUSD = price
					t.ValueUSD = price * t.Amount
				}
			}
		}
	}
}

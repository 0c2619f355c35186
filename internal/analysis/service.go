// Package analysis runs the wallet pipeline end to end:
// ingestion → positions → patience tax → conviction score → snapshot.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"conviction-lab/internal/conviction"
	"conviction-lab/internal/domain"
	"conviction-lab/internal/idhash"
	"conviction-lab/internal/ingestion"
	"conviction-lab/internal/observability"
	"conviction-lab/internal/position"
	"conviction-lab/internal/provider"
	"conviction-lab/internal/storage"
)

// Ingester fetches a wallet's normalized trades.
type Ingester interface {
	Ingest(ctx context.Context, req ingestion.Request) (*ingestion.Result, error)
}

// Enricher attaches patience-tax analyses to positions.
type Enricher interface {
	EnrichAll(ctx context.Context, chain domain.Chain, positions []*domain.Position) error
}

// ReputationSource scores a wallet in [0, 100].
type ReputationSource interface {
	Score(ctx context.Context, chain domain.Chain, address string) (float64, error)
}

// Options configures Service.
type Options struct {
	Ingester Ingester
	Patience Enricher

	// Reputation is optional; lookup failures score without a multiplier.
	Reputation ReputationSource

	// Store is optional. When set, every analysis is persisted and
	// percentiles are ranked against the stored cohort.
	Store         storage.ConvictionStore
	StoreName     string // metrics label, e.g. "postgres"
	MinPopulation int

	Weights *conviction.Weights
	Metrics *observability.Metrics
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Service is safe for concurrent use.
type Service struct {
	opts   Options
	logger zerolog.Logger
}

// NewService creates an analysis service.
func NewService(opts Options) *Service {
	if opts.MinPopulation <= 0 {
		opts.MinPopulation = conviction.DefaultMinPopulation
	}
	if opts.StoreName == "" {
		opts.StoreName = "default"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{opts: opts, logger: opts.Logger.With().Str("component", "analysis").Logger()}
}

// Request describes one wallet analysis.
type Request struct {
	Address          string
	Chain            domain.Chain
	TimeHorizonDays  int
	MinTradeValueUSD float64
}

// Report is the result of AnalyzeWallet.
type Report struct {
	RunID           string                    `json:"runId"`
	Address         string                    `json:"address"`
	Chain           domain.Chain              `json:"chain"`
	TimeHorizonDays int                       `json:"timeHorizonDays"`
	Positions       []domain.PositionAnalysis `json:"positions"`
	Metrics         domain.ConvictionMetrics  `json:"metrics"`
	Quality         domain.QualityReport      `json:"quality"`
	SnapshotID      string                    `json:"snapshotId,omitempty"`
}

// AnalyzeWallet runs the full pipeline for one wallet. Ingestion failures
// are returned; reputation, percentile and persistence failures are logged
// and the report is still produced.
func (s *Service) AnalyzeWallet(ctx context.Context, req Request) (*Report, error) {
	start := time.Now()
	if req.TimeHorizonDays <= 0 {
		req.TimeHorizonDays = ingestion.DefaultLookbackDays
	}
	if req.Chain == domain.ChainBase {
		req.Address = strings.ToLower(req.Address)
	}
	runID := uuid.NewString()
	log := s.logger.With().Str("run_id", runID).Str("chain", req.Chain.String()).Str("wallet", req.Address).Logger()

	// Phase 1: ingestion
	res, err := s.opts.Ingester.Ingest(ctx, ingestion.Request{
		Address:          req.Address,
		Chain:            req.Chain,
		LookbackDays:     req.TimeHorizonDays,
		MinTradeValueUSD: req.MinTradeValueUSD,
	})
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}

	// Phase 2: positions
	positions := position.Aggregate(res.Trades)

	// Phase 3: patience tax
	if s.opts.Patience != nil && len(positions) > 0 {
		if err := s.opts.Patience.EnrichAll(ctx, req.Chain, positions); err != nil {
			return nil, fmt.Errorf("patience tax: %w", err)
		}
	}

	// Phase 4: score
	nowMs := s.opts.Now().UnixMilli()
	metrics := conviction.Score(positions, conviction.Options{
		AsOfMs:          nowMs,
		ReputationScore: s.reputation(ctx, req.Chain, req.Address, log),
		Weights:         s.opts.Weights,
	})
	metrics.Percentile = s.percentile(ctx, req, metrics, log)

	report := &Report{
		RunID:           runID,
		Address:         req.Address,
		Chain:           req.Chain,
		TimeHorizonDays: req.TimeHorizonDays,
		Positions:       position.AnalyzeAll(positions, nowMs),
		Metrics:         metrics,
		Quality:         res.Quality,
	}

	// Phase 5: persist
	if s.opts.Store != nil {
		snap := s.snapshot(req, metrics, nowMs)
		if err := s.opts.Store.Upsert(ctx, snap); err != nil {
			log.Warn().Err(err).Msg("snapshot not persisted")
		} else {
			report.SnapshotID = snap.ID
			s.opts.Metrics.RecordSnapshot(s.opts.StoreName)
		}
	}

	s.opts.Metrics.RecordAnalysis(req.Chain.String(), metrics.Score, time.Since(start).Seconds(), s.opts.Now().Unix())
	log.Info().
		Int("positions", metrics.TotalPositions).
		Float64("score", metrics.Score).
		Int("percentile", metrics.Percentile).
		Str("archetype", metrics.Archetype.String()).
		Dur("elapsed", time.Since(start)).
		Msg("analysis complete")
	return report, nil
}

// ScoreRequest scores caller-supplied positions without ingestion.
type ScoreRequest struct {
	Positions       []*domain.Position
	Chain           domain.Chain
	ReputationScore *float64
}

// ScoreResult is the result of ScorePositions.
type ScoreResult struct {
	Positions []domain.PositionAnalysis `json:"positions"`
	Metrics   domain.ConvictionMetrics  `json:"metrics"`
}

// ScorePositions rebuilds positions from their trades, so caller-supplied
// totals never bypass the aggregation invariants, then enriches and scores
// them. The percentile is the score-derived fallback.
func (s *Service) ScorePositions(ctx context.Context, req ScoreRequest) (*ScoreResult, error) {
	positions := position.Aggregate(position.Trades(req.Positions))

	if s.opts.Patience != nil && len(positions) > 0 && req.Chain.IsValid() {
		if err := s.opts.Patience.EnrichAll(ctx, req.Chain, positions); err != nil {
			return nil, fmt.Errorf("patience tax: %w", err)
		}
	}

	nowMs := s.opts.Now().UnixMilli()
	metrics := conviction.Score(positions, conviction.Options{
		AsOfMs:          nowMs,
		ReputationScore: req.ReputationScore,
		Weights:         s.opts.Weights,
	})
	return &ScoreResult{Positions: position.AnalyzeAll(positions, nowMs), Metrics: metrics}, nil
}

// Leaderboard returns the top stored wallets. It returns
// storage.ErrNotFound when no store is configured.
func (s *Service) Leaderboard(ctx context.Context, chain domain.Chain, horizonDays, limit int) ([]*domain.ConvictionSnapshot, error) {
	if s.opts.Store == nil {
		return nil, storage.ErrNotFound
	}
	return s.opts.Store.Leaderboard(ctx, chain, horizonDays, limit)
}

func (s *Service) reputation(ctx context.Context, chain domain.Chain, address string, log zerolog.Logger) *float64 {
	if s.opts.Reputation == nil {
		return nil
	}
	score, err := s.opts.Reputation.Score(ctx, chain, address)
	if err != nil {
		if !errors.Is(err, provider.ErrNoData) {
			log.Warn().Err(err).Msg("reputation lookup failed")
		}
		return nil
	}
	return &score
}

func (s *Service) percentile(ctx context.Context, req Request, m domain.ConvictionMetrics, log zerolog.Logger) int {
	if s.opts.Store == nil {
		return m.Percentile
	}
	higher, total, err := s.opts.Store.Percentile(ctx, req.Chain, req.TimeHorizonDays, m.Score, req.Address)
	if err != nil {
		log.Warn().Err(err).Msg("cohort percentile unavailable")
		return m.Percentile
	}
	return conviction.Percentile(m.Score, m.TotalPositions, higher, total, s.opts.MinPopulation)
}

func (s *Service) snapshot(req Request, m domain.ConvictionMetrics, nowMs int64) *domain.ConvictionSnapshot {
	date := time.UnixMilli(nowMs).UTC().Format("2006-01-02")
	return &domain.ConvictionSnapshot{
		ID:              idhash.ComputeSnapshotID(req.Address, req.Chain.String(), req.TimeHorizonDays, date),
		Address:         req.Address,
		Chain:           req.Chain,
		TimeHorizonDays: req.TimeHorizonDays,
		SnapshotDate:    date,
		Metrics:         m,
		ComputedAt:      nowMs,
	}
}

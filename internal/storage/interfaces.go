package storage

import (
	"context"

	"conviction-lab/internal/domain"
)

// ConvictionStore is the sink for computed conviction snapshots and the
// reference population for empirical percentiles.
type ConvictionStore interface {
	// Upsert inserts or replaces the snapshot with the same
	// (address, chain, time_horizon_days, snapshot_date) key.
	Upsert(ctx context.Context, s *domain.ConvictionSnapshot) error

	// Get retrieves one snapshot. Returns ErrNotFound if not exists.
	Get(ctx context.Context, address string, chain domain.Chain, horizonDays int, snapshotDate string) (*domain.ConvictionSnapshot, error)

	// Percentile counts, over the latest snapshot of every wallet except
	// excludeAddress, how many scored strictly higher than score and how
	// many were considered.
	Percentile(ctx context.Context, chain domain.Chain, horizonDays int, score float64, excludeAddress string) (higher, total int, err error)

	// Leaderboard returns the latest snapshot of each wallet ordered by
	// score descending, then address ascending.
	Leaderboard(ctx context.Context, chain domain.Chain, horizonDays, limit int) ([]*domain.ConvictionSnapshot, error)
}

// PriceHistoryStore archives fetched price history.
type PriceHistoryStore interface {
	// InsertBulk adds points for a token. Points whose timestamp is already
	// archived are skipped.
	InsertBulk(ctx context.Context, chain domain.Chain, token string, points []domain.PricePoint) error

	// GetByTimeRange retrieves points within [start, end] (inclusive), ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, chain domain.Chain, token string, start, end int64) ([]domain.PricePoint, error)
}

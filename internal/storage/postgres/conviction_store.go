package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"conviction-lab/internal/domain"
	"conviction-lab/internal/idhash"
	"conviction-lab/internal/observability"
	"conviction-lab/internal/storage"
)

// ConvictionStore implements storage.ConvictionStore using PostgreSQL.
type ConvictionStore struct {
	pool    *Pool
	metrics *observability.Metrics
}

// NewConvictionStore creates a new ConvictionStore. metrics may be nil.
func NewConvictionStore(pool *Pool, metrics *observability.Metrics) *ConvictionStore {
	return &ConvictionStore{pool: pool, metrics: metrics}
}

// Compile-time interface check.
var _ storage.ConvictionStore = (*ConvictionStore)(nil)

const snapshotColumns = `
	id, address, chain, time_horizon_days, snapshot_date::text,
	score, percentile, archetype, patience_tax_usd, upside_capture_pct,
	early_exit_count, conviction_win_count, total_positions,
	avg_holding_period_days, win_rate_pct, early_exit_rate_pct,
	weights_version, computed_at
`

// latestSnapshots selects the most recent snapshot per address.
const latestSnapshots = `
	SELECT DISTINCT ON (address) ` + snapshotColumns + `
	FROM conviction_snapshots
	WHERE chain = $1 AND time_horizon_days = $2
	ORDER BY address, snapshot_date DESC
`

// Upsert inserts or replaces the snapshot for its key.
func (s *ConvictionStore) Upsert(ctx context.Context, snap *domain.ConvictionSnapshot) (err error) {
	if snap == nil || snap.Address == "" || !snap.Chain.IsValid() || snap.SnapshotDate == "" {
		return storage.ErrInvalidInput
	}
	defer s.observe("upsert", time.Now(), &err)

	id := snap.ID
	if id == "" {
		id = idhash.ComputeSnapshotID(snap.Address, snap.Chain.String(), snap.TimeHorizonDays, snap.SnapshotDate)
	}
	m := snap.Metrics

	query := `
		INSERT INTO conviction_snapshots (
			id, address, chain, time_horizon_days, snapshot_date,
			score, percentile, archetype, patience_tax_usd, upside_capture_pct,
			early_exit_count, conviction_win_count, total_positions,
			avg_holding_period_days, win_rate_pct, early_exit_rate_pct,
			weights_version, computed_at
		) VALUES ($1, $2, $3, $4, $5::date, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (address, chain, time_horizon_days, snapshot_date) DO UPDATE SET
			score = EXCLUDED.score,
			percentile = EXCLUDED.percentile,
			archetype = EXCLUDED.archetype,
			patience_tax_usd = EXCLUDED.patience_tax_usd,
			upside_capture_pct = EXCLUDED.upside_capture_pct,
			early_exit_count = EXCLUDED.early_exit_count,
			conviction_win_count = EXCLUDED.conviction_win_count,
			total_positions = EXCLUDED.total_positions,
			avg_holding_period_days = EXCLUDED.avg_holding_period_days,
			win_rate_pct = EXCLUDED.win_rate_pct,
			early_exit_rate_pct = EXCLUDED.early_exit_rate_pct,
			weights_version = EXCLUDED.weights_version,
			computed_at = EXCLUDED.computed_at
	`

	_, err = s.pool.Exec(ctx, query,
		id, snap.Address, snap.Chain.String(), snap.TimeHorizonDays, snap.SnapshotDate,
		m.Score, m.Percentile, m.Archetype.String(), m.PatienceTaxUSD, m.UpsideCapturePct,
		m.EarlyExitCount, m.ConvictionWinCount, m.TotalPositions,
		m.AvgHoldingPeriodDays, m.WinRatePct, m.EarlyExitRatePct,
		m.WeightsVersion, snap.ComputedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("upsert conviction snapshot: %w", err)
	}
	return nil
}

// Get retrieves one snapshot. Returns ErrNotFound if not exists.
func (s *ConvictionStore) Get(ctx context.Context, address string, chain domain.Chain, horizonDays int, snapshotDate string) (*domain.ConvictionSnapshot, error) {
	query := `SELECT ` + snapshotColumns + `
		FROM conviction_snapshots
		WHERE id = $1
	`

	id := idhash.ComputeSnapshotID(address, chain.String(), horizonDays, snapshotDate)
	snap, err := scanSnapshot(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get conviction snapshot: %w", err)
	}
	return snap, nil
}

// Percentile counts wallets whose latest snapshot scored higher than score.
func (s *ConvictionStore) Percentile(ctx context.Context, chain domain.Chain, horizonDays int, score float64, excludeAddress string) (higher, total int, err error) {
	defer s.observe("percentile", time.Now(), &err)

	query := `
		SELECT count(*) FILTER (WHERE t.score > $3), count(*)
		FROM (` + latestSnapshots + `) t
		WHERE t.address <> $4
	`
	if err = s.pool.QueryRow(ctx, query, chain.String(), horizonDays, score, excludeAddress).Scan(&higher, &total); err != nil {
		return 0, 0, fmt.Errorf("query percentile population: %w", err)
	}
	return higher, total, nil
}

// Leaderboard returns the top wallets by latest score.
func (s *ConvictionStore) Leaderboard(ctx context.Context, chain domain.Chain, horizonDays, limit int) ([]*domain.ConvictionSnapshot, error) {
	query := `
		SELECT * FROM (` + latestSnapshots + `) t
		ORDER BY t.score DESC, t.address ASC
		LIMIT $3
	`
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, query, chain.String(), horizonDays, limit)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	var result []*domain.ConvictionSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan leaderboard row: %w", err)
		}
		result = append(result, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leaderboard rows: %w", err)
	}
	return result, nil
}

func (s *ConvictionStore) observe(op string, start time.Time, err *error) {
	s.metrics.RecordDBQuery("postgres", op, time.Since(start).Seconds(), *err)
}

// scanSnapshot scans a single row into ConvictionSnapshot.
func scanSnapshot(row pgx.Row) (*domain.ConvictionSnapshot, error) {
	var (
		snap      domain.ConvictionSnapshot
		chain     string
		archetype string
		m         = &snap.Metrics
	)

	err := row.Scan(
		&snap.ID, &snap.Address, &chain, &snap.TimeHorizonDays, &snap.SnapshotDate,
		&m.Score, &m.Percentile, &archetype, &m.PatienceTaxUSD, &m.UpsideCapturePct,
		&m.EarlyExitCount, &m.ConvictionWinCount, &m.TotalPositions,
		&m.AvgHoldingPeriodDays, &m.WinRatePct, &m.EarlyExitRatePct,
		&m.WeightsVersion, &snap.ComputedAt,
	)
	if err != nil {
		return nil, err
	}

	snap.Chain = domain.Chain(chain)
	m.Archetype = domain.Archetype(archetype)
	return &snap, nil
}

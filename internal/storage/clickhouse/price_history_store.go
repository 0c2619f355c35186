package clickhouse

import (
	"context"
	"fmt"
	"time"

	"conviction-lab/internal/domain"
	"conviction-lab/internal/observability"
	"conviction-lab/internal/storage"
)

// PriceHistoryStore implements storage.PriceHistoryStore using ClickHouse.
type PriceHistoryStore struct {
	conn    *Conn
	metrics *observability.Metrics
}

// NewPriceHistoryStore creates a new PriceHistoryStore. metrics may be nil.
func NewPriceHistoryStore(conn *Conn, metrics *observability.Metrics) *PriceHistoryStore {
	return &PriceHistoryStore{conn: conn, metrics: metrics}
}

// Compile-time interface check.
var _ storage.PriceHistoryStore = (*PriceHistoryStore)(nil)

// InsertBulk appends points for a token. Timestamps already archived are
// filtered out before the batch is sent.
func (s *PriceHistoryStore) InsertBulk(ctx context.Context, chain domain.Chain, token string, points []domain.PricePoint) (err error) {
	if len(points) == 0 {
		return nil
	}
	if token == "" {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) {
		s.metrics.RecordDBQuery("clickhouse", "insert_price_history", time.Since(start).Seconds(), err)
	}(time.Now())

	minTs, maxTs := points[0].TimestampMs, points[0].TimestampMs
	for _, p := range points {
		minTs = min(minTs, p.TimestampMs)
		maxTs = max(maxTs, p.TimestampMs)
	}
	existing, err := s.GetByTimeRange(ctx, chain, token, minTs, maxTs)
	if err != nil {
		return fmt.Errorf("load existing points: %w", err)
	}
	seen := make(map[int64]struct{}, len(existing)+len(points))
	for _, p := range existing {
		seen[p.TimestampMs] = struct{}{}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO price_history (chain, token, timestamp_ms, price_usd)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	appended := 0
	for _, p := range points {
		if _, dup := seen[p.TimestampMs]; dup {
			continue
		}
		seen[p.TimestampMs] = struct{}{}
		if err := batch.Append(chain.String(), token, uint64(p.TimestampMs), p.PriceUSD); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
		appended++
	}
	if appended == 0 {
		return batch.Abort()
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByTimeRange retrieves points within [start, end] (inclusive), ordered by timestamp ASC.
func (s *PriceHistoryStore) GetByTimeRange(ctx context.Context, chain domain.Chain, token string, start, end int64) ([]domain.PricePoint, error) {
	query := `
		SELECT timestamp_ms, argMax(price_usd, inserted_at)
		FROM price_history
		WHERE chain = ? AND token = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		GROUP BY timestamp_ms
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, chain.String(), token, uint64(max(start, 0)), uint64(max(end, 0)))
	if err != nil {
		return nil, fmt.Errorf("query price history: %w", err)
	}
	defer rows.Close()

	return scanPricePoints(rows)
}

func scanPricePoints(rows chRows) ([]domain.PricePoint, error) {
	var points []domain.PricePoint

	for rows.Next() {
		var (
			ts    uint64
			price float64
		)
		if err := rows.Scan(&ts, &price); err != nil {
			return nil, fmt.Errorf("scan price history row: %w", err)
		}
		points = append(points, domain.PricePoint{TimestampMs: int64(ts), PriceUSD: price})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price history rows: %w", err)
	}
	return points, nil
}

package memory

import (
	"context"
	"sort"
	"sync"

	"conviction-lab/internal/domain"
	"conviction-lab/internal/storage"
)

// PriceHistoryStore is an in-memory implementation of storage.PriceHistoryStore.
type PriceHistoryStore struct {
	mu   sync.RWMutex
	data map[string]map[int64]float64 // chain|token -> timestamp -> price
}

// NewPriceHistoryStore creates a new in-memory price history store.
func NewPriceHistoryStore() *PriceHistoryStore {
	return &PriceHistoryStore{
		data: make(map[string]map[int64]float64),
	}
}

// Compile-time interface check.
var _ storage.PriceHistoryStore = (*PriceHistoryStore)(nil)

func seriesKey(chain domain.Chain, token string) string {
	return chain.String() + "|" + token
}

// InsertBulk adds points, skipping timestamps already archived.
func (s *PriceHistoryStore) InsertBulk(_ context.Context, chain domain.Chain, token string, points []domain.PricePoint) error {
	if len(points) == 0 {
		return nil
	}
	if token == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := seriesKey(chain, token)
	series, ok := s.data[key]
	if !ok {
		series = make(map[int64]float64, len(points))
		s.data[key] = series
	}
	for _, p := range points {
		if _, exists := series[p.TimestampMs]; !exists {
			series[p.TimestampMs] = p.PriceUSD
		}
	}
	return nil
}

// GetByTimeRange retrieves points within [start, end] (inclusive), ordered by timestamp ASC.
func (s *PriceHistoryStore) GetByTimeRange(_ context.Context, chain domain.Chain, token string, start, end int64) ([]domain.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.PricePoint
	for ts, price := range s.data[seriesKey(chain, token)] {
		if ts >= start && ts <= end {
			result = append(result, domain.PricePoint{TimestampMs: ts, PriceUSD: price})
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})
	return result, nil
}

package memory

import (
	"context"
	"sort"
	"sync"

	"conviction-lab/internal/domain"
	"conviction-lab/internal/idhash"
	"conviction-lab/internal/storage"
)

// ConvictionStore is an in-memory implementation of storage.ConvictionStore.
type ConvictionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.ConvictionSnapshot // keyed by snapshot id
}

// NewConvictionStore creates a new in-memory conviction store.
func NewConvictionStore() *ConvictionStore {
	return &ConvictionStore{
		data: make(map[string]*domain.ConvictionSnapshot),
	}
}

// Compile-time interface check.
var _ storage.ConvictionStore = (*ConvictionStore)(nil)

// Upsert inserts or replaces a snapshot.
func (s *ConvictionStore) Upsert(_ context.Context, snap *domain.ConvictionSnapshot) error {
	if snap == nil || snap.Address == "" || !snap.Chain.IsValid() || snap.SnapshotDate == "" {
		return storage.ErrInvalidInput
	}

	id := snap.ID
	if id == "" {
		id = idhash.ComputeSnapshotID(snap.Address, snap.Chain.String(), snap.TimeHorizonDays, snap.SnapshotDate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := *snap
	c.ID = id
	s.data[id] = &c
	return nil
}

// Get retrieves one snapshot. Returns ErrNotFound if not exists.
func (s *ConvictionStore) Get(_ context.Context, address string, chain domain.Chain, horizonDays int, snapshotDate string) (*domain.ConvictionSnapshot, error) {
	id := idhash.ComputeSnapshotID(address, chain.String(), horizonDays, snapshotDate)

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *snap
	return &c, nil
}

// Percentile counts wallets whose latest snapshot scored higher than score.
func (s *ConvictionStore) Percentile(_ context.Context, chain domain.Chain, horizonDays int, score float64, excludeAddress string) (int, int, error) {
	var higher, total int
	for addr, snap := range s.latest(chain, horizonDays) {
		if addr == excludeAddress {
			continue
		}
		total++
		if snap.Metrics.Score > score {
			higher++
		}
	}
	return higher, total, nil
}

// Leaderboard returns the top wallets by latest score.
func (s *ConvictionStore) Leaderboard(_ context.Context, chain domain.Chain, horizonDays, limit int) ([]*domain.ConvictionSnapshot, error) {
	latest := s.latest(chain, horizonDays)

	result := make([]*domain.ConvictionSnapshot, 0, len(latest))
	for _, snap := range latest {
		c := *snap
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Metrics.Score != result[j].Metrics.Score {
			return result[i].Metrics.Score > result[j].Metrics.Score
		}
		return result[i].Address < result[j].Address
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// latest returns the most recent snapshot per address.
func (s *ConvictionStore) latest(chain domain.Chain, horizonDays int) map[string]*domain.ConvictionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*domain.ConvictionSnapshot)
	for _, snap := range s.data {
		if snap.Chain != chain || snap.TimeHorizonDays != horizonDays {
			continue
		}
		if cur, ok := out[snap.Address]; !ok || snap.SnapshotDate > cur.SnapshotDate {
			out[snap.Address] = snap
		}
	}
	return out
}

package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conviction-lab/internal/domain"
	"conviction-lab/internal/storage"
)

func snapshot(addr, date string, score float64) *domain.ConvictionSnapshot {
	return &domain.ConvictionSnapshot{
		Address:         addr,
		Chain:           domain.ChainBase,
		TimeHorizonDays: 90,
		SnapshotDate:    date,
		ComputedAt:      1_700_000_000_000,
		Metrics: domain.ConvictionMetrics{
			Score:                score,
			Percentile:           50,
			Archetype:            domain.ArchetypeDiamondHand,
			PatienceTaxUSD:       120.5,
			UpsideCapturePct:     40,
			EarlyExitCount:       1,
			ConvictionWinCount:   2,
			TotalPositions:       4,
			AvgHoldingPeriodDays: 12.5,
			WinRatePct:           75,
			EarlyExitRatePct:     25,
			WeightsVersion:       "v1",
		},
	}
}

func TestConvictionStore_UpsertAndGet(t *testing.T) {
	pool := newTestPool(t)

	store := NewConvictionStore(pool, nil)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, snapshot("0xabc", "2026-03-01", 40)))

	replaced := snapshot("0xabc", "2026-03-01", 65)
	replaced.Metrics.Archetype = domain.ArchetypeExitVoyager
	require.NoError(t, store.Upsert(ctx, replaced))

	got, err := store.Get(ctx, "0xabc", domain.ChainBase, 90, "2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01", got.SnapshotDate)
	assert.Equal(t, domain.ChainBase, got.Chain)
	assert.Equal(t, 65.0, got.Metrics.Score)
	assert.Equal(t, domain.ArchetypeExitVoyager, got.Metrics.Archetype)
	assert.Equal(t, 120.5, got.Metrics.PatienceTaxUSD)
	assert.Equal(t, "v1", got.Metrics.WeightsVersion)
	assert.Equal(t, int64(1_700_000_000_000), got.ComputedAt)

	_, err = store.Get(ctx, "0xabc", domain.ChainBase, 30, "2026-03-01")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestConvictionStore_PercentileAndLeaderboard(t *testing.T) {
	pool := newTestPool(t)

	store := NewConvictionStore(pool, nil)
	ctx := context.Background()

	for _, s := range []*domain.ConvictionSnapshot{
		snapshot("w1", "2026-03-01", 90), // superseded by the next day
		snapshot("w1", "2026-03-02", 10),
		snapshot("w2", "2026-03-01", 80),
		snapshot("w3", "2026-03-01", 80),
		snapshot("me", "2026-03-01", 99),
	} {
		require.NoError(t, store.Upsert(ctx, s))
	}

	higher, total, err := store.Percentile(ctx, domain.ChainBase, 90, 50, "me")
	require.NoError(t, err)
	assert.Equal(t, 2, higher)
	assert.Equal(t, 3, total)

	top, err := store.Leaderboard(ctx, domain.ChainBase, 90, 3)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, "me", top[0].Address)
	assert.Equal(t, "w2", top[1].Address)
	assert.Equal(t, "w3", top[2].Address)
}

func TestConvictionStore_InvalidInput(t *testing.T) {
	store := NewConvictionStore(nil, nil)
	err := store.Upsert(context.Background(), &domain.ConvictionSnapshot{Address: "w"})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

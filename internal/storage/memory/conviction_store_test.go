package memory

import (
	"context"
	"errors"
	"testing"

	"conviction-lab/internal/domain"
	"conviction-lab/internal/storage"
)

func snapshot(addr, date string, score float64) *domain.ConvictionSnapshot {
	return &domain.ConvictionSnapshot{
		Address:         addr,
		Chain:           domain.ChainSolana,
		TimeHorizonDays: 90,
		SnapshotDate:    date,
		Metrics:         domain.ConvictionMetrics{Score: score},
	}
}

func TestConvictionStore_UpsertAndGet(t *testing.T) {
	store := NewConvictionStore()
	ctx := context.Background()

	if err := store.Upsert(ctx, snapshot("w1", "2026-01-01", 40)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := store.Upsert(ctx, snapshot("w1", "2026-01-01", 55)); err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}

	got, err := store.Get(ctx, "w1", domain.ChainSolana, 90, "2026-01-01")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Metrics.Score != 55 {
		t.Errorf("expected replaced score 55, got %f", got.Metrics.Score)
	}
	if got.ID == "" {
		t.Error("expected id to be assigned")
	}

	_, err = store.Get(ctx, "w1", domain.ChainBase, 90, "2026-01-01")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestConvictionStore_InvalidInput(t *testing.T) {
	store := NewConvictionStore()
	err := store.Upsert(context.Background(), &domain.ConvictionSnapshot{Address: "w1", Chain: "eth", SnapshotDate: "2026-01-01"})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestConvictionStore_PercentileUsesLatestSnapshot(t *testing.T) {
	store := NewConvictionStore()
	ctx := context.Background()

	for _, s := range []*domain.ConvictionSnapshot{
		snapshot("w1", "2026-01-01", 90), // superseded
		snapshot("w1", "2026-01-02", 10),
		snapshot("w2", "2026-01-01", 80),
		snapshot("w3", "2026-01-01", 60),
		snapshot("me", "2026-01-01", 99),
	} {
		if err := store.Upsert(ctx, s); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	higher, total, err := store.Percentile(ctx, domain.ChainSolana, 90, 50, "me")
	if err != nil {
		t.Fatalf("Percentile failed: %v", err)
	}
	if higher != 2 || total != 3 {
		t.Errorf("expected 2 of 3 higher, got %d of %d", higher, total)
	}

	_, total, _ = store.Percentile(ctx, domain.ChainSolana, 30, 50, "")
	if total != 0 {
		t.Errorf("expected empty population for other horizon, got %d", total)
	}
}

func TestConvictionStore_Leaderboard(t *testing.T) {
	store := NewConvictionStore()
	ctx := context.Background()

	for _, s := range []*domain.ConvictionSnapshot{
		snapshot("b", "2026-01-01", 70),
		snapshot("a", "2026-01-01", 70),
		snapshot("c", "2026-01-01", 95),
		snapshot("d", "2026-01-01", 10),
	} {
		if err := store.Upsert(ctx, s); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	top, err := store.Leaderboard(ctx, domain.ChainSolana, 90, 3)
	if err != nil {
		t.Fatalf("Leaderboard failed: %v", err)
	}
	want := []string{"c", "a", "b"}
	if len(top) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(top))
	}
	for i, addr := range want {
		if top[i].Address != addr {
			t.Errorf("row %d: expected %s, got %s", i, addr, top[i].Address)
		}
	}
}

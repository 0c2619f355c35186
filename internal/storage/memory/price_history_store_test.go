package memory

import (
	"context"
	"testing"

	"conviction-lab/internal/domain"
)

func TestPriceHistoryStore_InsertBulkAndRange(t *testing.T) {
	store := NewPriceHistoryStore()
	ctx := context.Background()

	err := store.InsertBulk(ctx, domain.ChainSolana, "TOK", []domain.PricePoint{
		{TimestampMs: 3000, PriceUSD: 3},
		{TimestampMs: 1000, PriceUSD: 1},
		{TimestampMs: 2000, PriceUSD: 2},
	})
	if err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	// Existing timestamps keep their first value.
	if err := store.InsertBulk(ctx, domain.ChainSolana, "TOK", []domain.PricePoint{{TimestampMs: 2000, PriceUSD: 99}}); err != nil {
		t.Fatalf("second InsertBulk failed: %v", err)
	}

	got, err := store.GetByTimeRange(ctx, domain.ChainSolana, "TOK", 1500, 3000)
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}
	if len(got) != 2 || got[0].PriceUSD != 2 || got[1].TimestampMs != 3000 {
		t.Errorf("unexpected points %+v", got)
	}

	other, _ := store.GetByTimeRange(ctx, domain.ChainBase, "TOK", 0, 5000)
	if len(other) != 0 {
		t.Errorf("expected no points on another chain, got %d", len(other))
	}
}

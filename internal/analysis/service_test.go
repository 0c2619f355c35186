package analysis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conviction-lab/internal/domain"
	"conviction-lab/internal/ingestion"
	"conviction-lab/internal/patience"
	"conviction-lab/internal/provider"
	"conviction-lab/internal/storage"
	"conviction-lab/internal/storage/memory"
)

const (
	wallet = "0xAbC0000000000000000000000000000000000001"
	token  = "0x1111111111111111111111111111111111111111"
	hour   = int64(time.Hour / time.Millisecond)
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

type fakeIngester struct {
	trades []*domain.Trade
	err    error
	last   ingestion.Request
}

func (f *fakeIngester) Ingest(_ context.Context, req ingestion.Request) (*ingestion.Result, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &ingestion.Result{
		Trades:  f.trades,
		Quality: domain.QualityReport{TotalRaw: len(f.trades), Provider: "alchemy"},
	}, nil
}

type fakeHistory struct {
	points []domain.PricePoint
}

func (f *fakeHistory) PriceHistory(context.Context, domain.Chain, string, domain.Window) ([]domain.PricePoint, error) {
	return f.points, nil
}

type fakeReputation struct {
	score float64
	err   error
}

func (f *fakeReputation) Score(context.Context, domain.Chain, string) (float64, error) {
	return f.score, f.err
}

// roundTrip buys 100 tokens for $100 and sells them 10h later for $300.
func roundTrip() []*domain.Trade {
	return []*domain.Trade{
		{Hash: "0xb", TimestampMs: t0, TokenAddress: token, Side: domain.SideBuy, Amount: 100, UnitPriceUSD: 1, ValueUSD: 100},
		{Hash: "0xs", TimestampMs: t0 + 10*hour, TokenAddress: token, Side: domain.SideSell, Amount: 100, UnitPriceUSD: 3, ValueUSD: 300},
	}
}

func newService(ing Ingester, store storage.ConvictionStore, rep ReputationSource) *Service {
	now := func() time.Time { return time.UnixMilli(t0 + 24*hour) }
	engine := patience.NewEngine(&fakeHistory{points: []domain.PricePoint{{TimestampMs: t0 + 20*hour, PriceUSD: 6}}}, patience.Options{Now: now})
	return NewService(Options{
		Ingester:   ing,
		Patience:   engine,
		Reputation: rep,
		Store:      store,
		StoreName:  "memory",
		Now:        now,
	})
}

func TestAnalyzeWallet_EndToEnd(t *testing.T) {
	store := memory.NewConvictionStore()
	ing := &fakeIngester{trades: roundTrip()}
	svc := newService(ing, store, nil)

	report, err := svc.AnalyzeWallet(context.Background(), Request{Address: wallet, Chain: domain.ChainBase, TimeHorizonDays: 30})
	require.NoError(t, err)

	assert.Equal(t, 30, ing.last.LookbackDays)
	assert.Equal(t, "0xabc0000000000000000000000000000000000001", report.Address, "evm addresses are lowercased")
	assert.NotEmpty(t, report.RunID)

	require.Len(t, report.Positions, 1)
	p := report.Positions[0]
	assert.InDelta(t, 200.0, p.RealizedPnLUSD, 1e-9)
	assert.True(t, p.IsEarlyExit)
	require.NotNil(t, p.PatienceTax)
	assert.InDelta(t, 300.0, p.PatienceTax.PatienceTaxUSD, 1e-9)

	m := report.Metrics
	assert.InDelta(t, 25+17.5+15*(10.0/24)/30, m.Score, 1e-9)
	assert.Equal(t, domain.ArchetypeDiamondHand, m.Archetype)
	assert.Equal(t, 58, m.Percentile, "fallback percentile below the minimum cohort")
	assert.Equal(t, 1, m.EarlyExitCount)
	assert.Equal(t, "alchemy", report.Quality.Provider)

	snap, err := store.Get(context.Background(), report.Address, domain.ChainBase, 30, "2024-03-02")
	require.NoError(t, err)
	assert.Equal(t, report.SnapshotID, snap.ID)
	assert.InDelta(t, m.Score, snap.Metrics.Score, 1e-9)
}

func TestAnalyzeWallet_IngestionFailure(t *testing.T) {
	store := memory.NewConvictionStore()
	ing := &fakeIngester{err: fmt.Errorf("%w: 3 providers", ingestion.ErrAllProvidersExhausted)}

	_, err := newService(ing, store, nil).AnalyzeWallet(context.Background(), Request{Address: wallet, Chain: domain.ChainBase})
	assert.ErrorIs(t, err, ingestion.ErrAllProvidersExhausted)

	board, err := store.Leaderboard(context.Background(), domain.ChainBase, ingestion.DefaultLookbackDays, 10)
	require.NoError(t, err)
	assert.Empty(t, board, "failed analyses are not persisted")
}

func TestAnalyzeWallet_EmptyHistory(t *testing.T) {
	report, err := newService(&fakeIngester{}, memory.NewConvictionStore(), nil).
		AnalyzeWallet(context.Background(), Request{Address: wallet, Chain: domain.ChainBase})
	require.NoError(t, err)
	assert.Zero(t, report.Metrics.Score)
	assert.Zero(t, report.Metrics.Percentile)
	assert.Empty(t, report.Positions)
	assert.NotEmpty(t, report.SnapshotID)
}

func TestAnalyzeWallet_EmpiricalPercentile(t *testing.T) {
	store := memory.NewConvictionStore()
	ctx := context.Background()
	// 30 wallets scoring 0..87; 15 of them score above 42.7
	for i := 0; i < 30; i++ {
		require.NoError(t, store.Upsert(ctx, &domain.ConvictionSnapshot{
			Address:         fmt.Sprintf("0x%040d", i),
			Chain:           domain.ChainBase,
			TimeHorizonDays: 30,
			SnapshotDate:    "2024-03-01",
			Metrics:         domain.ConvictionMetrics{Score: float64(i * 3)},
		}))
	}

	report, err := newService(&fakeIngester{trades: roundTrip()}, store, nil).
		AnalyzeWallet(ctx, Request{Address: wallet, Chain: domain.ChainBase, TimeHorizonDays: 30})
	require.NoError(t, err)
	assert.Equal(t, 51, report.Metrics.Percentile)
}

func TestAnalyzeWallet_Reputation(t *testing.T) {
	ctx := context.Background()
	req := Request{Address: wallet, Chain: domain.ChainBase}

	plain, err := newService(&fakeIngester{trades: roundTrip()}, nil, nil).AnalyzeWallet(ctx, req)
	require.NoError(t, err)

	boosted, err := newService(&fakeIngester{trades: roundTrip()}, nil, &fakeReputation{score: 100}).AnalyzeWallet(ctx, req)
	require.NoError(t, err)
	assert.InDelta(t, plain.Metrics.Score*1.1, boosted.Metrics.Score, 1e-9)

	for _, err := range []error{provider.ErrNoData, errors.New("reputation down")} {
		r, err := newService(&fakeIngester{trades: roundTrip()}, nil, &fakeReputation{err: err}).AnalyzeWallet(ctx, req)
		require.NoError(t, err)
		assert.InDelta(t, plain.Metrics.Score, r.Metrics.Score, 1e-9)
	}
}

func TestScorePositions_RebuildsFromTrades(t *testing.T) {
	trades := roundTrip()
	bogus := &domain.Position{
		TokenAddress:     token,
		Entries:          trades[:1],
		Exits:            trades[1:],
		TotalInvestedUSD: 1e9, // ignored
		IsActive:         true,
	}

	res, err := newService(&fakeIngester{}, nil, nil).ScorePositions(context.Background(), ScoreRequest{
		Positions: []*domain.Position{bogus},
		Chain:     domain.ChainBase,
	})
	require.NoError(t, err)
	require.Len(t, res.Positions, 1)
	assert.Equal(t, 100.0, res.Positions[0].TotalInvestedUSD)
	assert.False(t, res.Positions[0].IsActive)
	assert.True(t, res.Positions[0].IsEarlyExit)
	assert.Equal(t, 58, res.Metrics.Percentile)
}

func TestScorePositions_SideFromList(t *testing.T) {
	buy := &domain.Trade{Hash: "b", TimestampMs: 1000, Amount: 100, UnitPriceUSD: 1, ValueUSD: 100}
	sell := &domain.Trade{Hash: "s", TimestampMs: 2000, Amount: 100, UnitPriceUSD: 3, ValueUSD: 300}

	res, err := newService(&fakeIngester{}, nil, nil).ScorePositions(context.Background(), ScoreRequest{
		Positions: []*domain.Position{{TokenAddress: token, Entries: []*domain.Trade{buy, nil}, Exits: []*domain.Trade{sell}}, nil},
		Chain:     domain.ChainBase,
	})
	require.NoError(t, err)
	require.Len(t, res.Positions, 1)
	assert.Equal(t, 1, res.Metrics.TotalPositions)
	assert.Equal(t, 100.0, res.Positions[0].TotalInvestedUSD)
	assert.Equal(t, 300.0, res.Positions[0].TotalRealizedUSD)
}

func TestScorePositions_Empty(t *testing.T) {
	res, err := newService(&fakeIngester{}, nil, nil).ScorePositions(context.Background(), ScoreRequest{Chain: domain.ChainSolana})
	require.NoError(t, err)
	assert.Empty(t, res.Positions)
	assert.Zero(t, res.Metrics.Score)
	assert.Zero(t, res.Metrics.Percentile)
}

func TestLeaderboard_NoStore(t *testing.T) {
	_, err := newService(&fakeIngester{}, nil, nil).Leaderboard(context.Background(), domain.ChainBase, 30, 10)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

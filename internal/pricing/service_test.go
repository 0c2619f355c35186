package pricing

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conviction-lab/internal/cache"
	"conviction-lab/internal/domain"
	"conviction-lab/internal/normalization"
	"conviction-lab/internal/provider"
	"conviction-lab/internal/storage/memory"
)

type fakeSource struct {
	name    string
	price   float64
	history []domain.PricePoint
	meta    *domain.TokenMetadata
	err     error
	calls   atomic.Int32
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) CurrentPrice(context.Context, string) (float64, error) {
	f.calls.Add(1)
	return f.price, f.err
}

func (f *fakeSource) PriceHistory(context.Context, string, domain.Window) ([]domain.PricePoint, error) {
	f.calls.Add(1)
	return f.history, f.err
}

func (f *fakeSource) TokenMetadata(context.Context, string) (*domain.TokenMetadata, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if f.meta == nil {
		return nil, provider.ErrNoData
	}
	m := *f.meta
	return &m, nil
}

var upstreamDown = provider.NewUpstreamError("down", 503, errors.New("service unavailable"))

func TestCurrentPrice_FallbackOrder(t *testing.T) {
	primary := &fakeSource{name: "primary", err: upstreamDown}
	empty := &fakeSource{name: "empty"}
	generic := &fakeSource{name: "generic", price: 1.25}
	never := &fakeSource{name: "never", price: 9}

	svc := NewService(Options{
		Sources: map[domain.Chain]ChainSources{
			domain.ChainSolana: {Prices: []PriceSource{primary, empty, generic, never}},
		},
	})

	price, err := svc.CurrentPrice(context.Background(), domain.ChainSolana, "MintA")
	require.NoError(t, err)
	assert.Equal(t, 1.25, price)
	assert.Equal(t, int32(1), primary.calls.Load())
	assert.Equal(t, int32(1), empty.calls.Load())
	assert.Equal(t, int32(0), never.calls.Load())
}

func TestCurrentPrice_AllFail(t *testing.T) {
	svc := NewService(Options{
		Sources: map[domain.Chain]ChainSources{
			domain.ChainBase: {Prices: []PriceSource{&fakeSource{name: "a", err: upstreamDown}}},
		},
	})

	_, err := svc.CurrentPrice(context.Background(), domain.ChainBase, "0xabc")
	assert.ErrorIs(t, err, ErrNoPrice)

	_, err = svc.CurrentPrice(context.Background(), domain.ChainSolana, "MintA")
	assert.ErrorIs(t, err, ErrNoPrice, "chain without sources")
}

func TestCurrentPrice_Cached(t *testing.T) {
	src := &fakeSource{name: "p", price: 3}
	svc := NewService(Options{
		Sources: map[domain.Chain]ChainSources{domain.ChainSolana: {Prices: []PriceSource{src}}},
		Cache:   cache.NewMemory(),
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		price, err := svc.CurrentPrice(ctx, domain.ChainSolana, "MintA")
		require.NoError(t, err)
		assert.Equal(t, 3.0, price)
	}
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestCurrentPrice_FailureNotCached(t *testing.T) {
	src := &fakeSource{name: "p", err: upstreamDown}
	svc := NewService(Options{
		Sources: map[domain.Chain]ChainSources{domain.ChainSolana: {Prices: []PriceSource{src}}},
		Cache:   cache.NewMemory(),
	})
	ctx := context.Background()

	_, err := svc.CurrentPrice(ctx, domain.ChainSolana, "MintA")
	require.Error(t, err)

	src.err = nil
	src.price = 2
	price, err := svc.CurrentPrice(ctx, domain.ChainSolana, "MintA")
	require.NoError(t, err)
	assert.Equal(t, 2.0, price)
}

func TestNativePrice(t *testing.T) {
	svc := NewService(Options{
		Sources: map[domain.Chain]ChainSources{
			domain.ChainSolana: {Prices: []PriceSource{&fakeSource{name: "p", price: 150}}},
		},
	})
	assert.Equal(t, 150.0, svc.NativePrice(context.Background(), domain.ChainSolana))
	assert.Equal(t, 0.0, svc.NativePrice(context.Background(), domain.ChainBase))
}

func TestPriceHistory_FallbackAndArchive(t *testing.T) {
	window := domain.Window{FromMs: 1000, ToMs: 5000}
	points := []domain.PricePoint{
		{TimestampMs: 500, PriceUSD: 9}, // outside window, dropped
		{TimestampMs: 2000, PriceUSD: 2},
		{TimestampMs: 4000, PriceUSD: 6},
	}
	primary := &fakeSource{name: "birdeye"}
	generic := &fakeSource{name: "defillama", history: points}
	archive := memory.NewPriceHistoryStore()

	svc := NewService(Options{
		Sources: map[domain.Chain]ChainSources{
			domain.ChainSolana: {History: []HistorySource{primary, generic}},
		},
		Archive: archive,
	})
	ctx := context.Background()

	got, err := svc.PriceHistory(ctx, domain.ChainSolana, "MintA", window)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2000), got[0].TimestampMs)

	archived, err := archive.GetByTimeRange(ctx, domain.ChainSolana, "MintA", 0, 10_000)
	require.NoError(t, err)
	assert.Len(t, archived, 2)

	// providers go dark; the archive answers
	generic.history = nil
	generic.err = upstreamDown
	got, err = svc.PriceHistory(ctx, domain.ChainSolana, "MintA", window)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestPriceHistory_EmptyIsNotCached(t *testing.T) {
	src := &fakeSource{name: "h"}
	svc := NewService(Options{
		Sources: map[domain.Chain]ChainSources{domain.ChainBase: {History: []HistorySource{src}}},
		Cache:   cache.NewMemory(),
	})
	ctx := context.Background()
	window := domain.Window{FromMs: 0, ToMs: 10}

	got, err := svc.PriceHistory(ctx, domain.ChainBase, "0xabc", window)
	require.NoError(t, err)
	assert.Empty(t, got)

	src.history = []domain.PricePoint{{TimestampMs: 5, PriceUSD: 1}}
	got, err = svc.PriceHistory(ctx, domain.ChainBase, "0xabc", window)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestPriceHistory_OutageIsErrorAndNotCached(t *testing.T) {
	primary := &fakeSource{name: "birdeye", err: upstreamDown}
	empty := &fakeSource{name: "defillama"}
	svc := NewService(Options{
		Sources: map[domain.Chain]ChainSources{domain.ChainSolana: {History: []HistorySource{primary, empty}}},
		Cache:   cache.NewMemory(),
	})
	ctx := context.Background()
	window := domain.Window{FromMs: 0, ToMs: 10}

	_, err := svc.PriceHistory(ctx, domain.ChainSolana, "MintA", window)
	assert.ErrorIs(t, err, ErrHistoryUnavailable)
	assert.ErrorIs(t, err, provider.ErrUpstreamUnavailable)

	primary.err = nil
	primary.history = []domain.PricePoint{{TimestampMs: 5, PriceUSD: 2}}
	got, err := svc.PriceHistory(ctx, domain.ChainSolana, "MintA", window)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, int32(2), primary.calls.Load())
}

func TestTokenMetadata_MergesAcrossProviders(t *testing.T) {
	dex := &fakeSource{name: "dexscreener", meta: &domain.TokenMetadata{Address: "MintA", Symbol: "BONK", Name: "Bonk", Decimals: -1}}
	node := &fakeSource{name: "solana-rpc", meta: &domain.TokenMetadata{Address: "MintA", Decimals: 5}}
	svc := NewService(Options{
		Sources: map[domain.Chain]ChainSources{
			domain.ChainSolana: {Metadata: []MetadataSource{&fakeSource{name: "down", err: upstreamDown}, dex, node}},
		},
	})

	meta, err := svc.TokenMetadata(context.Background(), domain.ChainSolana, "MintA")
	require.NoError(t, err)
	assert.Equal(t, "BONK", meta.Symbol)
	assert.Equal(t, 5, meta.Decimals)

	_, err = svc.TokenMetadata(context.Background(), domain.ChainBase, "0xabc")
	assert.ErrorIs(t, err, provider.ErrNoData)
}

func TestSymbolsAndPrices(t *testing.T) {
	src := &fakeSource{name: "p", price: 4, meta: &domain.TokenMetadata{Symbol: "TOK", Decimals: 9}}
	svc := NewService(Options{
		Sources: map[domain.Chain]ChainSources{
			domain.ChainSolana: {Prices: []PriceSource{src}, Metadata: []MetadataSource{src}},
		},
		Cache: cache.NewMemory(),
	})
	ctx := context.Background()
	tokens := []string{"A", "B", "A", normalization.SolanaNativeAddress}

	symbols := svc.Symbols(ctx, domain.ChainSolana, tokens)
	assert.Len(t, symbols, 3)
	assert.Equal(t, "TOK", symbols["B"])

	prices := svc.Prices(ctx, domain.ChainSolana, tokens)
	assert.Equal(t, 4.0, prices["A"])
}

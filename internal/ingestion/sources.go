package ingestion

import (
	"context"

	"conviction-lab/internal/domain"
	"conviction-lab/internal/normalization"
)

// TradeSource provides one wallet's trade history from one provider.
type TradeSource interface {
	Name() string

	// FetchTrades returns raw records inside window, newest pages first.
	// An error means the provider is unusable for this request; an empty
	// result with a nil error means it has nothing for the wallet.
	FetchTrades(ctx context.Context, wallet string, window domain.Window) ([]normalization.RawTrade, error)
}

// MarketData prices and labels normalized trades. Implemented by
// pricing.Service.
type MarketData interface {
	// NativePrice returns 0 when the native coin cannot be priced.
	NativePrice(ctx context.Context, chain domain.Chain) float64
	Symbols(ctx context.Context, chain domain.Chain, tokens []string) map[string]string
	Prices(ctx context.Context, chain domain.Chain, tokens []string) map[string]float64
}

// Package stub provides in-memory ingestion sources for tests and offline runs.
package stub

import (
	"context"
	"sync"

	"conviction-lab/internal/domain"
	"conviction-lab/internal/normalization"
)

// StubTradeSource returns fixed in-memory records, or a fixed error.
// Implements ingestion.TradeSource interface.
type StubTradeSource struct {
	name    string
	records []normalization.RawTrade
	err     error

	mu    sync.Mutex
	calls int
}

// NewStubTradeSource creates a stub source that returns records.
func NewStubTradeSource(name string, records []normalization.RawTrade) *StubTradeSource {
	return &StubTradeSource{name: name, records: records}
}

// NewFailingSource creates a stub source whose every fetch fails with err.
func NewFailingSource(name string, err error) *StubTradeSource {
	return &StubTradeSource{name: name, err: err}
}

// Name returns the configured provider name.
func (s *StubTradeSource) Name() string {
	return s.name
}

// FetchTrades returns the records inside window.
// Returns copies to prevent mutation.
func (s *StubTradeSource) FetchTrades(_ context.Context, _ string, window domain.Window) ([]normalization.RawTrade, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	var result []normalization.RawTrade
	for _, r := range s.records {
		if window.Contains(r.TimestampMs) {
			c := r
			c.Legs = append([]normalization.Leg(nil), r.Legs...)
			result = append(result, c)
		}
	}
	return result, nil
}

// Calls returns how many times FetchTrades was called.
func (s *StubTradeSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// StubMarket prices and labels tokens from fixed maps.
// Implements ingestion.MarketData interface.
type StubMarket struct {
	Native float64
	Symbol map[string]string
	Price  map[string]float64
}

// NativePrice returns the fixed native price.
func (m *StubMarket) NativePrice(context.Context, domain.Chain) float64 {
	return m.Native
}

// Symbols returns the known symbols among tokens.
func (m *StubMarket) Symbols(_ context.Context, _ domain.Chain, tokens []string) map[string]string {
	out := make(map[string]string)
	for _, t := range tokens {
		if s, ok := m.Symbol[t]; ok {
			out[t] = s
		}
	}
	return out
}

// Prices returns the known prices among tokens.
func (m *StubMarket) Prices(_ context.Context, _ domain.Chain, tokens []string) map[string]float64 {
	out := make(map[string]float64)
	for _, t := range tokens {
		if p, ok := m.Price[t]; ok {
			out[t] = p
		}
	}
	return out
}

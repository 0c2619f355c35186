package ingestion

import (
	"fmt"

	"conviction-lab/internal/domain"
	"conviction-lab/internal/normalization"
)

// DedupeTrades drops repeated (hash, token) pairs, keeping the first, and
// returns the trades in deterministic order with the number dropped.
func DedupeTrades(trades []*domain.Trade) ([]*domain.Trade, int) {
	seen := make(map[string]struct{}, len(trades))
	out := make([]*domain.Trade, 0, len(trades))
	for _, t := range trades {
		key := t.DedupKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	normalization.SortTrades(out)
	return out, len(trades) - len(out)
}

// FilterMinValue keeps trades worth at least minValueUSD. Trades without a
// USD value are kept: they cannot be judged as dust.
func FilterMinValue(trades []*domain.Trade, minValueUSD float64) ([]*domain.Trade, int) {
	if minValueUSD <= 0 {
		return trades, 0
	}
	out := trades[:0:0]
	for _, t := range trades {
		if t.ValueUSD > 0 && t.ValueUSD < minValueUSD {
			continue
		}
		out = append(out, t)
	}
	return out, len(trades) - len(out)
}

// ValidateTradeOrdering checks that trades are time-ascending with no
// repeated (hash, token) pair. Errors wrap normalization.ErrInvalidOrdering.
func ValidateTradeOrdering(trades []*domain.Trade) error {
	if err := normalization.ValidateTradeOrdering(trades); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(trades))
	for _, t := range trades {
		if _, dup := seen[t.DedupKey()]; dup {
			return fmt.Errorf("%w: repeated trade %s", normalization.ErrInvalidOrdering, t.DedupKey())
		}
		seen[t.DedupKey()] = struct{}{}
	}
	return nil
}

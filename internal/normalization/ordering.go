package normalization

import (
	"errors"
	"fmt"
	"sort"

	"conviction-lab/internal/domain"
)

// ErrInvalidOrdering is returned when trades are not properly ordered.
var ErrInvalidOrdering = errors.New("trades are not in deterministic order")

// SortTrades orders trades by (timestamp ASC, hash ASC, token ASC).
func SortTrades(trades []*domain.Trade) {
	sort.Slice(trades, func(i, j int) bool {
		return compareTrades(trades[i], trades[j]) < 0
	})
}

// ValidateTradeOrdering checks that trades are strictly ordered by
// SortTrades' key.
func ValidateTradeOrdering(trades []*domain.Trade) error {
	for i := 1; i < len(trades); i++ {
		if compareTrades(trades[i-1], trades[i]) >= 0 {
			return fmt.Errorf("%w: trade %d (%s) after %s", ErrInvalidOrdering, i, trades[i].Hash, trades[i-1].Hash)
		}
	}
	return nil
}

// compareTrades returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
//
// Order: (timestamp ASC, hash ASC, token_address ASC)
func compareTrades(a, b *domain.Trade) int {
	if a.TimestampMs != b.TimestampMs {
		if a.TimestampMs < b.TimestampMs {
			return -1
		}
		return 1
	}
	if a.Hash != b.Hash {
		if a.Hash < b.Hash {
			return -1
		}
		return 1
	}
	if a.TokenAddress != b.TokenAddress {
		if a.TokenAddress < b.TokenAddress {
			return -1
		}
		return 1
	}
	return 0
}

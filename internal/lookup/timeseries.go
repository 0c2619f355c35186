// Package lookup answers point queries over price series.
package lookup

import (
	"errors"

	"conviction-lab/internal/domain"
)

// ErrNoPriceData is returned when a series has no usable point.
var ErrNoPriceData = errors.New("no price data available")

// PriceAt returns the price at or before target.
// If no price precedes target, the first available price is returned.
// points must be sorted by timestamp ascending.
func PriceAt(target int64, points []domain.PricePoint) (float64, error) {
	if len(points) == 0 {
		return 0, ErrNoPriceData
	}

	for i := len(points) - 1; i >= 0; i-- {
		if points[i].TimestampMs <= target {
			return points[i].PriceUSD, nil
		}
	}
	return points[0].PriceUSD, nil
}

// MaxAt returns the highest positive price in points; ties keep the earliest.
func MaxAt(points []domain.PricePoint) (domain.PricePoint, error) {
	var (
		best  domain.PricePoint
		found bool
	)
	for _, p := range points {
		if p.PriceUSD <= 0 {
			continue
		}
		if !found || p.PriceUSD > best.PriceUSD {
			best, found = p, true
		}
	}
	if !found {
		return domain.PricePoint{}, ErrNoPriceData
	}
	return best, nil
}

// Within returns the points whose timestamps lie inside window.
func Within(points []domain.PricePoint, window domain.Window) []domain.PricePoint {
	var out []domain.PricePoint
	for _, p := range points {
		if window.Contains(p.TimestampMs) {
			out = append(out, p)
		}
	}
	return out
}

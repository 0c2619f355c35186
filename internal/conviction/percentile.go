package conviction

import "math"

// Percentile bounds for non-empty portfolios. A percentile reads as "top X%":
// lower is better.
const (
	MinPercentile = 1
	MaxPercentile = 99
)

// DefaultMinPopulation is the smallest stored cohort an empirical
// percentile is computed against.
const DefaultMinPopulation = 20

// FallbackPercentile is the score-only percentile used when no cohort is
// available: 100 - floor(score), clamped to [1, 99].
func FallbackPercentile(score float64) int {
	return clampInt(100-int(math.Floor(score)), MinPercentile, MaxPercentile)
}

// EmpiricalPercentile ranks a wallet within a cohort of total wallets, of
// which higher scored strictly better. The best wallet is in the top 1%.
func EmpiricalPercentile(higher, total int) int {
	if total <= 0 {
		return 0
	}
	if higher < 0 {
		higher = 0
	}
	p := int(math.Floor(float64(higher)/float64(total)*100)) + 1
	return clampInt(p, MinPercentile, MaxPercentile)
}

// Percentile picks the empirical percentile when the cohort has at least
// minPopulation members, and the fallback otherwise. Empty portfolios
// (totalPositions == 0) always get 0.
func Percentile(score float64, totalPositions, higher, total, minPopulation int) int {
	if totalPositions == 0 {
		return 0
	}
	if total >= minPopulation && total > 0 {
		return EmpiricalPercentile(higher, total)
	}
	return FallbackPercentile(score)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

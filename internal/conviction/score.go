package conviction

import (
	"math"

	"conviction-lab/internal/domain"
	"conviction-lab/internal/position"
)

// Reputation multiplier bounds: a 0 reputation scales the raw score by
// ReputationFloor, a 100 reputation by ReputationFloor+ReputationSpan.
const (
	ReputationFloor = 0.9
	ReputationSpan  = 0.2
)

// Options controls one scoring run.
type Options struct {
	// AsOfMs closes the holding period of active positions.
	// 0 uses the latest trade timestamp among the positions.
	AsOfMs int64

	// ReputationScore, when set, scales the raw score before clamping
	// and archetype thresholds. Expected range [0, 100].
	ReputationScore *float64

	// Weights defaults to WeightsV1.
	Weights *Weights
}

// Score computes ConvictionMetrics from enriched positions. It is pure.
// Percentile is the score-derived fallback; callers with a stored
// population replace it with EmpiricalPercentile.
func Score(positions []*domain.Position, opts Options) domain.ConvictionMetrics {
	w := WeightsV1
	if opts.Weights != nil {
		w = *opts.Weights
	}

	n := len(positions)
	if n == 0 {
		return domain.ConvictionMetrics{
			Archetype:      Classify(0, 0, w),
			WeightsVersion: w.Version,
		}
	}

	asOf := opts.AsOfMs
	if asOf == 0 {
		asOf = latestTimestamp(positions)
	}

	var (
		wins, convictionWins, earlyExits, exited int
		totalRealized, totalTax, totalHold       float64
	)
	for _, p := range positions {
		early := p.PatienceTax != nil && p.PatienceTax.IsEarlyExit
		if position.RealizedPnL(p) > 0 {
			wins++
			if !early {
				convictionWins++
			}
		}
		if len(p.Exits) > 0 {
			exited++
			if early {
				earlyExits++
			}
		}
		if p.PatienceTax != nil {
			totalTax += p.PatienceTax.PatienceTaxUSD
		}
		totalRealized += p.TotalRealizedUSD
		totalHold += position.HoldingPeriodDays(p, asOf)
	}

	winRate := pct(float64(wins), float64(n))
	upside := pct(totalRealized, totalRealized+totalTax)
	earlyRate := pct(float64(earlyExits), float64(exited))
	avgHold := totalHold / float64(n)

	raw := w.WinRate*winRate +
		w.UpsideCapture*upside +
		w.ExitDiscipline*(100-earlyRate) +
		holdingComponent(avgHold, w)

	if opts.ReputationScore != nil {
		raw *= ReputationMultiplier(*opts.ReputationScore)
	}
	score := clamp(raw, 0, 100)

	return domain.ConvictionMetrics{
		Score:                score,
		PatienceTaxUSD:       totalTax,
		UpsideCapturePct:     upside,
		EarlyExitCount:       earlyExits,
		ConvictionWinCount:   convictionWins,
		Percentile:           FallbackPercentile(score),
		Archetype:            Classify(score, totalTax, w),
		TotalPositions:       n,
		AvgHoldingPeriodDays: avgHold,
		WinRatePct:           winRate,
		EarlyExitRatePct:     earlyRate,
		WeightsVersion:       w.Version,
	}
}

// Classify applies the archetype decision list; the first match wins.
func Classify(score, patienceTaxUSD float64, w Weights) domain.Archetype {
	switch {
	case score > w.IronPillarMinScore && patienceTaxUSD < w.IronPillarMaxTaxUSD:
		return domain.ArchetypeIronPillar
	case score > w.ProfitPhantomMinScore && patienceTaxUSD > w.ProfitPhantomMinTax:
		return domain.ArchetypeProfitPhantom
	case score < w.ExitVoyagerMaxScore:
		return domain.ArchetypeExitVoyager
	default:
		return domain.ArchetypeDiamondHand
	}
}

// ReputationMultiplier maps a reputation score in [0, 100] to a score
// multiplier in [ReputationFloor, ReputationFloor+ReputationSpan].
// Out-of-range inputs are clamped.
func ReputationMultiplier(reputation float64) float64 {
	if math.IsNaN(reputation) {
		return 1
	}
	return ReputationFloor + ReputationSpan*clamp(reputation, 0, 100)/100
}

func holdingComponent(avgHoldDays float64, w Weights) float64 {
	if w.HoldingSaturationDays <= 0 {
		return 0
	}
	return math.Min(avgHoldDays/w.HoldingSaturationDays, 1) * w.HoldingPoints
}

func latestTimestamp(positions []*domain.Position) int64 {
	var latest int64
	for _, p := range positions {
		for _, t := range p.Entries {
			if t.TimestampMs > latest {
				latest = t.TimestampMs
			}
		}
		for _, t := range p.Exits {
			if t.TimestampMs > latest {
				latest = t.TimestampMs
			}
		}
	}
	return latest
}

// pct returns num/den*100, or 0 when den is not positive.
func pct(num, den float64) float64 {
	if den <= 0 {
		return 0
	}
	return num / den * 100
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

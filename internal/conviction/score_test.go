package conviction

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conviction-lab/internal/domain"
	"conviction-lab/internal/position"
)

const day = int64(24 * 60 * 60 * 1000)

var t0 = int64(1700000000000)

func buy(hash, token string, ts int64, amount, value float64) *domain.Trade {
	return &domain.Trade{Hash: hash, TokenAddress: token, Side: domain.SideBuy, TimestampMs: ts, Amount: amount, ValueUSD: value}
}

func sell(hash, token string, ts int64, amount, value float64) *domain.Trade {
	return &domain.Trade{Hash: hash, TokenAddress: token, Side: domain.SideSell, TimestampMs: ts, Amount: amount, ValueUSD: value}
}

func reputation(v float64) *float64 { return &v }

// roundTrip is the 100 tokens bought at $1, sold at $3 ten days later,
// with a post-exit peak of $6.
func roundTrip(t *testing.T) []*domain.Position {
	t.Helper()
	positions := position.Aggregate([]*domain.Trade{
		buy("b1", "TOK", t0, 100, 100),
		sell("s1", "TOK", t0+10*day, 100, 300),
	})
	require.Len(t, positions, 1)
	positions[0].PatienceTax = &domain.PatienceTaxAnalysis{
		PatienceTaxUSD:   300,
		MaxMissedGainPct: 100,
		WouldBeValueUSD:  600,
		IsEarlyExit:      true,
		HistoryPoints:    24,
	}
	return positions
}

func TestScore_EmptyPortfolio(t *testing.T) {
	m := Score(nil, Options{})

	assert.Equal(t, 0.0, m.Score)
	assert.Equal(t, 0, m.Percentile)
	assert.Equal(t, 0, m.TotalPositions)
	assert.Equal(t, domain.ArchetypeExitVoyager, m.Archetype)
	assert.Equal(t, "v1", m.WeightsVersion)
}

func TestScore_RoundTripExample(t *testing.T) {
	m := Score(roundTrip(t), Options{AsOfMs: t0 + 30*day})

	// 100*0.25 + 50*0.35 + (100-100)*0.25 + (10/30)*15
	assert.InDelta(t, 47.5, m.Score, 1e-9)
	assert.InDelta(t, 100.0, m.WinRatePct, 1e-9)
	assert.InDelta(t, 50.0, m.UpsideCapturePct, 1e-9)
	assert.InDelta(t, 100.0, m.EarlyExitRatePct, 1e-9)
	assert.InDelta(t, 10.0, m.AvgHoldingPeriodDays, 1e-9)
	assert.Equal(t, 300.0, m.PatienceTaxUSD)
	assert.Equal(t, 1, m.EarlyExitCount)
	assert.Equal(t, 0, m.ConvictionWinCount, "early exits are not conviction wins")
	assert.Equal(t, 53, m.Percentile)
	assert.Equal(t, domain.ArchetypeDiamondHand, m.Archetype)
}

func TestScore_PerfectTrader(t *testing.T) {
	positions := position.Aggregate([]*domain.Trade{
		buy("b1", "A", t0, 10, 100),
		sell("s1", "A", t0+45*day, 10, 400),
	})
	positions[0].PatienceTax = &domain.PatienceTaxAnalysis{}

	m := Score(positions, Options{})

	assert.InDelta(t, 100.0, m.Score, 1e-9)
	assert.Equal(t, 1, m.Percentile)
	assert.Equal(t, 1, m.ConvictionWinCount)
	assert.Equal(t, domain.ArchetypeIronPillar, m.Archetype)
}

func TestScore_ActiveOnly(t *testing.T) {
	positions := position.Aggregate([]*domain.Trade{
		buy("b1", "A", t0, 10, 100),
	})

	m := Score(positions, Options{AsOfMs: t0 + 60*day})

	// No exits: early-exit rate 0, holding saturated.
	assert.InDelta(t, 40.0, m.Score, 1e-9)
	assert.Equal(t, 0.0, m.WinRatePct)
	assert.Equal(t, 0.0, m.UpsideCapturePct)
	assert.Equal(t, 0.0, m.EarlyExitRatePct)
	assert.Equal(t, domain.ArchetypeDiamondHand, m.Archetype)
}

func TestScore_DefaultAsOfIsLatestTrade(t *testing.T) {
	positions := position.Aggregate([]*domain.Trade{
		buy("b1", "A", t0, 10, 100),
		buy("b2", "B", t0+6*day, 10, 100),
	})

	m := Score(positions, Options{})

	// A held 6 days, B held 0 days.
	assert.InDelta(t, 3.0, m.AvgHoldingPeriodDays, 1e-9)
}

func TestScore_ReputationMultiplier(t *testing.T) {
	low := Score(roundTrip(t), Options{AsOfMs: t0 + 30*day, ReputationScore: reputation(0)})
	high := Score(roundTrip(t), Options{AsOfMs: t0 + 30*day, ReputationScore: reputation(100)})

	assert.InDelta(t, 47.5*0.9, low.Score, 1e-9)
	assert.InDelta(t, 47.5*1.1, high.Score, 1e-9)
}

func TestScore_ReputationAppliedBeforeThresholds(t *testing.T) {
	positions := position.Aggregate([]*domain.Trade{
		buy("b1", "A", t0, 10, 100),
		sell("s1", "A", t0+45*day, 10, 400),
	})
	positions[0].PatienceTax = &domain.PatienceTaxAnalysis{}

	m := Score(positions, Options{ReputationScore: reputation(0)})

	// 100 * 0.9 = 90 is not above the IronPillar threshold.
	assert.InDelta(t, 90.0, m.Score, 1e-9)
	assert.Equal(t, domain.ArchetypeDiamondHand, m.Archetype)
	assert.Equal(t, 10, m.Percentile)
}

func TestScore_ClampedForAllInputs(t *testing.T) {
	cases := [][]*domain.Trade{
		{buy("b1", "A", t0, 1, 1)},
		{buy("b1", "A", t0, 1, 1), sell("s1", "A", t0+1, 1, 1e9)},
		{buy("b1", "A", t0, 1, 1e9), sell("s1", "A", t0+400*day, 1, 0)},
		{buy("b1", "A", t0, 1e-12, 1e-12), sell("s1", "A", t0, 2e-12, 5)},
	}
	reps := []*float64{nil, reputation(-50), reputation(0), reputation(100), reputation(1000)}

	for i, trades := range cases {
		for _, rep := range reps {
			m := Score(position.Aggregate(trades), Options{ReputationScore: rep})
			assert.GreaterOrEqual(t, m.Score, 0.0, "case %d", i)
			assert.LessOrEqual(t, m.Score, 100.0, "case %d", i)
			assert.GreaterOrEqual(t, m.Percentile, 1, "case %d", i)
			assert.LessOrEqual(t, m.Percentile, 99, "case %d", i)
		}
	}
}

func TestScore_CustomWeights(t *testing.T) {
	w := WeightsV1
	w.Version = "test"
	w.HoldingPoints = 0

	m := Score(roundTrip(t), Options{AsOfMs: t0 + 30*day, Weights: &w})

	assert.InDelta(t, 42.5, m.Score, 1e-9)
	assert.Equal(t, "test", m.WeightsVersion)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		score float64
		tax   float64
		want  domain.Archetype
	}{
		{"iron pillar", 95, 500, domain.ArchetypeIronPillar},
		{"high score heavy tax", 95, 6000, domain.ArchetypeProfitPhantom},
		{"profit phantom", 75, 5001, domain.ArchetypeProfitPhantom},
		{"tax at threshold", 75, 5000, domain.ArchetypeDiamondHand},
		{"score at iron threshold", 90, 0, domain.ArchetypeDiamondHand},
		{"exit voyager", 39.9, 0, domain.ArchetypeExitVoyager},
		{"score at voyager threshold", 40, 0, domain.ArchetypeDiamondHand},
		{"diamond hand", 60, 10000, domain.ArchetypeDiamondHand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.score, tt.tax, WeightsV1))
		})
	}
}

func TestReputationMultiplier(t *testing.T) {
	assert.InDelta(t, 0.9, ReputationMultiplier(0), 1e-12)
	assert.InDelta(t, 1.0, ReputationMultiplier(50), 1e-12)
	assert.InDelta(t, 1.1, ReputationMultiplier(100), 1e-12)
	assert.InDelta(t, 0.9, ReputationMultiplier(-10), 1e-12)
	assert.InDelta(t, 1.1, ReputationMultiplier(250), 1e-12)
	assert.Equal(t, 1.0, ReputationMultiplier(math.NaN()))
}

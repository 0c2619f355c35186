// Package conviction derives the wallet conviction score, archetype and
// percentile from enriched positions.
package conviction

// Weights is one version of the scoring formula and archetype thresholds.
//
//	score = WinRate*winRate + UpsideCapture*upsideCapture
//	      + ExitDiscipline*(100 - earlyExitRate)
//	      + HoldingPoints*min(avgHoldingDays/HoldingSaturationDays, 1)
//
// Rate inputs are percentages, so the first three terms contribute at most
// 100*(WinRate+UpsideCapture+ExitDiscipline) points.
type Weights struct {
	Version string

	WinRate        float64
	UpsideCapture  float64
	ExitDiscipline float64

	HoldingPoints         float64
	HoldingSaturationDays float64

	IronPillarMinScore    float64
	IronPillarMaxTaxUSD   float64
	ProfitPhantomMinScore float64
	ProfitPhantomMinTax   float64
	ExitVoyagerMaxScore   float64
}

// WeightsV1 is the current production formula.
var WeightsV1 = Weights{
	Version: "v1",

	WinRate:        0.25,
	UpsideCapture:  0.35,
	ExitDiscipline: 0.25,

	HoldingPoints:         15,
	HoldingSaturationDays: 30,

	IronPillarMinScore:    90,
	IronPillarMaxTaxUSD:   1000,
	ProfitPhantomMinScore: 70,
	ProfitPhantomMinTax:   5000,
	ExitVoyagerMaxScore:   40,
}

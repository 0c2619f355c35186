package domain

// Archetype is the behavioral label derived from a conviction score.
type Archetype string

const (
	ArchetypeIronPillar    Archetype = "IronPillar"
	ArchetypeProfitPhantom Archetype = "ProfitPhantom"
	ArchetypeExitVoyager   Archetype = "ExitVoyager"
	ArchetypeDiamondHand   Archetype = "DiamondHand"
)

// String returns the string representation of Archetype.
func (a Archetype) String() string {
	return string(a)
}

// ConvictionMetrics is the per-wallet result of one analysis run.
type ConvictionMetrics struct {
	Score                float64   `json:"score"` // [0, 100]
	PatienceTaxUSD       float64   `json:"patienceTaxUsd"`
	UpsideCapturePct     float64   `json:"upsideCapturePct"`
	EarlyExitCount       int       `json:"earlyExitCount"`
	ConvictionWinCount   int       `json:"convictionWinCount"`
	Percentile           int       `json:"percentile"` // [1, 99], 0 for an empty portfolio
	Archetype            Archetype `json:"archetype"`
	TotalPositions       int       `json:"totalPositions"`
	AvgHoldingPeriodDays float64   `json:"avgHoldingPeriodDays"`
	WinRatePct           float64   `json:"winRatePct"`
	EarlyExitRatePct     float64   `json:"earlyExitRatePct"`
	WeightsVersion       string    `json:"weightsVersion"`
}

// ConvictionSnapshot is the persisted form of ConvictionMetrics.
// Keyed by (Address, Chain, TimeHorizonDays, SnapshotDate).
type ConvictionSnapshot struct {
	ID              string // deterministic hash of the key
	Address         string
	Chain           Chain
	TimeHorizonDays int
	SnapshotDate    string // YYYY-MM-DD (UTC)
	Metrics         ConvictionMetrics
	ComputedAt      int64 // Unix ms
}

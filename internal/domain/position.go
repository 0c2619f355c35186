package domain

// Position aggregates all trades of one wallet in one token.
type Position struct {
	TokenAddress     string   `json:"tokenAddress"`
	TokenSymbol      string   `json:"tokenSymbol,omitempty"`
	Entries          []*Trade `json:"entries"` // side=buy, time ascending
	Exits            []*Trade `json:"exits"`   // side=sell, time ascending
	AvgEntryPrice    float64  `json:"avgEntryPrice"`
	TotalInvestedUSD float64  `json:"totalInvestedUsd"`
	TotalRealizedUSD float64  `json:"totalRealizedUsd"`
	RemainingBalance float64  `json:"remainingBalance"` // sum(entries.amount) - sum(exits.amount)
	IsActive         bool     `json:"isActive"`         // RemainingBalance > 0

	// PatienceTax is set by the patience engine for positions with exits.
	PatienceTax *PatienceTaxAnalysis `json:"patienceTax,omitempty"`
}

// EntryAmount returns the total bought amount.
func (p *Position) EntryAmount() float64 {
	var sum float64
	for _, t := range p.Entries {
		sum += t.Amount
	}
	return sum
}

// ExitAmount returns the total sold amount.
func (p *Position) ExitAmount() float64 {
	var sum float64
	for _, t := range p.Exits {
		sum += t.Amount
	}
	return sum
}

// LastExit returns the most recent exit trade, or nil.
func (p *Position) LastExit() *Trade {
	if len(p.Exits) == 0 {
		return nil
	}
	return p.Exits[len(p.Exits)-1]
}

// FirstEntry returns the earliest entry trade, or nil.
func (p *Position) FirstEntry() *Trade {
	if len(p.Entries) == 0 {
		return nil
	}
	return p.Entries[0]
}

// PatienceTaxAnalysis is the post-exit counterfactual of a position.
type PatienceTaxAnalysis struct {
	PatienceTaxUSD           float64 `json:"patienceTaxUsd"` // >= 0
	MaxMissedGainPct         float64 `json:"maxMissedGainPct"`
	MaxMissedGainTimestampMs int64   `json:"maxMissedGainTimestamp"`
	WouldBeValueUSD          float64 `json:"wouldBeValueUsd"`
	IsEarlyExit              bool    `json:"isEarlyExit"`
	HistoryPoints            int     `json:"historyPoints"` // 0 when no history was available
}

// PositionAnalysis is the caller-facing view of a Position.
type PositionAnalysis struct {
	TokenAddress      string               `json:"tokenAddress"`
	TokenSymbol       string               `json:"tokenSymbol,omitempty"`
	EntryCount        int                  `json:"entryCount"`
	ExitCount         int                  `json:"exitCount"`
	AvgEntryPrice     float64              `json:"avgEntryPrice"`
	AvgExitPrice      float64              `json:"avgExitPrice"`
	TotalInvestedUSD  float64              `json:"totalInvestedUsd"`
	TotalRealizedUSD  float64              `json:"totalRealizedUsd"`
	RealizedPnLUSD    float64              `json:"realizedPnlUsd"`
	RemainingBalance  float64              `json:"remainingBalance"`
	IsActive          bool                 `json:"isActive"`
	FirstEntryMs      int64                `json:"firstEntryTimestamp"`
	LastExitMs        int64                `json:"lastExitTimestamp,omitempty"`
	HoldingPeriodDays float64              `json:"holdingPeriodDays"`
	IsEarlyExit       bool                 `json:"isEarlyExit"`
	PatienceTax       *PatienceTaxAnalysis `json:"patienceTax,omitempty"`
}

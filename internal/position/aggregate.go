// Package position groups normalized trades into per-token positions.
package position

import (
	"sort"

	"conviction-lab/internal/domain"
)

const msPerDay = 24 * 60 * 60 * 1000

// Aggregate groups trades by token into positions. It is pure: the same
// trades always give the same positions, in the same order.
// Positions without entries or without invested value are dropped.
func Aggregate(trades []*domain.Trade) []*domain.Position {
	byToken := make(map[string]*domain.Position)

	sorted := make([]*domain.Trade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TimestampMs < sorted[j].TimestampMs
	})

	for _, t := range sorted {
		p, ok := byToken[t.TokenAddress]
		if !ok {
			p = &domain.Position{TokenAddress: t.TokenAddress}
			byToken[t.TokenAddress] = p
		}
		if p.TokenSymbol == "" {
			p.TokenSymbol = t.TokenSymbol
		}

		switch t.Side {
		case domain.SideBuy:
			p.Entries = append(p.Entries, t)
			p.TotalInvestedUSD += t.ValueUSD
		case domain.SideSell:
			p.Exits = append(p.Exits, t)
			p.TotalRealizedUSD += t.ValueUSD
		}
	}

	positions := make([]*domain.Position, 0, len(byToken))
	for _, p := range byToken {
		if len(p.Entries) == 0 || p.TotalInvestedUSD <= 0 {
			continue
		}

		entryAmount := p.EntryAmount()
		if entryAmount > 0 {
			p.AvgEntryPrice = p.TotalInvestedUSD / entryAmount
		}
		p.RemainingBalance = entryAmount - p.ExitAmount()
		p.IsActive = p.RemainingBalance > 0

		positions = append(positions, p)
	}

	sort.Slice(positions, func(i, j int) bool {
		a, b := positions[i].FirstEntry().TimestampMs, positions[j].FirstEntry().TimestampMs
		if a != b {
			return a < b
		}
		return positions[i].TokenAddress < positions[j].TokenAddress
	})

	return positions
}

// Trades flattens positions back into a trade list. List membership decides
// the side and token: entries are buys and exits are sells of the
// position's token. Nil positions and trades are skipped; the returned
// trades are copies.
func Trades(positions []*domain.Position) []*domain.Trade {
	var out []*domain.Trade
	add := func(p *domain.Position, trades []*domain.Trade, side domain.Side) {
		for _, t := range trades {
			if t == nil {
				continue
			}
			c := *t
			c.Side = side
			c.TokenAddress = p.TokenAddress
			out = append(out, &c)
		}
	}
	for _, p := range positions {
		if p == nil {
			continue
		}
		add(p, p.Entries, domain.SideBuy)
		add(p, p.Exits, domain.SideSell)
	}
	return out
}

// RealizedPnL is realized proceeds minus the cost basis of the sold amount.
func RealizedPnL(p *domain.Position) float64 {
	if len(p.Exits) == 0 {
		return 0
	}
	return p.TotalRealizedUSD - p.AvgEntryPrice*p.ExitAmount()
}

// HoldingPeriodDays measures from the first entry to the last exit, or to
// asOfMs while the position is still active.
func HoldingPeriodDays(p *domain.Position, asOfMs int64) float64 {
	first := p.FirstEntry()
	if first == nil {
		return 0
	}
	end := asOfMs
	if !p.IsActive {
		if last := p.LastExit(); last != nil {
			end = last.TimestampMs
		}
	}
	if end <= first.TimestampMs {
		return 0
	}
	return float64(end-first.TimestampMs) / msPerDay
}

// Analyze builds the caller-facing view of a position.
func Analyze(p *domain.Position, asOfMs int64) domain.PositionAnalysis {
	a := domain.PositionAnalysis{
		TokenAddress:      p.TokenAddress,
		TokenSymbol:       p.TokenSymbol,
		EntryCount:        len(p.Entries),
		ExitCount:         len(p.Exits),
		AvgEntryPrice:     p.AvgEntryPrice,
		TotalInvestedUSD:  p.TotalInvestedUSD,
		TotalRealizedUSD:  p.TotalRealizedUSD,
		RealizedPnLUSD:    RealizedPnL(p),
		RemainingBalance:  p.RemainingBalance,
		IsActive:          p.IsActive,
		HoldingPeriodDays: HoldingPeriodDays(p, asOfMs),
		PatienceTax:       p.PatienceTax,
	}
	if first := p.FirstEntry(); first != nil {
		a.FirstEntryMs = first.TimestampMs
	}
	if last := p.LastExit(); last != nil {
		a.LastExitMs = last.TimestampMs
	}
	if exitAmount := p.ExitAmount(); exitAmount > 0 {
		a.AvgExitPrice = p.TotalRealizedUSD / exitAmount
	}
	if p.PatienceTax != nil {
		a.IsEarlyExit = p.PatienceTax.IsEarlyExit
	}
	return a
}

// AnalyzeAll builds views for all positions, preserving order.
func AnalyzeAll(positions []*domain.Position, asOfMs int64) []domain.PositionAnalysis {
	out := make([]domain.PositionAnalysis, 0, len(positions))
	for _, p := range positions {
		out = append(out, Analyze(p, asOfMs))
	}
	return out
}

package ingestion

import "conviction-lab/internal/domain"

// BuildQualityReport fills the completeness rates and average trade size of
// report from the final trade list.
func BuildQualityReport(report domain.QualityReport, trades []*domain.Trade) domain.QualityReport {
	n := len(trades)
	if n == 0 {
		report.DataCompleteness = domain.DataCompleteness{}
		report.AvgTradeSize = 0
		return report
	}

	var symbols, prices, amounts int
	var value float64
	for _, t := range trades {
		if t.TokenSymbol != "" {
			symbols++
		}
		if t.UnitPriceUSD > 0 {
			prices++
		}
		if t.Amount > 0 {
			amounts++
		}
		value += t.ValueUSD
	}

	report.DataCompleteness = domain.DataCompleteness{
		SymbolRate: float64(symbols) / float64(n),
		PriceRate:  float64(prices) / float64(n),
		AmountRate: float64(amounts) / float64(n),
	}
	report.AvgTradeSize = value / float64(n)
	return report
}

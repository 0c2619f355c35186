package domain

// DataCompleteness holds the share of trades carrying each optional field.
type DataCompleteness struct {
	SymbolRate float64 `json:"symbolRate"`
	PriceRate  float64 `json:"priceRate"`
	AmountRate float64 `json:"amountRate"`
}

// QualityReport summarizes an ingestion run.
type QualityReport struct {
	TotalRaw         int              `json:"totalRaw"`
	InvalidFiltered  int              `json:"invalidFiltered"`
	Skipped          int              `json:"skipped"` // token-to-token, LP, non-base legs
	BelowMinValue    int              `json:"belowMinValue"`
	Duplicates       int              `json:"duplicates"`
	DataCompleteness DataCompleteness `json:"dataCompleteness"`
	AvgTradeSize     float64          `json:"avgTradeSize"`
	Provider         string           `json:"provider,omitempty"`
}

package domain

// PricePoint is a single USD price observation for a token.
type PricePoint struct {
	TimestampMs int64   `json:"t"` // Unix timestamp in milliseconds
	PriceUSD    float64 `json:"p"` // USD per token
}

// TokenMetadata describes a token on a chain.
type TokenMetadata struct {
	Address  string `json:"address"`
	Chain    Chain  `json:"chain"`
	Name     string `json:"name,omitempty"`
	Symbol   string `json:"symbol,omitempty"`
	Decimals int    `json:"decimals"` // -1 when unknown
	LogoURI  string `json:"logoUri,omitempty"`
}

// HasDecimals reports whether the decimals value came from a provider.
func (m *TokenMetadata) HasDecimals() bool {
	return m != nil && m.Decimals >= 0
}

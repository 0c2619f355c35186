package domain

// Side is the direction of a trade relative to the analyzed wallet.
type Side string

// Trade side constants
const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// IsValid checks if the side is a known value.
func (s Side) IsValid() bool {
	return s == SideBuy || s == SideSell
}

// Trade is one normalized swap leg of a wallet.
// Immutable once produced by normalization.
type Trade struct {
	Hash         string  `json:"hash"`         // transaction hash / signature
	TimestampMs  int64   `json:"timestampMs"`  // Unix timestamp in milliseconds
	TokenAddress string  `json:"tokenAddress"` // traded token mint / contract
	TokenSymbol  string  `json:"tokenSymbol,omitempty"`
	Side         Side    `json:"side"`
	Amount       float64 `json:"amount"`       // token amount in human units
	UnitPriceUSD float64 `json:"unitPriceUsd"` // USD per token at execution
	ValueUSD     float64 `json:"valueUsd"`     // total USD value, >= 0
	BlockHeight  int64   `json:"blockHeight"`  // slot or block number
}

// DedupKey returns the key that identifies a trade across providers.
// A hash alone is not unique: one transaction can touch several tokens.
func (t *Trade) DedupKey() string {
	return t.Hash + "|" + t.TokenAddress
}

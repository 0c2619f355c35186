package normalization

import (
	"github.com/shopspring/decimal"
)

// RawUnitThreshold is the magnitude above which a reported amount is assumed
// to be in raw integer units rather than human units.
const RawUnitThreshold = 1e12

// CorrectScale divides amount by 10^decimals when it exceeds RawUnitThreshold.
// This is approximate: a genuine human-unit amount above the threshold is
// shrunk too. Prefer FromRaw when the provider reports raw units and decimals.
func CorrectScale(amount float64, decimals int) float64 {
	if amount <= RawUnitThreshold || decimals <= 0 {
		return amount
	}
	f, _ := decimal.NewFromFloat(amount).Shift(-int32(decimals)).Float64()
	return f
}

// FromRaw converts an integer base-unit string into human units.
func FromRaw(raw string, decimals int) (float64, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, err
	}
	f, _ := d.Shift(-int32(decimals)).Float64()
	return f, nil
}

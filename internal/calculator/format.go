package calculator

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// DisplayPlaces is the number of decimal places shown to users.
const DisplayPlaces = 2

// ToDecimal rounds an exact balance to places decimal places, half away
// from zero.
func ToDecimal(r *big.Rat, places int32) decimal.Decimal {
	if r == nil {
		return decimal.Zero
	}
	num := decimal.NewFromBigInt(r.Num(), 0)
	den := decimal.NewFromBigInt(r.Denom(), 0)
	return num.DivRound(den, places)
}

// FormatAmount renders a balance for display, e.g. "-12.50".
func FormatAmount(r *big.Rat) string {
	return ToDecimal(r, DisplayPlaces).StringFixed(DisplayPlaces)
}

// FromDecimal converts a decimal amount into an exact rational.
func FromDecimal(d decimal.Decimal) *big.Rat {
	return d.Rat()
}

package market

import (
	"math"

	"github.com/shopspring/decimal"
)

// Round3 rounds the exact binary value of x to three decimal places, half away
// from zero. 0.6325 is stored just below the midpoint and so rounds to 0.632.
func Round3(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	f, _ := decimal.NewFromFloatWithExponent(x, -3).Float64()
	return f
}

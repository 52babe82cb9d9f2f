package tradingutils

import (
	"github.com/shopspring/decimal"
)

// PriceDecimals is the precision every computed order price is rounded to
const PriceDecimals = 2

// RoundPrice rounds a price to PriceDecimals
func RoundPrice(price decimal.Decimal) decimal.Decimal {
	return price.Round(PriceDecimals)
}

// FloorContracts truncates a fractional contract count toward negative infinity
func FloorContracts(qty decimal.Decimal) decimal.Decimal {
	return qty.Floor()
}

// Clamp bounds v to [lo, hi]
func Clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

// Shift moves price by offset, up when sign is positive and down when negative
func Shift(price, offset decimal.Decimal, sign int64) decimal.Decimal {
	if sign < 0 {
		return price.Sub(offset)
	}
	return price.Add(offset)
}

// AbsDiff returns |a - b|
func AbsDiff(a, b decimal.Decimal) decimal.Decimal {
	return a.Sub(b).Abs()
}

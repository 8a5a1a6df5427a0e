package domain

import "github.com/shopspring/decimal"

// Fixed-point helpers. All platform amounts carry 18 decimal places and every
// division truncates toward zero so rounding never favours the user.

const amountPlaces int32 = 18

// Floor18 truncates a value to 18 decimal places.
func Floor18(d decimal.Decimal) decimal.Decimal {
	return d.RoundDown(amountPlaces)
}

// DivFloor divides a by b and truncates the quotient to 18 decimal places.
// The intermediate quotient is computed with extra precision so the truncation
// happens exactly at the amount scale.
func DivFloor(a, b decimal.Decimal) decimal.Decimal {
	return a.DivRound(b, amountPlaces+8).RoundDown(amountPlaces)
}

// BpsFee returns floor18(amount * bps / 10000). Multiplication and the shift
// by 1e-4 are exact in decimal, so only the final truncation loses precision.
func BpsFee(amount decimal.Decimal, bps int64) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(bps)).Shift(-4).RoundDown(amountPlaces)
}

// Package usd holds the fixed-point helpers for 18-decimal USD amounts.
//
// Oracle prices in the Compound family are scaled by 10^(36 - underlyingDecimals),
// so borrowRaw * price / 10^36 yields USD with 18 decimals for every market
// without looking at the underlying token's decimals.
package usd

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Decimals is the scale of every USD amount in the scanner.
const Decimals = 18

var (
	// One is 1 USD at 18 decimals.
	One = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

	scale36 = uint256.MustFromDecimal("1000000000000000000000000000000000000")

	// ErrNegative is returned for negative balances or prices.
	ErrNegative = errors.New("negative fixed-point input")

	// ErrOverflow is returned when an intermediate value does not fit 256 bits.
	ErrOverflow = errors.New("fixed-point overflow")
)

// ToUSD18 computes floor(borrowRaw * priceMantissa / 10^36).
func ToUSD18(borrowRaw, priceMantissa *big.Int) (*big.Int, error) {
	if borrowRaw == nil || priceMantissa == nil {
		return new(big.Int), nil
	}
	if borrowRaw.Sign() < 0 || priceMantissa.Sign() < 0 {
		return nil, ErrNegative
	}
	b, overflow := uint256.FromBig(borrowRaw)
	if overflow {
		return nil, fmt.Errorf("borrow %s: %w", borrowRaw, ErrOverflow)
	}
	p, overflow := uint256.FromBig(priceMantissa)
	if overflow {
		return nil, fmt.Errorf("price %s: %w", priceMantissa, ErrOverflow)
	}
	out, overflow := new(uint256.Int).MulDivOverflow(b, p, scale36)
	if overflow {
		return nil, fmt.Errorf("borrow %s * price %s: %w", borrowRaw, priceMantissa, ErrOverflow)
	}
	return out.ToBig(), nil
}

// FromWhole converts a whole-dollar amount to 18-decimal fixed point.
func FromWhole(dollars int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(dollars), One)
}

// FromFloat converts a dollar amount such as 12.5 to 18-decimal fixed point.
func FromFloat(dollars float64) *big.Int {
	return decimal.NewFromFloat(dollars).Shift(Decimals).BigInt()
}

// Format renders an 18-decimal amount as dollars with two decimals.
func Format(v *big.Int) string {
	if v == nil {
		return "0.00"
	}
	return decimal.NewFromBigInt(v, -Decimals).StringFixed(2)
}

// HealthRatio is the telemetry health factor: 1 + liquidity/borrow while the
// account has no shortfall, (borrow - shortfall)/borrow otherwise. ok is false
// when borrow is zero.
func HealthRatio(borrow, liquidity, shortfall *big.Int) (ratio float64, ok bool) {
	if borrow == nil || borrow.Sign() <= 0 {
		return 0, false
	}
	b := decimal.NewFromBigInt(borrow, 0)
	var r decimal.Decimal
	if shortfall != nil && shortfall.Sign() > 0 {
		r = b.Sub(decimal.NewFromBigInt(shortfall, 0)).DivRound(b, 8)
	} else {
		liq := decimal.Zero
		if liquidity != nil {
			liq = decimal.NewFromBigInt(liquidity, 0)
		}
		r = decimal.NewFromInt(1).Add(liq.DivRound(b, 8))
	}
	f, _ := r.Float64()
	return f, true
}

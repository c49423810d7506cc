package domain

import "math/big"

// PriceScaleDecimals is the number of decimals in the protocol's
// fixed-point representation.
const PriceScaleDecimals = 6

// PriceScale is the fixed-point denominator (10^PriceScaleDecimals) shared
// by prices, token amounts and realized values. The two outcome prices of a
// binary market always sum to PriceScale.
var PriceScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(PriceScaleDecimals), nil)

// ComplementPrice derives the "B"/NO side price as PriceScale - priceA.
func ComplementPrice(priceA *big.Int) *big.Int {
	return new(big.Int).Sub(PriceScale, priceA)
}

// ScaleValue computes floor(amount * price / PriceScale). Fractional value
// below the scale's precision is truncated, not rounded.
func ScaleValue(amount, price *big.Int) *big.Int {
	v := new(big.Int).Mul(amount, price)
	return v.Quo(v, PriceScale)
}

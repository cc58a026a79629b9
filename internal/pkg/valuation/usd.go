// Package valuation turns raw token amounts and oracle answers into USD
// values, collateral requirements and price movement statistics.
//
// All intermediate arithmetic is on 18-decimal fixed-point big.Ints. Values
// become strings only at the very end, through the units package.
package valuation

import (
	"math/big"

	"github.com/archon-research/lendview/internal/domain/entity"
	"github.com/archon-research/lendview/internal/pkg/units"
)

const (
	// USDPlaces is the display precision of USD values.
	USDPlaces = 2

	// PricePlaces is the display precision of USD prices.
	PricePlaces = 4

	// ZeroUSD is what every failed valuation renders as.
	ZeroUSD = "0.00"
)

// PriceRaw returns the feed answer in the 18-decimal basis, or false when the
// result cannot be used for valuation.
func PriceRaw(price entity.PriceFeedResult) (*big.Int, bool) {
	if !price.Valid() || price.FeedDecimals < 0 {
		return nil, false
	}
	return units.NormalizeTo18(price.RawPrice, price.FeedDecimals), true
}

// USDValueRaw returns amountRaw × price as an 18-decimal fixed-point USD value.
// It returns (0, false) for a failed price, a nil or negative amount, or
// negative token decimals.
func USDValueRaw(amountRaw *big.Int, tokenDecimals int, price entity.PriceFeedResult) (*big.Int, bool) {
	priceRaw, ok := PriceRaw(price)
	if !ok || amountRaw == nil || amountRaw.Sign() < 0 || tokenDecimals < 0 {
		return new(big.Int), false
	}

	amount18 := units.NormalizeTo18(amountRaw, tokenDecimals)
	value := new(big.Int).Mul(amount18, priceRaw)
	return value.Quo(value, units.One), true
}

// USDValue renders USDValueRaw with two decimals. It never panics and returns
// ZeroUSD whenever the price is unusable.
func USDValue(amountRaw *big.Int, tokenDecimals int, price entity.PriceFeedResult) string {
	value, ok := USDValueRaw(amountRaw, tokenDecimals, price)
	if !ok {
		return ZeroUSD
	}
	return FormatUSD(value)
}

// FormatUSD renders an 18-decimal USD value with two decimals.
func FormatUSD(value18 *big.Int) string {
	return units.Format(value18, units.BaseDecimals, USDPlaces)
}

// FormatPrice renders an 18-decimal USD price with four decimals.
func FormatPrice(price18 *big.Int) string {
	return units.Format(price18, units.BaseDecimals, PricePlaces)
}

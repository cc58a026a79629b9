// Package units converts raw ERC20 integer amounts between decimal bases.
//
// All scaling is integer-only. Scaling down truncates excess digits and never
// rounds; reported USD totals depend on this.
package units

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// BaseDecimals is the common fixed-point basis for cross-token arithmetic.
	BaseDecimals = 18

	// DefaultTokenDecimals is assumed for tokens with no registry descriptor.
	DefaultTokenDecimals = 6

	// DefaultFeedDecimals is reported for price feeds whose decimals() could not be read.
	DefaultFeedDecimals = 8

	// MaxIntegerDigits bounds the integer part accepted by ParseUnits; a uint256
	// has at most 78 decimal digits.
	MaxIntegerDigits = 78

	// MaxFractionDigits bounds the fractional part accepted by ParseUnits.
	MaxFractionDigits = 78
)

var (
	ten = big.NewInt(10)

	// One is 1.0 in the 18-decimal basis.
	One = Pow10(BaseDecimals)
)

// Pow10 returns 10^n as a new big.Int.
func Pow10(n int) *big.Int {
	if n < 0 {
		panic(fmt.Sprintf("units: negative exponent %d", n))
	}
	return new(big.Int).Exp(ten, big.NewInt(int64(n)), nil)
}

// Normalize rescales amount from fromDecimals to toDecimals.
// When fromDecimals > toDecimals the excess digits are truncated.
// A negative amount or negative decimals is a caller bug and panics.
func Normalize(amount *big.Int, fromDecimals, toDecimals int) *big.Int {
	if amount == nil {
		panic("units: nil amount")
	}
	if amount.Sign() < 0 {
		panic(fmt.Sprintf("units: negative amount %s", amount))
	}
	if fromDecimals < 0 || toDecimals < 0 {
		panic(fmt.Sprintf("units: negative decimals from=%d to=%d", fromDecimals, toDecimals))
	}

	switch {
	case fromDecimals == toDecimals:
		return new(big.Int).Set(amount)
	case toDecimals > fromDecimals:
		return new(big.Int).Mul(amount, Pow10(toDecimals-fromDecimals))
	default:
		return new(big.Int).Quo(amount, Pow10(fromDecimals-toDecimals))
	}
}

// NormalizeTo18 rescales amount into the 18-decimal basis.
func NormalizeTo18(amount *big.Int, fromDecimals int) *big.Int {
	return Normalize(amount, fromDecimals, BaseDecimals)
}

// DecimalsOrDefault returns decimals when known, DefaultTokenDecimals otherwise.
func DecimalsOrDefault(decimals int, known bool) int {
	if !known || decimals < 0 {
		return DefaultTokenDecimals
	}
	return decimals
}

// Format renders a fixed-point integer with the given number of decimals
// using exactly places fractional digits (half away from zero rounding).
// This is the only place where fixed-point values leave integer arithmetic.
func Format(amount *big.Int, decimals int, places int32) string {
	if amount == nil {
		return decimal.Zero.StringFixed(places)
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).StringFixed(places)
}

// FormatUnits renders amount with all of its significant fractional digits, the
// way a human-readable token amount is shown.
func FormatUnits(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

// ParseUnits parses a plain decimal string (e.g. "100.05") into a fixed-point
// integer with the given decimals. Excess fractional digits are truncated.
// Exponent notation and inputs longer than the uint256 range are rejected
// before any scaling happens.
func ParseUnits(s string, decimals int) (*big.Int, error) {
	if decimals < 0 || decimals > MaxFractionDigits {
		return nil, fmt.Errorf("parsing %q: decimals %d out of range", s, decimals)
	}
	if strings.ContainsAny(s, "eE") {
		return nil, fmt.Errorf("parsing %q: exponent notation not allowed", s)
	}
	intPart, fracPart, _ := strings.Cut(strings.TrimLeft(s, "+-"), ".")
	if n := len(strings.TrimLeft(intPart, "0")); n > MaxIntegerDigits {
		return nil, fmt.Errorf("parsing %q: %d integer digits exceeds %d", s, n, MaxIntegerDigits)
	}
	if len(fracPart) > MaxFractionDigits {
		return nil, fmt.Errorf("parsing %q: %d fractional digits exceeds %d", s, len(fracPart), MaxFractionDigits)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parsing %q: %w", s, err)
	}
	return d.Shift(int32(decimals)).Truncate(0).BigInt(), nil
}

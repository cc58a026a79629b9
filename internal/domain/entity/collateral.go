package entity

import (
	"fmt"
	"math/big"
)

// Health is a tri-state collateral health flag. HealthUnknown means no user
// collateral amount has been entered yet and nothing should be asserted.
type Health int8

const (
	HealthUnknown Health = iota
	HealthHealthy
	HealthUnhealthy
)

func (h Health) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalText encodes the health flag by name.
func (h Health) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText decodes a health name.
func (h *Health) UnmarshalText(text []byte) error {
	switch string(text) {
	case "healthy":
		*h = HealthHealthy
	case "unhealthy":
		*h = HealthUnhealthy
	case "unknown", "":
		*h = HealthUnknown
	default:
		return fmt.Errorf("unknown health %q", text)
	}
	return nil
}

// Known reports whether the flag carries a healthy/unhealthy verdict.
func (h Health) Known() bool {
	return h != HealthUnknown
}

// PriceImpact holds the prices a collateral calculation was based on.
type PriceImpact struct {
	LoanTokenPriceUSD       string `json:"loanTokenPriceUSD"`
	CollateralTokenPriceUSD string `json:"collateralTokenPriceUSD"`
	ExchangeRate            string `json:"exchangeRate"` // collateral tokens per loan token
	MinCollateralValueUSD   string `json:"minCollateralValueUSD"`
}

// CollateralCalculation is the derived collateral requirement for one loan/collateral pair.
type CollateralCalculation struct {
	MinRatioBPS             int64       `json:"minRatio"`
	MinCollateralAmount     string      `json:"minCollateralAmount"`
	MinCollateralAmountRaw  *big.Int    `json:"minCollateralAmountRaw"`
	CurrentRatioBPS         int64       `json:"currentRatio"`
	Health                  Health      `json:"health"`
	LiquidationThresholdBPS int64       `json:"liquidationThreshold"`
	PriceImpact             PriceImpact `json:"priceImpact"`
	HasPriceErrors          bool        `json:"hasPriceErrors"`
	IsStalePrice            bool        `json:"isStalePrice"`
}

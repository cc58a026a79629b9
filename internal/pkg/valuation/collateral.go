package valuation

import (
	"math"
	"math/big"

	"github.com/archon-research/lendview/internal/domain/entity"
	"github.com/archon-research/lendview/internal/pkg/units"
)

const (
	// BPSDenominator is 100% in basis points.
	BPSDenominator = 10_000

	// SafetyBufferNumerator over SafetyBufferDenominator is the 0.1% margin
	// added to auto-filled collateral amounts.
	SafetyBufferNumerator   = 1001
	SafetyBufferDenominator = 1000

	// ExchangeRatePlaces is the display precision of PriceImpact.ExchangeRate.
	ExchangeRatePlaces = 6
)

var bpsDenominator = big.NewInt(BPSDenominator)

// CollateralInput is one loan/collateral pair to evaluate.
type CollateralInput struct {
	LoanAmount   *big.Int
	LoanDecimals int
	LoanPrice    entity.PriceFeedResult

	// CollateralAmount is the amount the user entered. Nil or zero means
	// nothing has been entered and health is left unknown.
	CollateralAmount   *big.Int
	CollateralDecimals int
	CollateralPrice    entity.PriceFeedResult

	MinRatioBPS             int64
	LiquidationThresholdBPS int64
}

func (in CollateralInput) hasUserAmount() bool {
	return in.CollateralAmount != nil && in.CollateralAmount.Sign() > 0
}

// EvaluateCollateral derives the minimum collateral and the health of a position.
//
// When either price is unusable the calculation carries HasPriceErrors, zero
// amounts, and a health of unhealthy if a user amount exists (unknown otherwise).
func EvaluateCollateral(in CollateralInput) entity.CollateralCalculation {
	calc := entity.CollateralCalculation{
		MinRatioBPS:             in.MinRatioBPS,
		MinCollateralAmount:     "0",
		MinCollateralAmountRaw:  new(big.Int),
		LiquidationThresholdBPS: in.LiquidationThresholdBPS,
		IsStalePrice:            in.LoanPrice.IsStale || in.CollateralPrice.IsStale,
		PriceImpact: entity.PriceImpact{
			LoanTokenPriceUSD:       FormatPrice(nil),
			CollateralTokenPriceUSD: FormatPrice(nil),
			ExchangeRate:            units.Format(nil, 0, ExchangeRatePlaces),
			MinCollateralValueUSD:   ZeroUSD,
		},
	}

	loanPrice, loanOK := PriceRaw(in.LoanPrice)
	collPrice, collOK := PriceRaw(in.CollateralPrice)
	if !loanOK || !collOK || in.CollateralDecimals < 0 {
		calc.HasPriceErrors = true
		if in.hasUserAmount() {
			calc.Health = entity.HealthUnhealthy
		}
		return calc
	}

	loanValue, _ := USDValueRaw(in.LoanAmount, in.LoanDecimals, in.LoanPrice)
	minValue := mulBPS(loanValue, in.MinRatioBPS)

	// minValue / collPrice in collateral smallest units.
	minRaw := new(big.Int).Mul(minValue, units.Pow10(in.CollateralDecimals))
	minRaw.Quo(minRaw, collPrice)

	calc.MinCollateralAmountRaw = minRaw
	calc.MinCollateralAmount = units.FormatUnits(minRaw, in.CollateralDecimals)
	calc.PriceImpact = entity.PriceImpact{
		LoanTokenPriceUSD:       FormatPrice(loanPrice),
		CollateralTokenPriceUSD: FormatPrice(collPrice),
		ExchangeRate:            units.Format(exchangeRate(loanPrice, collPrice), units.BaseDecimals, ExchangeRatePlaces),
		MinCollateralValueUSD:   FormatUSD(minValue),
	}

	if !in.hasUserAmount() {
		return calc
	}

	collValue, _ := USDValueRaw(in.CollateralAmount, in.CollateralDecimals, in.CollateralPrice)
	calc.CurrentRatioBPS = RatioBPS(collValue, loanValue)
	if calc.CurrentRatioBPS >= in.MinRatioBPS {
		calc.Health = entity.HealthHealthy
	} else {
		calc.Health = entity.HealthUnhealthy
	}
	return calc
}

// RatioBPS returns collateralValue × 10000 / loanValue, or 0 when loanValue is
// zero. Ratios beyond int64 saturate.
func RatioBPS(collateralValue, loanValue *big.Int) int64 {
	if loanValue == nil || loanValue.Sign() <= 0 || collateralValue == nil || collateralValue.Sign() <= 0 {
		return 0
	}
	ratio := new(big.Int).Mul(collateralValue, bpsDenominator)
	ratio.Quo(ratio, loanValue)
	if !ratio.IsInt64() {
		return math.MaxInt64
	}
	return ratio.Int64()
}

// ApplySafetyBuffer returns raw × 1001 / 1000, truncated. This, never the bare
// minimum, is what auto-fill writes.
func ApplySafetyBuffer(raw *big.Int) *big.Int {
	if raw == nil {
		return new(big.Int)
	}
	out := new(big.Int).Mul(raw, big.NewInt(SafetyBufferNumerator))
	return out.Quo(out, big.NewInt(SafetyBufferDenominator))
}

func mulBPS(value *big.Int, bps int64) *big.Int {
	if bps <= 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(value, big.NewInt(bps))
	return out.Quo(out, bpsDenominator)
}

// collateral tokens per loan token, 18 decimals
func exchangeRate(loanPrice, collPrice *big.Int) *big.Int {
	rate := new(big.Int).Mul(loanPrice, units.One)
	return rate.Quo(rate, collPrice)
}

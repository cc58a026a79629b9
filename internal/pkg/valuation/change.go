package valuation

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/archon-research/lendview/internal/domain/entity"
)

// DefaultSignificantChangePct is the move, in percent, that marks a change significant.
const DefaultSignificantChangePct = 5.0

var (
	unchangedBand = decimal.RequireFromString("0.1")
	hundred       = decimal.NewFromInt(100)
)

// PriceChangeFrom compares a historical USD figure with the current one.
// It returns nil when historical is empty, unparsable or not positive, or
// when current is unparsable.
func PriceChangeFrom(historical, current string, significantPct float64) *entity.PriceChange {
	hist, err := decimal.NewFromString(strings.TrimSpace(historical))
	if err != nil || !hist.IsPositive() {
		return nil
	}
	cur, err := decimal.NewFromString(strings.TrimSpace(current))
	if err != nil {
		return nil
	}

	change := cur.Sub(hist).Div(hist).Mul(hundred)

	direction := entity.PriceUnchanged
	switch {
	case change.GreaterThan(unchangedBand):
		direction = entity.PriceUp
	case change.LessThan(unchangedBand.Neg()):
		direction = entity.PriceDown
	}

	return &entity.PriceChange{
		Percent:       change.Round(2).InexactFloat64(),
		Direction:     direction,
		IsSignificant: change.Abs().GreaterThanOrEqual(decimal.NewFromFloat(significantPct)),
	}
}

// Summarize aggregates a set of enriched loans in one pass. An empty set
// yields all zeros.
func Summarize(views []entity.EnrichedLoanView) entity.ComparisonStats {
	stats := entity.ComparisonStats{Total: len(views)}
	sum := decimal.Zero
	withChange := 0

	for i := range views {
		v := &views[i]
		if v.HasPriceErrors {
			stats.WithPriceErrors++
		}
		if v.IsStalePrice {
			stats.WithStalePrices++
		}
		if v.Health == entity.HealthUnhealthy {
			stats.UnhealthyPositions++
		}
		if v.PriceChange == nil {
			continue
		}
		withChange++
		sum = sum.Add(decimal.NewFromFloat(v.PriceChange.Percent))
		switch v.PriceChange.Direction {
		case entity.PriceUp:
			stats.Up++
		case entity.PriceDown:
			stats.Down++
		default:
			stats.Unchanged++
		}
		if v.PriceChange.IsSignificant {
			stats.Significant++
		}
	}

	if withChange > 0 {
		stats.AverageChangePct = sum.Div(decimal.NewFromInt(int64(withChange))).Round(2).InexactFloat64()
	}
	return stats
}

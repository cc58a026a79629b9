package entity

// PriceDirection classifies a price move since loan creation.
type PriceDirection string

const (
	PriceUp        PriceDirection = "up"
	PriceDown      PriceDirection = "down"
	PriceUnchanged PriceDirection = "unchanged"
)

// PriceChange compares the creation-time token price with the current one.
type PriceChange struct {
	Percent       float64        `json:"percent"`
	Direction     PriceDirection `json:"direction"`
	IsSignificant bool           `json:"isSignificant"`
}

// EnrichedLoanView is a loan snapshot joined with current market data.
// Views are rebuilt wholesale on every refresh cycle.
type EnrichedLoanView struct {
	LoanSnapshot

	CurrentTokenPrice         string       `json:"currentTokenPrice"`
	CurrentCollateralPrice    string       `json:"currentCollateralPrice"`
	CurrentLoanValueUSD       string       `json:"currentLoanValueUSD"`
	CurrentCollateralValueUSD string       `json:"currentCollateralValueUSD"`
	CollateralRatioBPS        int64        `json:"collateralRatioBPS"`
	Health                    Health       `json:"health"`
	PriceChange               *PriceChange `json:"priceChange,omitempty"`
	IsStalePrice              bool         `json:"isStalePrice"`
	HasPriceErrors            bool         `json:"hasPriceErrors"`
}

// ComparisonStats summarises price movements across a set of enriched loans.
type ComparisonStats struct {
	Total              int     `json:"total"`
	Up                 int     `json:"up"`
	Down               int     `json:"down"`
	Unchanged          int     `json:"unchanged"`
	Significant        int     `json:"significant"`
	AverageChangePct   float64 `json:"averageChangePct"`
	WithPriceErrors    int     `json:"withPriceErrors"`
	WithStalePrices    int     `json:"withStalePrices"`
	UnhealthyPositions int     `json:"unhealthyPositions"`
}

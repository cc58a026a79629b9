package entity

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PriceFeedResult is the outcome of reading one price feed in one fetch cycle.
// A result is never mutated after creation; the next cycle produces a new one.
type PriceFeedResult struct {
	TokenAddress   common.Address `json:"tokenAddress"`
	FeedAddress    common.Address `json:"priceFeedAddress"`
	RawPrice       *big.Int       `json:"rawPrice"`
	FeedDecimals   int            `json:"feedDecimals"`
	UpdatedAt      int64          `json:"lastUpdateTimestamp"` // unix seconds
	IsStale        bool           `json:"isStale"`
	Success        bool           `json:"success"`
	FormattedPrice string         `json:"formattedPrice"` // USD, 4 decimal places
}

// Valid reports whether the result can be used for valuation.
func (r PriceFeedResult) Valid() bool {
	return r.Success && r.RawPrice != nil && r.RawPrice.Sign() > 0
}

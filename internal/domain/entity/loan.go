package entity

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// LoanStatus mirrors the loan state enum of the lending contract.
type LoanStatus uint8

const (
	LoanStatusPending LoanStatus = iota
	LoanStatusActive
	LoanStatusRepaid
	LoanStatusDefaulted
	LoanStatusCancelled
)

var loanStatusNames = [...]string{"Pending", "Active", "Repaid", "Defaulted", "Cancelled"}

func (s LoanStatus) String() string {
	if int(s) < len(loanStatusNames) {
		return loanStatusNames[s]
	}
	return fmt.Sprintf("LoanStatus(%d)", uint8(s))
}

// MarshalText encodes the status by name.
func (s LoanStatus) MarshalText() ([]byte, error) {
	if int(s) >= len(loanStatusNames) {
		return nil, fmt.Errorf("unknown loan status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText accepts a status name (case-insensitive).
func (s *LoanStatus) UnmarshalText(text []byte) error {
	status, err := ParseLoanStatus(string(text))
	if err != nil {
		return err
	}
	*s = status
	return nil
}

// ParseLoanStatus parses a status name such as "active".
func ParseLoanStatus(name string) (LoanStatus, error) {
	for i, n := range loanStatusNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return LoanStatus(i), nil
		}
	}
	return 0, fmt.Errorf("unknown loan status %q", name)
}

// LoanSnapshot is a read-only view of a loan as reported by the contract or indexer.
// The lifecycle belongs to the contract; this package only reads and enriches snapshots.
type LoanSnapshot struct {
	ID                      string         `json:"id"`
	Lender                  common.Address `json:"lender"`
	Borrower                common.Address `json:"borrower"`
	TokenAddress            common.Address `json:"tokenAddress"`
	Amount                  *big.Int       `json:"amount"`
	InterestRateBPS         int64          `json:"interestRate"`
	Duration                int64          `json:"duration"` // seconds
	CollateralAddress       common.Address `json:"collateralAddress"`
	CollateralAmount        *big.Int       `json:"collateralAmount"`
	Status                  LoanStatus     `json:"status"`
	MinCollateralRatioBPS   int64          `json:"minCollateralRatioBPS"`
	LiquidationThresholdBPS int64          `json:"liquidationThresholdBPS"`
	MaxPriceStaleness       int64          `json:"maxPriceStaleness"` // seconds
	CreatedAt               time.Time      `json:"createdAt,omitzero"`

	// Creation-time valuation, when the source recorded one. Decimal strings in USD.
	HistoricalTokenPriceUSD string `json:"historicalTokenPrice,omitempty"`
	HistoricalLoanValueUSD  string `json:"historicalLoanValueUSD,omitempty"`
}

// HasHistoricalPrice reports whether a creation-time token price is available.
func (l *LoanSnapshot) HasHistoricalPrice() bool {
	return strings.TrimSpace(l.HistoricalTokenPriceUSD) != ""
}

// Validate checks the snapshot invariants: positive amounts and non-zero addresses.
func (l *LoanSnapshot) Validate() error {
	if l.ID == "" {
		return fmt.Errorf("id must not be empty")
	}
	if l.Amount == nil || l.Amount.Sign() <= 0 {
		return fmt.Errorf("loan %s: amount must be positive", l.ID)
	}
	if l.CollateralAmount == nil || l.CollateralAmount.Sign() <= 0 {
		return fmt.Errorf("loan %s: collateralAmount must be positive", l.ID)
	}
	if l.TokenAddress == (common.Address{}) {
		return fmt.Errorf("loan %s: token address must not be zero", l.ID)
	}
	if l.CollateralAddress == (common.Address{}) {
		return fmt.Errorf("loan %s: collateral address must not be zero", l.ID)
	}
	if l.MinCollateralRatioBPS < 0 || l.LiquidationThresholdBPS < 0 {
		return fmt.Errorf("loan %s: ratios must be non-negative", l.ID)
	}
	return nil
}

// ParseAddress parses a 0x-prefixed, 40 hex character address.
func ParseAddress(s string) (common.Address, error) {
	if !IsWellFormedAddress(s) {
		return common.Address{}, fmt.Errorf("malformed address %q", s)
	}
	return common.HexToAddress(s), nil
}

package indexer

import (
	"fmt"
	"math/big"
	"time"

	"github.com/archon-research/lendview/internal/domain/entity"
)

type loansResponse struct {
	Loans []loanDTO `json:"loans"`
}

// loanDTO is the indexer's wire representation. Amounts are base-10 strings of
// raw token units; timestamps are unix seconds.
type loanDTO struct {
	ID                      string `json:"id"`
	Lender                  string `json:"lender"`
	Borrower                string `json:"borrower"`
	Token                   string `json:"token"`
	Amount                  string `json:"amount"`
	InterestRate            int64  `json:"interestRate"`
	Duration                int64  `json:"duration"`
	CollateralToken         string `json:"collateralToken"`
	CollateralAmount        string `json:"collateralAmount"`
	Status                  string `json:"status"`
	MinCollateralRatioBPS   int64  `json:"minCollateralRatioBps"`
	LiquidationThresholdBPS int64  `json:"liquidationThresholdBps"`
	MaxPriceStaleness       int64  `json:"maxPriceStaleness"`
	CreatedAt               int64  `json:"createdAt"`
	HistoricalTokenPrice    string `json:"historicalTokenPrice"`
	HistoricalLoanValueUSD  string `json:"historicalLoanValueUsd"`
}

func (d loanDTO) toEntity() (*entity.LoanSnapshot, error) {
	lender, err := entity.ParseAddress(d.Lender)
	if err != nil {
		return nil, fmt.Errorf("lender: %w", err)
	}
	borrower, err := entity.ParseAddress(d.Borrower)
	if err != nil {
		return nil, fmt.Errorf("borrower: %w", err)
	}
	token, err := entity.ParseAddress(d.Token)
	if err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}
	collateral, err := entity.ParseAddress(d.CollateralToken)
	if err != nil {
		return nil, fmt.Errorf("collateralToken: %w", err)
	}
	amount, ok := new(big.Int).SetString(d.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("amount: invalid integer %q", d.Amount)
	}
	collAmount, ok := new(big.Int).SetString(d.CollateralAmount, 10)
	if !ok {
		return nil, fmt.Errorf("collateralAmount: invalid integer %q", d.CollateralAmount)
	}
	status, err := entity.ParseLoanStatus(d.Status)
	if err != nil {
		return nil, err
	}

	loan := &entity.LoanSnapshot{
		ID:                      d.ID,
		Lender:                  lender,
		Borrower:                borrower,
		TokenAddress:            token,
		Amount:                  amount,
		InterestRateBPS:         d.InterestRate,
		Duration:                d.Duration,
		CollateralAddress:       collateral,
		CollateralAmount:        collAmount,
		Status:                  status,
		MinCollateralRatioBPS:   d.MinCollateralRatioBPS,
		LiquidationThresholdBPS: d.LiquidationThresholdBPS,
		MaxPriceStaleness:       d.MaxPriceStaleness,
		HistoricalTokenPriceUSD: d.HistoricalTokenPrice,
		HistoricalLoanValueUSD:  d.HistoricalLoanValueUSD,
	}
	if d.CreatedAt > 0 {
		loan.CreatedAt = time.Unix(d.CreatedAt, 0).UTC()
	}
	if err := loan.Validate(); err != nil {
		return nil, err
	}
	return loan, nil
}

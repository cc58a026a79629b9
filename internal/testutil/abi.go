package testutil

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/lendview/internal/pkg/blockchain/abis"
)

// PackLatestRoundData ABI-encodes latestRoundData() return data.
func PackLatestRoundData(t *testing.T, roundID, answer, startedAt, updatedAt, answeredInRound *big.Int) []byte {
	t.Helper()
	feedABI, err := abis.GetAggregatorV3ABI()
	if err != nil {
		t.Fatalf("loading AggregatorV3 ABI: %v", err)
	}
	data, err := feedABI.Methods["latestRoundData"].Outputs.Pack(roundID, answer, startedAt, updatedAt, answeredInRound)
	if err != nil {
		t.Fatalf("packing latestRoundData: %v", err)
	}
	return data
}

// PackRoundAnswer is PackLatestRoundData with fixed round bookkeeping.
func PackRoundAnswer(t *testing.T, answer *big.Int, updatedAt int64) []byte {
	t.Helper()
	return PackLatestRoundData(t, big.NewInt(1), answer, big.NewInt(updatedAt), big.NewInt(updatedAt), big.NewInt(1))
}

// PackDecimals ABI-encodes decimals() return data.
func PackDecimals(t *testing.T, decimals uint8) []byte {
	t.Helper()
	feedABI, err := abis.GetAggregatorV3ABI()
	if err != nil {
		t.Fatalf("loading AggregatorV3 ABI: %v", err)
	}
	data, err := feedABI.Methods["decimals"].Outputs.Pack(decimals)
	if err != nil {
		t.Fatalf("packing decimals: %v", err)
	}
	return data
}

// MulticallResult matches the multicall3 aggregate3 output tuple.
type MulticallResult struct {
	Success    bool
	ReturnData []byte
}

// PackMulticallAggregate3 ABI-encodes results as aggregate3 return data.
func PackMulticallAggregate3(t *testing.T, results []MulticallResult) []byte {
	t.Helper()
	multicallABI, err := abis.GetMulticall3ABI()
	if err != nil {
		t.Fatalf("loading multicall3 ABI: %v", err)
	}
	data, err := multicallABI.Methods["aggregate3"].Outputs.Pack(results)
	if err != nil {
		t.Fatalf("packing aggregate3: %v", err)
	}
	return data
}

// LoanRecord is the flat getLoan() return tuple.
type LoanRecord struct {
	Lender, Borrower, Token, CollateralToken common.Address
	Amount, InterestRate, Duration           *big.Int
	CollateralAmount                         *big.Int
	Status                                   uint8
	MinRatio, LiquidationThreshold           *big.Int
	MaxStaleness, CreatedAt                  *big.Int
}

// PackGetLoan ABI-encodes getLoan() return data.
func PackGetLoan(t *testing.T, r LoanRecord) []byte {
	t.Helper()
	loanABI, err := abis.GetLoanBookABI()
	if err != nil {
		t.Fatalf("loading loan book ABI: %v", err)
	}
	data, err := loanABI.Methods["getLoan"].Outputs.Pack(
		r.Lender, r.Borrower, r.Token, r.Amount, r.InterestRate, r.Duration,
		r.CollateralToken, r.CollateralAmount, r.Status, r.MinRatio,
		r.LiquidationThreshold, r.MaxStaleness, r.CreatedAt,
	)
	if err != nil {
		t.Fatalf("packing getLoan: %v", err)
	}
	return data
}

// PackSelector returns the 4-byte selector of an AggregatorV3 method.
func PackSelector(t *testing.T, method string) []byte {
	t.Helper()
	feedABI, err := abis.GetAggregatorV3ABI()
	if err != nil {
		t.Fatalf("loading AggregatorV3 ABI: %v", err)
	}
	m, ok := feedABI.Methods[method]
	if !ok {
		t.Fatalf("unknown AggregatorV3 method %q", method)
	}
	return m.ID
}

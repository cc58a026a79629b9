// Package loanbook reads loan snapshots directly from the lending contract.
//
// Loans are enumerated as ids FirstLoanID..FirstLoanID+loanCount()-1 and read
// with getLoan(uint256) in multicall batches. A record whose lender is the zero
// address does not exist.
package loanbook

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/archon-research/lendview/internal/domain/entity"
	"github.com/archon-research/lendview/internal/pkg/blockchain/abis"
	"github.com/archon-research/lendview/internal/ports/outbound"
)

var (
	_ outbound.LoanSource  = (*Reader)(nil)
	_ outbound.StatsSource = (*Reader)(nil)
)

// Config holds configuration for the contract reader.
type Config struct {
	Contract       common.Address
	FirstLoanID    int64
	BatchSize      int
	MaxConcurrency int
	Logger         *slog.Logger
}

// ConfigDefaults returns the default configuration.
func ConfigDefaults() Config {
	return Config{
		FirstLoanID:    1,
		BatchSize:      200,
		MaxConcurrency: 4,
		Logger:         slog.Default(),
	}
}

// Reader is a contract-backed LoanSource.
type Reader struct {
	config      Config
	multicaller outbound.Multicaller
	loanABI     *abi.ABI
	countData   []byte
	logger      *slog.Logger
}

// NewReader creates a new contract reader.
func NewReader(multicaller outbound.Multicaller, config Config) (*Reader, error) {
	if multicaller == nil {
		return nil, fmt.Errorf("multicaller cannot be nil")
	}
	if config.Contract == (common.Address{}) {
		return nil, fmt.Errorf("loan contract address is required")
	}

	defaults := ConfigDefaults()
	if config.FirstLoanID < 0 {
		return nil, fmt.Errorf("first loan id must be non-negative, got %d", config.FirstLoanID)
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaults.MaxConcurrency
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	loanABI, err := abis.GetLoanBookABI()
	if err != nil {
		return nil, fmt.Errorf("failed to load loan book ABI: %w", err)
	}
	countData, err := loanABI.Pack("loanCount")
	if err != nil {
		return nil, fmt.Errorf("failed to pack loanCount: %w", err)
	}

	return &Reader{
		config:      config,
		multicaller: multicaller,
		loanABI:     loanABI,
		countData:   countData,
		logger:      config.Logger.With("component", "loanbook-reader"),
	}, nil
}

// LoanCount returns the number of loans the contract has created.
func (r *Reader) LoanCount(ctx context.Context) (int64, error) {
	results, err := r.multicaller.Execute(ctx, []outbound.Call{{Target: r.config.Contract, CallData: r.countData}}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to call loanCount: %w", err)
	}
	if len(results) != 1 || !results[0].Success {
		return 0, fmt.Errorf("loanCount reverted")
	}
	out, err := r.loanABI.Unpack("loanCount", results[0].ReturnData)
	if err != nil {
		return 0, fmt.Errorf("failed to unpack loanCount: %w", err)
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("loanCount returned %d values", len(out))
	}
	count, ok := out[0].(*big.Int)
	if !ok || !count.IsInt64() {
		return 0, fmt.Errorf("unexpected loanCount value %v", out[0])
	}
	return count.Int64(), nil
}

// ListLoans reads every loan from the contract and returns those matching filter, ordered by id.
func (r *Reader) ListLoans(ctx context.Context, filter outbound.LoanFilter) ([]*entity.LoanSnapshot, error) {
	count, err := r.LoanCount(ctx)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	ids := make([]int64, count)
	for i := range ids {
		ids[i] = r.config.FirstLoanID + int64(i)
	}

	loans, err := r.readLoans(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]*entity.LoanSnapshot, 0, len(loans))
	for _, l := range loans {
		if !filter.Matches(l) {
			continue
		}
		out = append(out, l)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// GetLoan reads a single loan or returns outbound.ErrLoanNotFound.
func (r *Reader) GetLoan(ctx context.Context, id string) (*entity.LoanSnapshot, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: %s", outbound.ErrLoanNotFound, id)
	}
	loans, err := r.readLoans(ctx, []int64{n})
	if err != nil {
		return nil, err
	}
	if len(loans) == 0 {
		return nil, fmt.Errorf("%w: %s", outbound.ErrLoanNotFound, id)
	}
	return loans[0], nil
}

// GetProtocolStats derives statistics from a full contract read. USD volume
// and the indexed block are not available on chain.
func (r *Reader) GetProtocolStats(ctx context.Context) (*outbound.ProtocolStats, error) {
	loans, err := r.ListLoans(ctx, outbound.LoanFilter{})
	if err != nil {
		return nil, err
	}
	return outbound.StatsFromLoans(loans), nil
}

// readLoans reads ids in concurrent batches. Any batch failure fails the read;
// individual reverted or malformed records are skipped.
func (r *Reader) readLoans(ctx context.Context, ids []int64) ([]*entity.LoanSnapshot, error) {
	batches := make([][]*entity.LoanSnapshot, (len(ids)+r.config.BatchSize-1)/r.config.BatchSize)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.MaxConcurrency)
	for b := range batches {
		start := b * r.config.BatchSize
		end := min(start+r.config.BatchSize, len(ids))
		g.Go(func() error {
			loans, err := r.readBatch(gctx, ids[start:end])
			if err != nil {
				return err
			}
			batches[b] = loans
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []*entity.LoanSnapshot
	for _, b := range batches {
		out = append(out, b...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, _ := strconv.ParseInt(out[i].ID, 10, 64)
		b, _ := strconv.ParseInt(out[j].ID, 10, 64)
		return a < b
	})
	return out, nil
}

func (r *Reader) readBatch(ctx context.Context, ids []int64) ([]*entity.LoanSnapshot, error) {
	calls := make([]outbound.Call, len(ids))
	for i, id := range ids {
		data, err := r.loanABI.Pack("getLoan", big.NewInt(id))
		if err != nil {
			return nil, fmt.Errorf("failed to pack getLoan(%d): %w", id, err)
		}
		calls[i] = outbound.Call{Target: r.config.Contract, AllowFailure: true, CallData: data}
	}

	results, err := r.multicaller.Execute(ctx, calls, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read loans %d..%d: %w", ids[0], ids[len(ids)-1], err)
	}
	if len(results) != len(ids) {
		return nil, fmt.Errorf("expected %d getLoan results, got %d", len(ids), len(results))
	}

	loans := make([]*entity.LoanSnapshot, 0, len(ids))
	for i, res := range results {
		if !res.Success {
			r.logger.Debug("getLoan reverted", "id", ids[i])
			continue
		}
		loan, err := r.decodeLoan(ids[i], res.ReturnData)
		if err != nil {
			r.logger.Warn("skipping undecodable loan", "id", ids[i], "error", err)
			continue
		}
		if loan != nil {
			loans = append(loans, loan)
		}
	}
	return loans, nil
}

// decodeLoan returns nil for an empty slot.
func (r *Reader) decodeLoan(id int64, data []byte) (*entity.LoanSnapshot, error) {
	out, err := r.loanABI.Unpack("getLoan", data)
	if err != nil {
		return nil, fmt.Errorf("unpack getLoan: %w", err)
	}
	if len(out) != 13 {
		return nil, fmt.Errorf("getLoan returned %d values", len(out))
	}

	lender, _ := out[0].(common.Address)
	if lender == (common.Address{}) {
		return nil, nil
	}
	status, _ := out[8].(uint8)
	if status > uint8(entity.LoanStatusCancelled) {
		return nil, fmt.Errorf("unknown loan status %d", status)
	}

	loan := &entity.LoanSnapshot{
		ID:                      strconv.FormatInt(id, 10),
		Lender:                  lender,
		Borrower:                addressAt(out, 1),
		TokenAddress:            addressAt(out, 2),
		Amount:                  bigAt(out, 3),
		InterestRateBPS:         int64At(out, 4),
		Duration:                int64At(out, 5),
		CollateralAddress:       addressAt(out, 6),
		CollateralAmount:        bigAt(out, 7),
		Status:                  entity.LoanStatus(status),
		MinCollateralRatioBPS:   int64At(out, 9),
		LiquidationThresholdBPS: int64At(out, 10),
		MaxPriceStaleness:       int64At(out, 11),
	}
	if created := int64At(out, 12); created > 0 {
		loan.CreatedAt = time.Unix(created, 0).UTC()
	}
	if err := loan.Validate(); err != nil {
		return nil, err
	}
	return loan, nil
}

func addressAt(out []any, i int) common.Address {
	a, _ := out[i].(common.Address)
	return a
}

func bigAt(out []any, i int) *big.Int {
	b, _ := out[i].(*big.Int)
	return b
}

// int64At saturates values outside int64 range.
func int64At(out []any, i int) int64 {
	b := bigAt(out, i)
	switch {
	case b == nil:
		return 0
	case !b.IsInt64():
		return int64(^uint64(0) >> 1)
	default:
		return b.Int64()
	}
}

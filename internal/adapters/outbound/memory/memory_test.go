package memory

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/lendview/internal/domain/entity"
	"github.com/archon-research/lendview/internal/ports/outbound"
)

func TestCache_Retention(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewCache(func() time.Time { return now })
	ctx := context.Background()

	entry := outbound.CacheEntry{Value: []byte("v"), InsertedAt: now, ExpiresAt: now.Add(time.Second)}
	if err := c.Set(ctx, "k", entry, time.Minute); err != nil {
		t.Fatal(err)
	}

	got, err := c.Get(ctx, "k")
	if err != nil || string(got.Value) != "v" {
		t.Fatalf("Get = %+v, %v", got, err)
	}

	now = now.Add(time.Minute)
	if _, err := c.Get(ctx, "k"); !errors.Is(err, outbound.ErrCacheMiss) {
		t.Errorf("Get after retention: err = %v, want ErrCacheMiss", err)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, expired entries are dropped lazily", c.Len())
	}

	if err := c.Invalidate(ctx, "missing"); err != nil {
		t.Errorf("Invalidate(missing) = %v", err)
	}
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len after Clear = %d", c.Len())
	}
}

func testLoan(id string, status entity.LoanStatus, borrower string) *entity.LoanSnapshot {
	return &entity.LoanSnapshot{
		ID:                id,
		Lender:            common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Borrower:          common.HexToAddress(borrower),
		TokenAddress:      common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
		Amount:            big.NewInt(1),
		CollateralAddress: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
		CollateralAmount:  big.NewInt(1),
		Status:            status,
	}
}

func TestLoanSource(t *testing.T) {
	const alice = "0x2222222222222222222222222222222222222222"
	const bob = "0x3333333333333333333333333333333333333333"

	src := NewLoanSource(
		testLoan("b", entity.LoanStatusActive, alice),
		testLoan("a", entity.LoanStatusActive, bob),
		testLoan("c", entity.LoanStatusDefaulted, bob),
	)
	src.Put(testLoan("d", entity.LoanStatusRepaid, alice))
	ctx := context.Background()

	tests := []struct {
		name   string
		filter outbound.LoanFilter
		want   []string
	}{
		{"all", outbound.LoanFilter{}, []string{"a", "b", "c", "d"}},
		{"active", outbound.LoanFilter{Statuses: []entity.LoanStatus{entity.LoanStatusActive}}, []string{"a", "b"}},
		{"borrower case-insensitive", outbound.LoanFilter{Borrower: "0X3333333333333333333333333333333333333333"}, []string{"a", "c"}},
		{"limit", outbound.LoanFilter{Limit: 2}, []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loans, err := src.ListLoans(ctx, tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			if len(loans) != len(tt.want) {
				t.Fatalf("got %d loans, want %d", len(loans), len(tt.want))
			}
			for i, l := range loans {
				if l.ID != tt.want[i] {
					t.Errorf("loans[%d] = %s, want %s", i, l.ID, tt.want[i])
				}
			}
		})
	}

	if _, err := src.GetLoan(ctx, "zz"); !errors.Is(err, outbound.ErrLoanNotFound) {
		t.Errorf("GetLoan(zz) = %v", err)
	}

	stats, err := src.GetProtocolStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalLoans != 4 || stats.ActiveLoans != 2 || stats.DefaultedLoans != 1 || stats.TotalBorrowers != 2 {
		t.Errorf("derived stats = %+v", stats)
	}

	src.SetStats(&outbound.ProtocolStats{TotalLoans: 99})
	stats, _ = src.GetProtocolStats(ctx)
	if stats.TotalLoans != 99 {
		t.Errorf("configured stats = %+v", stats)
	}
}

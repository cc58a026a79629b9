//go:build integration

package postgres

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/archon-research/lendview/internal/domain/entity"
	"github.com/archon-research/lendview/internal/ports/outbound"
)

func setupRepository(t *testing.T) *LoanRepository {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:17-alpine",
		tcpostgres.WithDatabase("indexer"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	pool, err := OpenPool(ctx, DefaultDBConfig(dsn))
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	t.Cleanup(pool.Close)

	repo, err := NewLoanRepository(pool, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	return repo
}

func loan(id string, status entity.LoanStatus, borrower string) *entity.LoanSnapshot {
	return &entity.LoanSnapshot{
		ID:                      id,
		Lender:                  common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Borrower:                common.HexToAddress(borrower),
		TokenAddress:            common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
		Amount:                  big.NewInt(1_000_000_000),
		InterestRateBPS:         500,
		Duration:                86400,
		CollateralAddress:       common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
		CollateralAmount:        new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
		Status:                  status,
		MinCollateralRatioBPS:   15000,
		LiquidationThresholdBPS: 12000,
		HistoricalTokenPriceUSD: "0.95",
		HistoricalLoanValueUSD:  "950.00",
		CreatedAt:               time.Unix(1_700_000_000, 0).UTC(),
	}
}

func TestLoanRepository_Integration(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	const alice = "0x2222222222222222222222222222222222222222"
	const bob = "0x3333333333333333333333333333333333333333"

	err := repo.UpsertLoans(ctx, 100, []*entity.LoanSnapshot{
		loan("1", entity.LoanStatusActive, alice),
		loan("2", entity.LoanStatusRepaid, alice),
		loan("3", entity.LoanStatusActive, bob),
		loan("4", entity.LoanStatusDefaulted, bob),
	})
	if err != nil {
		t.Fatalf("UpsertLoans: %v", err)
	}

	t.Run("list by status", func(t *testing.T) {
		loans, err := repo.ListLoans(ctx, outbound.LoanFilter{Statuses: []entity.LoanStatus{entity.LoanStatusActive}})
		if err != nil {
			t.Fatal(err)
		}
		if len(loans) != 2 || loans[0].ID != "1" || loans[1].ID != "3" {
			t.Fatalf("got %d loans", len(loans))
		}
		if loans[0].CollateralAmount.String() != "1000000000000000000" {
			t.Errorf("collateral amount = %s", loans[0].CollateralAmount)
		}
		if loans[0].HistoricalTokenPriceUSD != "0.95" {
			t.Errorf("historical price = %q", loans[0].HistoricalTokenPriceUSD)
		}
	})

	t.Run("list by borrower with limit", func(t *testing.T) {
		loans, err := repo.ListLoans(ctx, outbound.LoanFilter{Borrower: bob, Limit: 1})
		if err != nil {
			t.Fatal(err)
		}
		if len(loans) != 1 || loans[0].ID != "3" {
			t.Fatalf("loans = %v", loans)
		}
	})

	t.Run("get", func(t *testing.T) {
		l, err := repo.GetLoan(ctx, "4")
		if err != nil {
			t.Fatal(err)
		}
		if l.Status != entity.LoanStatusDefaulted || !l.CreatedAt.Equal(time.Unix(1_700_000_000, 0)) {
			t.Errorf("loan = %+v", l)
		}
		if _, err := repo.GetLoan(ctx, "missing"); !errors.Is(err, outbound.ErrLoanNotFound) {
			t.Errorf("GetLoan(missing) = %v, want ErrLoanNotFound", err)
		}
	})

	t.Run("stats", func(t *testing.T) {
		stats, err := repo.GetProtocolStats(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if stats.TotalLoans != 4 || stats.ActiveLoans != 2 || stats.DefaultedLoans != 1 {
			t.Errorf("stats = %+v", stats)
		}
		if stats.TotalBorrowers != 2 || stats.TotalLenders != 1 || stats.LastIndexedBlock != 100 {
			t.Errorf("stats = %+v", stats)
		}
		if stats.TotalVolumeUSD != "3800.00" {
			t.Errorf("volume = %q, want 3800.00", stats.TotalVolumeUSD)
		}
	})
}

package outbound

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/lendview/internal/domain/entity"
)

// ErrLoanNotFound is returned when a loan id is unknown to the source.
var ErrLoanNotFound = errors.New("loan not found")

// LoanFilter narrows a loan listing. Zero values mean "no filter".
type LoanFilter struct {
	Statuses []entity.LoanStatus
	Borrower string
	Lender   string
	Limit    int
}

// Matches reports whether loan passes the status, borrower and lender filters.
// Limit is applied by the caller.
func (f LoanFilter) Matches(loan *entity.LoanSnapshot) bool {
	if loan == nil {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, loan.Status) {
		return false
	}
	if f.Borrower != "" && !strings.EqualFold(f.Borrower, loan.Borrower.Hex()) {
		return false
	}
	if f.Lender != "" && !strings.EqualFold(f.Lender, loan.Lender.Hex()) {
		return false
	}
	return true
}

// LoanSource supplies loan snapshots. Implementations may poll the lending
// contract directly or read from the indexing service; callers do not care which.
type LoanSource interface {
	ListLoans(ctx context.Context, filter LoanFilter) ([]*entity.LoanSnapshot, error)
	GetLoan(ctx context.Context, id string) (*entity.LoanSnapshot, error)
}

// ProtocolStats are protocol-wide aggregates reported by the indexing service.
type ProtocolStats struct {
	TotalLoans       int64  `json:"totalLoans"`
	ActiveLoans      int64  `json:"activeLoans"`
	TotalVolumeUSD   string `json:"totalVolumeUSD"`
	TotalBorrowers   int64  `json:"totalBorrowers"`
	TotalLenders     int64  `json:"totalLenders"`
	DefaultedLoans   int64  `json:"defaultedLoans"`
	LastIndexedBlock int64  `json:"lastIndexedBlock"`
}

// StatsSource supplies protocol-wide statistics.
type StatsSource interface {
	GetProtocolStats(ctx context.Context) (*ProtocolStats, error)
}

// StatsFromLoans derives the count aggregates of ProtocolStats from a loan set.
// Sources without USD history report a zero volume.
func StatsFromLoans(loans []*entity.LoanSnapshot) *ProtocolStats {
	borrowers := make(map[common.Address]struct{})
	lenders := make(map[common.Address]struct{})
	stats := &ProtocolStats{TotalLoans: int64(len(loans)), TotalVolumeUSD: "0.00"}
	for _, l := range loans {
		borrowers[l.Borrower] = struct{}{}
		lenders[l.Lender] = struct{}{}
		switch l.Status {
		case entity.LoanStatusActive:
			stats.ActiveLoans++
		case entity.LoanStatusDefaulted:
			stats.DefaultedLoans++
		}
	}
	stats.TotalBorrowers = int64(len(borrowers))
	stats.TotalLenders = int64(len(lenders))
	return stats
}

package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/archon-research/lendview/internal/domain/entity"
	"github.com/archon-research/lendview/internal/ports/outbound"
)

var (
	_ outbound.LoanSource  = (*LoanSource)(nil)
	_ outbound.StatsSource = (*LoanSource)(nil)
)

// LoanSource is an in-memory loan source for tests and local development.
type LoanSource struct {
	mu    sync.RWMutex
	loans map[string]*entity.LoanSnapshot
	stats *outbound.ProtocolStats
}

// NewLoanSource creates a source holding loans.
func NewLoanSource(loans ...*entity.LoanSnapshot) *LoanSource {
	s := &LoanSource{loans: make(map[string]*entity.LoanSnapshot, len(loans))}
	for _, l := range loans {
		s.loans[l.ID] = l
	}
	return s
}

// Put adds or replaces a loan.
func (s *LoanSource) Put(loan *entity.LoanSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loans[loan.ID] = loan
}

// SetStats sets the protocol stats returned by GetProtocolStats.
func (s *LoanSource) SetStats(stats *outbound.ProtocolStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = stats
}

// ListLoans returns matching loans ordered by id.
func (s *LoanSource) ListLoans(ctx context.Context, filter outbound.LoanFilter) ([]*entity.LoanSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*entity.LoanSnapshot, 0, len(s.loans))
	for _, l := range s.loans {
		if filter.Matches(l) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// GetLoan returns the loan with id or outbound.ErrLoanNotFound.
func (s *LoanSource) GetLoan(ctx context.Context, id string) (*entity.LoanSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.loans[id]
	if !ok {
		return nil, outbound.ErrLoanNotFound
	}
	return l, nil
}

// GetProtocolStats returns the configured stats, or stats derived from the
// stored loans when none were set.
func (s *LoanSource) GetProtocolStats(ctx context.Context) (*outbound.ProtocolStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stats != nil {
		stats := *s.stats
		return &stats, nil
	}

	loans := make([]*entity.LoanSnapshot, 0, len(s.loans))
	for _, l := range s.loans {
		loans = append(loans, l)
	}
	return outbound.StatsFromLoans(loans), nil
}

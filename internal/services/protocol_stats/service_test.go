package protocol_stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/archon-research/lendview/internal/adapters/outbound/memory"
	"github.com/archon-research/lendview/internal/pkg/cache"
	"github.com/archon-research/lendview/internal/ports/outbound"
)

type countingSource struct {
	calls int
	stats *outbound.ProtocolStats
	err   error
}

func (s *countingSource) GetProtocolStats(context.Context) (*outbound.ProtocolStats, error) {
	s.calls++
	return s.stats, s.err
}

func newManager(t *testing.T) *cache.Manager {
	t.Helper()
	m, err := cache.NewManager(memory.NewCache(nil), cache.Config{FreshFor: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestProtocolStats_Cached(t *testing.T) {
	src := &countingSource{stats: &outbound.ProtocolStats{TotalLoans: 12, TotalVolumeUSD: "1000.00"}}
	svc, err := NewService(src, newManager(t), nil)
	if err != nil {
		t.Fatal(err)
	}

	for range 3 {
		stats, err := svc.ProtocolStats(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if stats.TotalLoans != 12 {
			t.Errorf("TotalLoans = %d, want 12", stats.TotalLoans)
		}
	}
	if src.calls != 1 {
		t.Errorf("source calls = %d, want 1", src.calls)
	}

	if err := svc.Invalidate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ProtocolStats(context.Background()); err != nil {
		t.Fatal(err)
	}
	if src.calls != 2 {
		t.Errorf("source calls after invalidate = %d, want 2", src.calls)
	}
}

func TestProtocolStats_SourceError(t *testing.T) {
	errDown := errors.New("indexer down")
	svc, err := NewService(&countingSource{err: errDown}, newManager(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ProtocolStats(context.Background()); !errors.Is(err, errDown) {
		t.Errorf("err = %v, want indexer down", err)
	}
}

func TestNewService_Validation(t *testing.T) {
	if _, err := NewService(nil, newManager(t), nil); err == nil {
		t.Error("expected error for nil source")
	}
	if _, err := NewService(&countingSource{}, nil, nil); err == nil {
		t.Error("expected error for nil manager")
	}
}

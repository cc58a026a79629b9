package testutil

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/lendview/internal/ports/outbound"
)

// FeedAnswer is the canned on-chain state of one price feed.
type FeedAnswer struct {
	Answer    *big.Int
	Decimals  uint8
	UpdatedAt int64
	Revert    bool // both calls fail
}

// FeedMulticaller answers latestRoundData()/decimals() calls from a table of
// feeds. Unknown targets revert.
type FeedMulticaller struct {
	*MockMulticaller

	mu    sync.Mutex
	feeds map[common.Address]FeedAnswer
}

// NewFeedMulticaller returns a multicaller serving feeds.
func NewFeedMulticaller(t *testing.T, feeds map[common.Address]FeedAnswer) *FeedMulticaller {
	t.Helper()
	m := &FeedMulticaller{MockMulticaller: NewMockMulticaller(), feeds: feeds}

	roundSelector := string(PackSelector(t, "latestRoundData"))
	m.ExecuteFn = func(_ context.Context, calls []outbound.Call, _ *big.Int) ([]outbound.Result, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		results := make([]outbound.Result, len(calls))
		for i, c := range calls {
			f, ok := m.feeds[c.Target]
			if !ok || f.Revert {
				continue
			}
			if len(c.CallData) >= 4 && string(c.CallData[:4]) == roundSelector {
				results[i] = outbound.Result{Success: true, ReturnData: PackRoundAnswer(t, f.Answer, f.UpdatedAt)}
			} else {
				results[i] = outbound.Result{Success: true, ReturnData: PackDecimals(t, f.Decimals)}
			}
		}
		return results, nil
	}
	return m
}

// SetFeed replaces the canned answer of one feed.
func (m *FeedMulticaller) SetFeed(feed common.Address, answer FeedAnswer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feeds[feed] = answer
}

package testutil

import (
	"context"
	"sync"
	"time"
)

// MockPriceMetrics records calls to outbound.PriceMetricsRecorder.
type MockPriceMetrics struct {
	mu         sync.Mutex
	refreshes  []string
	FeedOK     int
	FeedFailed int
	FeedStale  int
}

func (m *MockPriceMetrics) RecordRefresh(_ context.Context, _ time.Duration, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshes = append(m.refreshes, status)
}

func (m *MockPriceMetrics) RecordFeedResults(_ context.Context, succeeded, failed, stale int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FeedOK += succeeded
	m.FeedFailed += failed
	m.FeedStale += stale
}

// Refreshes returns the number of recorded refresh cycles.
func (m *MockPriceMetrics) Refreshes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.refreshes)
}

// Package protocol_stats serves protocol-wide statistics through the query cache.
package protocol_stats

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/archon-research/lendview/internal/pkg/cache"
	"github.com/archon-research/lendview/internal/ports/inbound"
	"github.com/archon-research/lendview/internal/ports/outbound"
)

const cacheKey = "protocol-stats:v1"

var _ inbound.StatsReader = (*Service)(nil)

// Service reads protocol stats with stale-while-revalidate caching.
type Service struct {
	source outbound.StatsSource
	cache  *cache.Manager
	logger *slog.Logger
}

// NewService creates a new stats service.
func NewService(source outbound.StatsSource, manager *cache.Manager, logger *slog.Logger) (*Service, error) {
	if source == nil {
		return nil, fmt.Errorf("stats source cannot be nil")
	}
	if manager == nil {
		return nil, fmt.Errorf("cache manager cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		source: source,
		cache:  manager,
		logger: logger.With("component", "protocol-stats"),
	}, nil
}

// ProtocolStats returns the cached stats, reloading them as the cache policy requires.
func (s *Service) ProtocolStats(ctx context.Context) (*outbound.ProtocolStats, error) {
	stats, freshness, err := cache.GetJSON(ctx, s.cache, cacheKey, s.source.GetProtocolStats)
	if err != nil {
		return nil, fmt.Errorf("getting protocol stats: %w", err)
	}
	s.logger.Debug("protocol stats served", "freshness", freshness)
	return stats, nil
}

// Invalidate drops the cached stats.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Invalidate(ctx, cacheKey)
}

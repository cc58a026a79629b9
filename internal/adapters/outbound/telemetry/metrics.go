package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/archon-research/lendview/internal/ports/outbound"
)

var _ outbound.PriceMetricsRecorder = (*PriceMetrics)(nil)

// PriceMetrics implements outbound.PriceMetricsRecorder with OpenTelemetry instruments.
type PriceMetrics struct {
	refreshLatency metric.Float64Histogram
	refreshes      metric.Int64Counter
	feedResults    metric.Int64Counter
}

// NewPriceMetrics creates the instruments on the global meter provider.
func NewPriceMetrics(meterName string) (*PriceMetrics, error) {
	return NewPriceMetricsWithMeter(otel.Meter(meterName))
}

// NewPriceMetricsWithMeter creates the instruments on meter.
func NewPriceMetricsWithMeter(meter metric.Meter) (*PriceMetrics, error) {
	latency, err := meter.Float64Histogram(
		"price_refresh_duration_seconds",
		metric.WithDescription("Time taken by one price comparison refresh cycle"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create price_refresh_duration_seconds histogram: %w", err)
	}

	refreshes, err := meter.Int64Counter(
		"price_refreshes_total",
		metric.WithDescription("Total number of price comparison refresh cycles"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create price_refreshes_total counter: %w", err)
	}

	feeds, err := meter.Int64Counter(
		"price_feed_results_total",
		metric.WithDescription("Price feed reads by outcome (ok, failed, stale)"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create price_feed_results_total counter: %w", err)
	}

	return &PriceMetrics{
		refreshLatency: latency,
		refreshes:      refreshes,
		feedResults:    feeds,
	}, nil
}

// RecordRefresh records one refresh cycle.
func (m *PriceMetrics) RecordRefresh(ctx context.Context, duration time.Duration, status string) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.refreshLatency.Record(ctx, duration.Seconds(), attrs)
	m.refreshes.Add(ctx, 1, attrs)
}

// RecordFeedResults records feed outcomes of one batch. Stale feeds are also counted as ok.
func (m *PriceMetrics) RecordFeedResults(ctx context.Context, succeeded, failed, stale int) {
	m.feedResults.Add(ctx, int64(succeeded), metric.WithAttributes(attribute.String("outcome", "ok")))
	m.feedResults.Add(ctx, int64(failed), metric.WithAttributes(attribute.String("outcome", "failed")))
	m.feedResults.Add(ctx, int64(stale), metric.WithAttributes(attribute.String("outcome", "stale")))
}

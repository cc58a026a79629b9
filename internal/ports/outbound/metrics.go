package outbound

import (
	"context"
	"time"
)

// PriceMetricsRecorder records price refresh telemetry without tying services
// to a telemetry implementation.
type PriceMetricsRecorder interface {
	// RecordRefresh records one aggregator refresh cycle.
	RecordRefresh(ctx context.Context, duration time.Duration, status string)

	// RecordFeedResults records how many feeds succeeded, failed and were stale in a batch.
	RecordFeedResults(ctx context.Context, succeeded, failed, stale int)
}

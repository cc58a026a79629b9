package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricConfig holds configuration for the metrics.
type MetricConfig struct {
	Service ServiceInfo

	// OTLPEndpoint is the collector's gRPC endpoint. Empty leaves the global
	// no-op meter provider in place.
	OTLPEndpoint string

	// Interval is the export period. Default 15s.
	Interval time.Duration
}

// InitMetrics installs the global meter provider.
func InitMetrics(ctx context.Context, config MetricConfig) (shutdown func(context.Context) error, err error) {
	if config.OTLPEndpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	if config.Interval <= 0 {
		config.Interval = 15 * time.Second
	}

	res, err := newResource(config.Service)
	if err != nil {
		return nil, err
	}

	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(config.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(config.Interval))),
	)
	otel.SetMeterProvider(meterProvider)

	return meterProvider.Shutdown, nil
}

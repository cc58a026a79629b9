// Package telemetry wires OpenTelemetry tracing and metrics.
//
// Both providers are installed globally; services obtain tracers and meters
// through otel.Tracer / otel.Meter and stay no-ops until Init* is called.
package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// ServiceInfo identifies the process in exported telemetry.
type ServiceInfo struct {
	Name        string
	Version     string
	Environment string
}

// ServiceInfoDefaults returns the identity used when none is configured.
func ServiceInfoDefaults() ServiceInfo {
	return ServiceInfo{
		Name:        "lendview",
		Version:     "0.1.0",
		Environment: "development",
	}
}

func newResource(info ServiceInfo) (*resource.Resource, error) {
	defaults := ServiceInfoDefaults()
	if info.Name == "" {
		info.Name = defaults.Name
	}
	if info.Version == "" {
		info.Version = defaults.Version
	}
	if info.Environment == "" {
		info.Environment = defaults.Environment
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(info.Name),
			semconv.ServiceVersion(info.Version),
			semconv.DeploymentEnvironmentName(info.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

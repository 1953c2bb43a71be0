package telemetry

import (
	"fmt"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

// Config describes the telemetry bootstrap.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// Provider bundles the OTel meter provider with the prometheus registry
// that backs the /metrics endpoint.
type Provider struct {
	MeterProvider *sdkmetric.MeterProvider
	Registry      *promclient.Registry
}

// Initialize sets up the global meter provider with an in-process
// prometheus exporter. There is no collector in the deployment contract,
// so metrics are pulled rather than pushed.
func Initialize(cfg *Config) (*Provider, error) {
	registry := promclient.NewRegistry()

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironmentName(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("building resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	return &Provider{MeterProvider: provider, Registry: registry}, nil
}

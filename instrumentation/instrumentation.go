package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// scopePrefix is prepended to scope names when creating meters and tracers.
const scopePrefix = "github.com/sentrygate/authority/"

// Config holds instrumentation configuration
type Config struct {
	// ServiceName identifies the service in telemetry output
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// Enabled controls whether instrumentation is active. When false,
	// no-op providers are used.
	Enabled bool

	// MeterProvider and TracerProvider allow callers to plug in real
	// exporters (Prometheus, OTLP). When nil, no-op providers are used.
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Instrumentation provides OpenTelemetry components to the rest of the
// server: named meters and tracers plus the pre-built metric instruments.
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	metrics *Metrics
}

// New creates a new instrumentation instance
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = "authority"
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = "unknown"
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	inst := &Instrumentation{
		config:   config,
		resource: res,
	}

	if config.Enabled && config.MeterProvider != nil {
		inst.meterProvider = config.MeterProvider
	} else {
		inst.meterProvider = metricnoop.NewMeterProvider()
	}
	if config.Enabled && config.TracerProvider != nil {
		inst.tracerProvider = config.TracerProvider
	} else {
		inst.tracerProvider = tracenoop.NewTracerProvider()
	}

	inst.metrics, err = newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return inst, nil
}

// Meter returns a named meter for the given scope. Scopes are layer
// names like "http", "server", or "storage".
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(scopePrefix + scope)
}

// Tracer returns a named tracer for the given scope.
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(scopePrefix + scope)
}

// Metrics returns the metrics holder for recording metric values
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// Resource returns the telemetry resource describing this service
func (i *Instrumentation) Resource() *resource.Resource {
	return i.resource
}

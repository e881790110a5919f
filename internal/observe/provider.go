package observe

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Options describes the telemetry identity and exporters for [Setup].
type Options struct {
	// Service is the service name stamped on exported telemetry.
	// Default: "launch-control".
	Service string

	// Version is the build version reported alongside the service name.
	Version string

	// SpanExporter receives finished spans. Leave nil to keep spans
	// in-process: on a capture box only the metrics endpoint is scraped
	// and traces never leave the machine. Production deployments that
	// want them would plug in an OTLP exporter here.
	SpanExporter sdktrace.SpanExporter
}

// Setup installs the global OpenTelemetry providers: a meter provider
// bridged to the Prometheus registry (scraped through /metrics) and a
// tracer provider that batches to opts.SpanExporter when one is given.
//
// The returned function flushes and stops both providers; call it during
// shutdown with a bounded context.
func Setup(ctx context.Context, opts Options) (func(context.Context) error, error) {
	if opts.Service == "" {
		opts.Service = "launch-control"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(opts.Service),
			semconv.ServiceVersion(opts.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	meters, err := newMeterProvider(res)
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(meters)

	tracers := newTracerProvider(res, opts.SpanExporter)
	otel.SetTracerProvider(tracers)

	stop := func(ctx context.Context) error {
		return errors.Join(meters.Shutdown(ctx), tracers.Shutdown(ctx))
	}
	return stop, nil
}

func newMeterProvider(res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	exp, err := promexporter.New()
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exp),
	), nil
}

func newTracerProvider(res *resource.Resource, exp sdktrace.SpanExporter) *sdktrace.TracerProvider {
	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if exp != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exp))
	}
	return sdktrace.NewTracerProvider(tpOpts...)
}

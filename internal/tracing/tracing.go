// Package tracing wires OpenTelemetry into the coordination core. A
// Provider exports spans for the ticket lifecycle (create, assign,
// transition, block) so a slow or stuck ticket can be traced across the
// orchestrator, thread escalation, and the PROPEL loop that eventually
// picks it up. When disabled, Init returns a Provider whose Tracer and
// Meter are no-ops, so instrumented call sites pay nothing extra.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

const (
	// TracerName is the instrumentation scope name for ticket-lifecycle spans.
	TracerName = "ampere.orchestrator"
	// MeterName is the instrumentation scope name for coordination-core metrics.
	MeterName = "ampere.coordination-core"
	// Version is the coordination-core version reported in telemetry.
	Version = "v0.1-dev"

	defaultServiceName = "ampere"
	defaultOTLPEndpoint = "localhost:4318"
)

// Config holds OTel configuration, loaded from CoreConfig's tracing
// section.
type Config struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
	// MetricsEnabled enables metrics export alongside traces. When false,
	// Meter resolves to a no-op so NewMetrics can still be called safely
	// but every instrument recorded against it is discarded.
	MetricsEnabled bool `yaml:"metrics_enabled,omitempty"`
}

// Provider wraps the tracer and meter a process uses for the lifetime of
// one ampered run.
type Provider struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  metric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	shutdown       func(context.Context) error
}

// exporterFactory builds a span exporter for one Config.Exporter value.
// Keeping these in a registry rather than a switch lets an exporter be
// added without touching Init's control flow.
type exporterFactory func(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error)

var exporterFactories = map[string]exporterFactory{
	"otlp-http": newOTLPHTTPExporter,
	"":          newOTLPHTTPExporter, // unset defaults to otlp-http
	"stdout":    func(context.Context, Config) (sdktrace.SpanExporter, error) { return stdouttrace.New(stdouttrace.WithPrettyPrint()) },
	"none":      func(context.Context, Config) (sdktrace.SpanExporter, error) { return &discardExporter{}, nil },
}

func newOTLPHTTPExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultOTLPEndpoint
	}
	return otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
}

// Init sets up OpenTelemetry with the given config. The returned
// Provider must be Shutdown() on exit. If cfg.Enabled is false, Init
// returns a no-op Provider without touching the exporter registry at
// all, so a disabled config can never fail to construct.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return noopProvider(), nil
	}

	res, err := buildResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	factory, ok := exporterFactories[cfg.Exporter]
	if !ok {
		return nil, fmt.Errorf("unknown exporter: %s (supported: otlp-http, stdout, none)", cfg.Exporter)
	}
	exporter, err := factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s exporter: %w", cfg.Exporter, err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(buildSampler(cfg.SampleRate)),
	)
	otel.SetTracerProvider(tp)

	var mp metric.MeterProvider
	var shutdownMeter func(context.Context) error
	if cfg.MetricsEnabled {
		sdkmp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
		mp = sdkmp
		shutdownMeter = sdkmp.Shutdown
	} else {
		mp = noop.NewMeterProvider()
		shutdownMeter = func(context.Context) error { return nil }
	}

	return &Provider{
		TracerProvider: tp,
		MeterProvider:  mp,
		Tracer:         tp.Tracer(TracerName),
		Meter:          mp.Meter(MeterName),
		shutdown: func(ctx context.Context) error {
			tErr := tp.Shutdown(ctx)
			mErr := shutdownMeter(ctx)
			if tErr != nil {
				return tErr
			}
			return mErr
		},
	}, nil
}

func noopProvider() *Provider {
	return &Provider{
		Tracer:        nooptrace.NewTracerProvider().Tracer(TracerName),
		Meter:         noop.NewMeterProvider().Meter(MeterName),
		MeterProvider: noop.NewMeterProvider(),
		shutdown:      func(context.Context) error { return nil },
	}
}

func buildResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			attribute.String("ampere.version", Version),
		),
	)
}

// buildSampler picks a sampler from a config sample rate: non-positive
// or >=1 means every span, so those shortcut to AlwaysSample rather than
// going through the ratio-based sampler at a rate of exactly 1.
func buildSampler(rate float64) sdktrace.Sampler {
	if rate <= 0 || rate >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

// Shutdown flushes and shuts down the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

// discardExporter discards every span it is given. Used for exporter=none.
type discardExporter struct{}

func (e *discardExporter) ExportSpans(_ context.Context, _ []sdktrace.ReadOnlySpan) error {
	return nil
}
func (e *discardExporter) Shutdown(_ context.Context) error { return nil }

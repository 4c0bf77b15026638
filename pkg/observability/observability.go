// Package observability provides OpenTelemetry tracing and metrics for the
// permission engine: allow/deny decision counters, confidence score
// observations, and grant/downgrade counters. Telemetry is opt-in; a nil
// provider is safe to call everywhere.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/guardrail-labs/trustgate/pkg/config"
)

// Provider manages the engine's OpenTelemetry trace and metric pipelines.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	logger         *slog.Logger

	decisionCounter  metric.Int64Counter
	grantCounter     metric.Int64Counter
	downgradeCounter metric.Int64Counter
	confidenceHist   metric.Float64Histogram
}

// New creates a provider from the telemetry config. When telemetry is
// disabled it returns (nil, nil); all Provider methods are nil-safe.
func New(ctx context.Context, cfg config.TelemetryConfig) (*Provider, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	p := &Provider{
		logger: slog.Default().With("component", "observability"),
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}

	traceExporter, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 1.0
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate))),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	p.tracer = p.tracerProvider.Tracer("trustgate")

	metricExporter, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
	)
	otel.SetMeterProvider(p.meterProvider)
	meter := p.meterProvider.Meter("trustgate")

	if err := p.initInstruments(meter); err != nil {
		return nil, err
	}

	p.logger.InfoContext(ctx, "telemetry enabled",
		"endpoint", cfg.OTLPEndpoint, "service", cfg.ServiceName)
	return p, nil
}

func (p *Provider) initInstruments(meter metric.Meter) error {
	var err error
	p.decisionCounter, err = meter.Int64Counter("trustgate.decisions",
		metric.WithDescription("Permission check decisions"),
		metric.WithUnit("{decision}"))
	if err != nil {
		return fmt.Errorf("create decision counter: %w", err)
	}
	p.grantCounter, err = meter.Int64Counter("trustgate.grants",
		metric.WithDescription("Permission grants"),
		metric.WithUnit("{grant}"))
	if err != nil {
		return fmt.Errorf("create grant counter: %w", err)
	}
	p.downgradeCounter, err = meter.Int64Counter("trustgate.downgrades",
		metric.WithDescription("Permission downgrades"),
		metric.WithUnit("{downgrade}"))
	if err != nil {
		return fmt.Errorf("create downgrade counter: %w", err)
	}
	p.confidenceHist, err = meter.Float64Histogram("trustgate.confidence",
		metric.WithDescription("Confidence scores observed on update"),
		metric.WithUnit("1"))
	if err != nil {
		return fmt.Errorf("create confidence histogram: %w", err)
	}
	return nil
}

// StartSpan starts a span when tracing is enabled, else returns a no-op span.
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if p == nil || p.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordDecision counts one permission check result.
func (p *Provider) RecordDecision(ctx context.Context, allowed bool, level string) {
	if p == nil || p.decisionCounter == nil {
		return
	}
	p.decisionCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.Bool("allowed", allowed),
			attribute.String("level", level),
		))
}

// RecordGrant counts one grant at the given level.
func (p *Provider) RecordGrant(ctx context.Context, level string) {
	if p == nil || p.grantCounter == nil {
		return
	}
	p.grantCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("level", level)))
}

// RecordDowngrade counts one downgrade landing at the given level.
func (p *Provider) RecordDowngrade(ctx context.Context, level string) {
	if p == nil || p.downgradeCounter == nil {
		return
	}
	p.downgradeCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("level", level)))
}

// RecordConfidence observes a confidence score produced by an update.
func (p *Provider) RecordConfidence(ctx context.Context, score float64, success bool) {
	if p == nil || p.confidenceHist == nil {
		return
	}
	p.confidenceHist.Record(ctx, score,
		metric.WithAttributes(attribute.Bool("success", success)))
}

// Shutdown flushes and stops both pipelines.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var firstErr error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

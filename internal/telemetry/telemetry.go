// Package telemetry wires OpenTelemetry tracing and metrics for the ingestion
// pipeline. A nil *Manager is valid and records nothing.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "listingbot/internal/telemetry"

var (
	attrKind    = attribute.Key("fragment.kind")
	attrOutcome = attribute.Key("save.outcome")
	attrReady   = attribute.Key("draft.ready")
)

// Config drives how telemetry is initialized.
type Config struct {
	ServiceName  string
	Environment  string
	OTLPEndpoint string

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Manager owns the tracer and the pipeline instruments.
type Manager struct {
	tracer         trace.Tracer
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	fragments    metric.Int64Counter
	saves        metric.Int64Counter
	statuses     metric.Int64Counter
	saveDuration metric.Float64Histogram
}

// NewManager builds providers from cfg. When OTLPEndpoint is set spans are
// batched to it over HTTP; otherwise they stay in-process.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	tp := cfg.TracerProvider
	if tp == nil {
		res, err := buildResource(cfg)
		if err != nil {
			return nil, err
		}
		opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
		if endpoint := strings.TrimSpace(cfg.OTLPEndpoint); endpoint != "" {
			exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
			if err != nil {
				return nil, fmt.Errorf("otlp exporter: %w", err)
			}
			opts = append(opts, sdktrace.WithBatcher(exporter))
		}
		tp = sdktrace.NewTracerProvider(opts...)
	}
	mp := cfg.MeterProvider
	if mp == nil {
		mp = sdkmetric.NewMeterProvider()
	}

	meter := mp.Meter(instrumentationName)
	m := &Manager{
		tracer:         tp.Tracer(instrumentationName),
		tracerProvider: tp,
		meterProvider:  mp,
	}
	var err error
	if m.fragments, err = meter.Int64Counter("listingbot.fragments",
		metric.WithDescription("Normalized inbound fragments")); err != nil {
		return nil, err
	}
	if m.saves, err = meter.Int64Counter("listingbot.saves",
		metric.WithDescription("Save attempts by outcome")); err != nil {
		return nil, err
	}
	if m.statuses, err = meter.Int64Counter("listingbot.status_messages",
		metric.WithDescription("Debounced draft status replies")); err != nil {
		return nil, err
	}
	if m.saveDuration, err = meter.Float64Histogram("listingbot.save.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Save orchestration latency")); err != nil {
		return nil, err
	}
	return m, nil
}

// StartSpan starts a span, or returns the context's span for a nil manager.
func (m *Manager) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if m == nil || m.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return m.tracer.Start(ctx, name, opts...)
}

// RecordFragment counts one normalized fragment.
func (m *Manager) RecordFragment(ctx context.Context, kind string) {
	if m == nil || m.fragments == nil {
		return
	}
	m.fragments.Add(ctx, 1, metric.WithAttributes(attrKind.String(kind)))
}

// RecordSave counts a finished save and its latency.
func (m *Manager) RecordSave(ctx context.Context, outcome string, elapsed time.Duration) {
	if m == nil || m.saves == nil {
		return
	}
	attrs := metric.WithAttributes(attrOutcome.String(outcome))
	m.saves.Add(ctx, 1, attrs)
	m.saveDuration.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)
}

// RecordStatus counts a status reply.
func (m *Manager) RecordStatus(ctx context.Context, ready bool) {
	if m == nil || m.statuses == nil {
		return
	}
	m.statuses.Add(ctx, 1, metric.WithAttributes(attrReady.Bool(ready)))
}

// Shutdown flushes and stops the providers it can.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	var result error
	if closer, ok := m.tracerProvider.(interface {
		Shutdown(context.Context) error
	}); ok {
		result = errors.Join(result, closer.Shutdown(ctx))
	}
	if closer, ok := m.meterProvider.(interface {
		Shutdown(context.Context) error
	}); ok {
		result = errors.Join(result, closer.Shutdown(ctx))
	}
	return result
}

// EndSpan records err on span and ends it.
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "ok")
	}
	span.End()
}

func buildResource(cfg Config) (*resource.Resource, error) {
	service := strings.TrimSpace(cfg.ServiceName)
	if service == "" {
		service = "listingbot"
	}
	attrs := []attribute.KeyValue{semconv.ServiceName(service)}
	if env := strings.TrimSpace(cfg.Environment); env != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(env))
	}
	base := resource.Default()
	schemaURL := base.SchemaURL()
	if schemaURL == "" {
		schemaURL = semconv.SchemaURL
	}
	return resource.Merge(base, resource.NewWithAttributes(schemaURL, attrs...))
}

package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestManagerRecordsCountersAndSpans(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)))

	ctx := context.Background()
	mgr, err := NewManager(ctx, Config{ServiceName: "test", TracerProvider: tp, MeterProvider: mp})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Shutdown(context.Background()) })

	spanCtx, span := mgr.StartSpan(ctx, "save")
	mgr.RecordFragment(spanCtx, "photo")
	mgr.RecordFragment(spanCtx, "photo")
	mgr.RecordFragment(spanCtx, "text")
	mgr.RecordStatus(spanCtx, true)
	mgr.RecordSave(spanCtx, "saved", 40*time.Millisecond)
	EndSpan(span, errors.New("upstream down"))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	fragments := sumOf(t, rm, "listingbot.fragments")
	assert.Len(t, fragments.DataPoints, 2)
	var total int64
	for _, dp := range fragments.DataPoints {
		total += dp.Value
	}
	assert.EqualValues(t, 3, total)

	saves := sumOf(t, rm, "listingbot.saves")
	require.Len(t, saves.DataPoints, 1)
	outcome, ok := saves.DataPoints[0].Attributes.Value(attrOutcome)
	require.True(t, ok)
	assert.Equal(t, "saved", outcome.AsString())

	statuses := sumOf(t, rm, "listingbot.status_messages")
	require.Len(t, statuses.DataPoints, 1)
	assert.EqualValues(t, 1, statuses.DataPoints[0].Value)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "save", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
}

func TestNilManagerIsNoop(t *testing.T) {
	var mgr *Manager
	ctx, span := mgr.StartSpan(context.Background(), "noop")
	assert.NotNil(t, ctx)
	mgr.RecordFragment(ctx, "text")
	mgr.RecordSave(ctx, "saved", time.Second)
	mgr.RecordStatus(ctx, false)
	EndSpan(span, nil)
	assert.NoError(t, mgr.Shutdown(ctx))
}

func TestBuildResourceCarriesServiceName(t *testing.T) {
	res, err := buildResource(Config{ServiceName: "listingbot-test", Environment: "ci"})
	require.NoError(t, err)
	var found bool
	for _, kv := range res.Attributes() {
		if string(kv.Key) == "service.name" {
			found = kv.Value.AsString() == "listingbot-test"
		}
	}
	assert.True(t, found, "service.name attribute missing")
}

func sumOf(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.Sum[int64] {
	t.Helper()
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name == name {
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok, "metric %s is not an int64 sum", name)
				return sum
			}
		}
	}
	t.Fatalf("metric %s not found", name)
	return metricdata.Sum[int64]{}
}

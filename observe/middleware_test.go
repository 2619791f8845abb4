package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestMiddleware_SuccessPath verifies a successful cycle records telemetry.
func TestMiddleware_SuccessPath(t *testing.T) {
	spanRecorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))
	tracer := &tracerImpl{tracer: tp.Tracer("test")}

	metricReader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(metricReader))
	metrics, _ := newMetrics(mp.Meter("test"))

	mw := NewMiddleware(tracer, metrics, &noopLogger{})

	meta := CycleMeta{Collection: "items", Mode: ModeFull}
	expected := CycleStats{Added: 2, Unchanged: 3, Total: 5}

	inner := func(ctx context.Context, cycle CycleMeta) (CycleStats, error) {
		return expected, nil
	}

	wrapped := mw.Wrap(inner)
	stats, err := wrapped(context.Background(), meta)

	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if stats.Added != expected.Added || stats.Total != expected.Total {
		t.Errorf("expected stats %+v, got %+v", expected, stats)
	}
	if stats.Duration == 0 {
		t.Error("expected middleware to fill in duration")
	}

	spans := spanRecorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "cache.refresh.full" {
		t.Errorf("expected span name 'cache.refresh.full', got %q", spans[0].Name())
	}

	var rm metricdata.ResourceMetrics
	if err := metricReader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	if findMetric(rm, "cache.refresh.total") == nil {
		t.Error("cache.refresh.total metric not found")
	}
}

// TestMiddleware_ErrorPath verifies a failed cycle records error telemetry.
func TestMiddleware_ErrorPath(t *testing.T) {
	spanRecorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))
	tracer := &tracerImpl{tracer: tp.Tracer("test")}

	metricReader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(metricReader))
	metrics, _ := newMetrics(mp.Meter("test"))

	mw := NewMiddleware(tracer, metrics, &noopLogger{})

	meta := CycleMeta{Collection: "items", Mode: ModeFull}
	cycleErr := errors.New("source unavailable")

	inner := func(ctx context.Context, cycle CycleMeta) (CycleStats, error) {
		return CycleStats{}, cycleErr
	}

	wrapped := mw.Wrap(inner)
	_, err := wrapped(context.Background(), meta)

	if !errors.Is(err, cycleErr) {
		t.Errorf("expected error %v, got %v", cycleErr, err)
	}

	spans := spanRecorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	var cycleError bool
	for _, attr := range spans[0].Attributes() {
		if string(attr.Key) == "cache.error" {
			cycleError = attr.Value.AsBool()
		}
	}
	if !cycleError {
		t.Error("expected cache.error=true on failed cycle")
	}

	var rm metricdata.ResourceMetrics
	if err := metricReader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	errMetric := findMetric(rm, "cache.refresh.errors")
	if errMetric == nil {
		t.Error("cache.refresh.errors metric not found")
	} else {
		sum, ok := errMetric.Data.(metricdata.Sum[int64])
		if ok && len(sum.DataPoints) > 0 && sum.DataPoints[0].Value != 1 {
			t.Errorf("expected errors count 1, got %d", sum.DataPoints[0].Value)
		}
	}
}

// TestMiddleware_SpanCarriesItemCounts verifies classification counts land on the span.
func TestMiddleware_SpanCarriesItemCounts(t *testing.T) {
	spanRecorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))
	tracer := &tracerImpl{tracer: tp.Tracer("test")}

	mw := NewMiddleware(tracer, &noopMetrics{}, &noopLogger{})

	inner := func(ctx context.Context, cycle CycleMeta) (CycleStats, error) {
		return CycleStats{Added: 4, Removed: 2, Unchanged: 9, Invalid: 1}, nil
	}

	wrapped := mw.Wrap(inner)
	if _, err := wrapped(context.Background(), CycleMeta{Collection: "items", Mode: ModeFull}); err != nil {
		t.Fatalf("wrapped() error = %v", err)
	}

	spans := spanRecorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	counts := map[string]int64{}
	for _, attr := range spans[0].Attributes() {
		switch string(attr.Key) {
		case "cache.added", "cache.removed", "cache.unchanged", "cache.invalid":
			counts[string(attr.Key)] = attr.Value.AsInt64()
		}
	}

	want := map[string]int64{
		"cache.added":     4,
		"cache.removed":   2,
		"cache.unchanged": 9,
		"cache.invalid":   1,
	}
	for k, v := range want {
		if counts[k] != v {
			t.Errorf("expected %s=%d, got %d", k, v, counts[k])
		}
	}
}

// TestMiddleware_PropagatesContext verifies context values pass through.
func TestMiddleware_PropagatesContext(t *testing.T) {
	mw := NewMiddleware(newNoopTracer(), &noopMetrics{}, &noopLogger{})

	type ctxKey string
	testKey := ctxKey("test")
	testValue := "test_value"

	var receivedValue any
	inner := func(ctx context.Context, cycle CycleMeta) (CycleStats, error) {
		receivedValue = ctx.Value(testKey)
		return CycleStats{}, nil
	}

	wrapped := mw.Wrap(inner)
	ctx := context.WithValue(context.Background(), testKey, testValue)
	if _, err := wrapped(ctx, CycleMeta{Collection: "items"}); err != nil {
		t.Fatalf("wrapped() error = %v", err)
	}

	if receivedValue != testValue {
		t.Errorf("expected context value %q, got %v", testValue, receivedValue)
	}
}

// TestMiddleware_PreservesReportedDuration verifies a non-zero duration from
// the cycle is not overwritten.
func TestMiddleware_PreservesReportedDuration(t *testing.T) {
	mw := NewMiddleware(newNoopTracer(), &noopMetrics{}, &noopLogger{})

	reported := 1234 * time.Millisecond
	inner := func(ctx context.Context, cycle CycleMeta) (CycleStats, error) {
		return CycleStats{Duration: reported}, nil
	}

	wrapped := mw.Wrap(inner)
	stats, err := wrapped(context.Background(), CycleMeta{Collection: "items"})
	if err != nil {
		t.Fatalf("wrapped() error = %v", err)
	}

	if stats.Duration != reported {
		t.Errorf("expected duration %v, got %v", reported, stats.Duration)
	}
}

// TestMiddleware_MeasuresDuration verifies wall time is recorded when the
// cycle does not report its own duration.
func TestMiddleware_MeasuresDuration(t *testing.T) {
	metricReader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(metricReader))
	metrics, _ := newMetrics(mp.Meter("test"))

	mw := NewMiddleware(newNoopTracer(), metrics, &noopLogger{})

	inner := func(ctx context.Context, cycle CycleMeta) (CycleStats, error) {
		time.Sleep(100 * time.Millisecond)
		return CycleStats{}, nil
	}

	wrapped := mw.Wrap(inner)
	if _, err := wrapped(context.Background(), CycleMeta{Collection: "items"}); err != nil {
		t.Fatalf("wrapped() error = %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := metricReader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}

	durationMetric := findMetric(rm, "cache.refresh.duration_ms")
	if durationMetric == nil {
		t.Fatal("cache.refresh.duration_ms metric not found")
	}

	hist, ok := durationMetric.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("expected Histogram, got %T", durationMetric.Data)
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no histogram data points")
	}

	if hist.DataPoints[0].Sum < 90 {
		t.Errorf("expected duration >= 90ms, got %f", hist.DataPoints[0].Sum)
	}
}

// TestMiddleware_DisabledNoop verifies noop middleware still executes the cycle.
func TestMiddleware_DisabledNoop(t *testing.T) {
	mw := NewMiddleware(newNoopTracer(), &noopMetrics{}, &noopLogger{})

	expected := CycleStats{Added: 1, Total: 1}
	inner := func(ctx context.Context, cycle CycleMeta) (CycleStats, error) {
		return expected, nil
	}

	wrapped := mw.Wrap(inner)
	stats, err := wrapped(context.Background(), CycleMeta{Collection: "items"})

	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if stats.Added != expected.Added || stats.Total != expected.Total {
		t.Errorf("expected stats %+v, got %+v", expected, stats)
	}
}

// TestMiddlewareFromObserver_NilObserver verifies nil observers are rejected.
func TestMiddlewareFromObserver_NilObserver(t *testing.T) {
	_, err := MiddlewareFromObserver(nil)
	if !errors.Is(err, ErrNilObserver) {
		t.Errorf("expected ErrNilObserver, got: %v", err)
	}
}

// TestMiddlewareFromObserver_Constructs verifies construction from a live observer.
func TestMiddlewareFromObserver_Constructs(t *testing.T) {
	obs, err := NewObserver(context.Background(), Config{
		ServiceName: "itemcache",
		Tracing:     TracingConfig{Enabled: true, Exporter: "none", SamplePct: 1.0},
		Metrics:     MetricsConfig{Enabled: true, Exporter: "none"},
	})
	if err != nil {
		t.Fatalf("NewObserver failed: %v", err)
	}
	defer func() {
		if err := obs.Shutdown(context.Background()); err != nil {
			t.Errorf("shutdown error: %v", err)
		}
	}()

	mw, err := MiddlewareFromObserver(obs)
	if err != nil {
		t.Fatalf("MiddlewareFromObserver failed: %v", err)
	}
	if mw == nil {
		t.Fatal("expected non-nil middleware")
	}
}

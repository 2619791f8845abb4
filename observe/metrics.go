package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CycleStats summarizes the outcome of one refresh cycle for recording.
type CycleStats struct {
	Duration  time.Duration
	Added     int
	Removed   int
	Unchanged int
	Invalid   int
	Total     int // items in the snapshot after the cycle
}

// Metrics records refresh cycle metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation/deadlines and return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordCycle records one refresh cycle with its item counts and error status.
	RecordCycle(ctx context.Context, meta CycleMeta, stats CycleStats, err error)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	meter        metric.Meter
	totalCount   metric.Int64Counter
	errorCount   metric.Int64Counter
	durationHist metric.Float64Histogram
	itemsCount   metric.Int64Counter
	sizeGauge    metric.Int64Gauge
}

// newMetrics creates a new Metrics instance with the given meter.
func newMetrics(meter metric.Meter) (*metricsImpl, error) {
	totalCount, err := meter.Int64Counter(
		"cache.refresh.total",
		metric.WithDescription("Total number of refresh cycles"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"cache.refresh.errors",
		metric.WithDescription("Total number of failed refresh cycles"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"cache.refresh.duration_ms",
		metric.WithDescription("Refresh cycle duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	itemsCount, err := meter.Int64Counter(
		"cache.refresh.items",
		metric.WithDescription("Items classified per refresh cycle, labeled by cache.change"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}

	sizeGauge, err := meter.Int64Gauge(
		"cache.items",
		metric.WithDescription("Items in the cache after the most recent refresh"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		meter:        meter,
		totalCount:   totalCount,
		errorCount:   errorCount,
		durationHist: durationHist,
		itemsCount:   itemsCount,
		sizeGauge:    sizeGauge,
	}, nil
}

// RecordCycle records metrics for one refresh cycle.
func (m *metricsImpl) RecordCycle(ctx context.Context, meta CycleMeta, stats CycleStats, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("cache.collection", meta.Collection),
	}
	if meta.Mode != "" {
		attrs = append(attrs, attribute.String("cache.mode", meta.Mode))
	}

	opt := metric.WithAttributes(attrs...)

	m.totalCount.Add(ctx, 1, opt)
	if err != nil {
		m.errorCount.Add(ctx, 1, opt)
	}
	m.durationHist.Record(ctx, float64(stats.Duration.Milliseconds()), opt)

	changes := []struct {
		kind  string
		count int
	}{
		{"added", stats.Added},
		{"removed", stats.Removed},
		{"unchanged", stats.Unchanged},
		{"invalid", stats.Invalid},
	}
	for _, c := range changes {
		changeOpt := metric.WithAttributes(
			append([]attribute.KeyValue{attribute.String("cache.change", c.kind)}, attrs...)...)
		m.itemsCount.Add(ctx, int64(c.count), changeOpt)
	}

	// A failed cycle leaves the snapshot as it was, so the gauge keeps its
	// last good value.
	if err == nil {
		m.sizeGauge.Record(ctx, int64(stats.Total), opt)
	}
}

// noopMetrics is a metrics implementation that does nothing.
type noopMetrics struct{}

func (m *noopMetrics) RecordCycle(ctx context.Context, meta CycleMeta, stats CycleStats, err error) {
}

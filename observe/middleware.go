package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// CycleFunc is the signature for refresh cycle execution functions.
// This is the function shape that Middleware wraps.
type CycleFunc func(ctx context.Context, cycle CycleMeta) (CycleStats, error)

// Middleware wraps refresh cycles with tracing, metrics, and logging.
//
// Contract:
//   - Concurrency: Wrap() returns a thread-safe CycleFunc.
//   - Context: propagates context through the cycle span.
//   - Errors: errors from the wrapped function are recorded and propagated unchanged.
//   - Ownership: the returned CycleStats pass through without modification,
//     except that a zero Duration is filled in with the measured wall time.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a new Middleware with the given telemetry components.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	return &Middleware{
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
	}
}

// Wrap wraps a CycleFunc with tracing, metrics, and logging.
func (m *Middleware) Wrap(fn CycleFunc) CycleFunc {
	return func(ctx context.Context, cycle CycleMeta) (CycleStats, error) {
		ctx, span := m.tracer.StartSpan(ctx, cycle)

		start := time.Now()
		stats, err := fn(ctx, cycle)
		if stats.Duration == 0 {
			stats.Duration = time.Since(start)
		}

		span.SetAttributes(
			attribute.Int("cache.added", stats.Added),
			attribute.Int("cache.removed", stats.Removed),
			attribute.Int("cache.unchanged", stats.Unchanged),
			attribute.Int("cache.invalid", stats.Invalid),
		)
		m.tracer.EndSpan(span, err)

		m.metrics.RecordCycle(ctx, cycle, stats, err)

		cycleLogger := m.logger.WithCycle(cycle)
		fields := []Field{
			{Key: "duration_ms", Value: float64(stats.Duration.Milliseconds())},
			{Key: "added", Value: stats.Added},
			{Key: "removed", Value: stats.Removed},
			{Key: "unchanged", Value: stats.Unchanged},
			{Key: "invalid", Value: stats.Invalid},
			{Key: "total", Value: stats.Total},
		}

		if err != nil {
			fields = append(fields, Field{Key: "error", Value: err.Error()})
			cycleLogger.Error(ctx, "refresh cycle failed", fields...)
		} else {
			cycleLogger.Info(ctx, "refresh cycle completed", fields...)
		}

		return stats, err
	}
}

// MiddlewareFromObserver creates a Middleware from an Observer.
// This is a convenience function for common use cases.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}

	tracer := newTracer(obs.Tracer())

	metrics, err := newMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}

	return NewMiddleware(tracer, metrics, obs.Logger()), nil
}

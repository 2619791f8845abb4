package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Refresh modes reported in telemetry.
const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
)

// CycleMeta identifies one cache refresh cycle for telemetry purposes.
type CycleMeta struct {
	Collection string // source collection being mirrored (required)
	Mode       string // "full" or "incremental"
	CachePath  string // cache file the cycle writes (optional)
}

// SpanName returns the deterministic span name for this cycle.
// Format: cache.refresh.<mode>, or cache.refresh when mode is unset.
func (m CycleMeta) SpanName() string {
	if m.Mode != "" {
		return "cache.refresh." + m.Mode
	}
	return "cache.refresh"
}

// CycleID returns the identifier used to correlate telemetry for a cycle.
// Format: <collection>/<mode>, or just <collection> when mode is unset.
func (m CycleMeta) CycleID() string {
	if m.Mode != "" {
		return m.Collection + "/" + m.Mode
	}
	return m.Collection
}

// Validate reports whether the metadata is complete enough to record.
func (m CycleMeta) Validate() error {
	if m.Collection == "" {
		return ErrMissingCollection
	}
	return nil
}

// Tracer wraps OpenTelemetry tracing with refresh-specific span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: StartSpan must honor cancellation/deadlines via the returned context.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a new span for a refresh cycle.
	StartSpan(ctx context.Context, meta CycleMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error.
	EndSpan(span trace.Span, err error)
}

// tracerImpl is the concrete implementation of Tracer.
type tracerImpl struct {
	tracer trace.Tracer
}

// newTracer creates a new Tracer wrapping the given OpenTelemetry tracer.
func newTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

// StartSpan starts a new span with cycle metadata as attributes.
func (t *tracerImpl) StartSpan(ctx context.Context, meta CycleMeta) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("cache.collection", meta.Collection),
		attribute.Bool("cache.error", false), // updated in EndSpan on failure
	}
	if meta.Mode != "" {
		attrs = append(attrs, attribute.String("cache.mode", meta.Mode))
	}
	if meta.CachePath != "" {
		attrs = append(attrs, attribute.String("cache.path", meta.CachePath))
	}

	ctx, span := t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)

	return ctx, span
}

// EndSpan ends the span and records the error status if present.
func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("cache.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// noopTracer is a tracer that does nothing.
type noopTracer struct {
	noop trace.Tracer
}

// newNoopTracer creates a no-op tracer.
func newNoopTracer() Tracer {
	return &noopTracer{
		noop: tracenoop.NewTracerProvider().Tracer("noop"),
	}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta CycleMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, err error) {
	span.End()
}

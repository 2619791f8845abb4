package health

import (
	"context"
	"time"
)

// Status is the health of a component.
type Status int

const (
	// StatusHealthy means the component is fully functional.
	StatusHealthy Status = iota
	// StatusDegraded means the component works but with reduced quality,
	// like a stale cache that still serves lookups.
	StatusDegraded
	// StatusUnhealthy means the component cannot do its job.
	StatusUnhealthy
)

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Result is the outcome of one health check.
type Result struct {
	// Status is the verdict.
	Status Status

	// Message explains the verdict in one line.
	Message string

	// Details carries check-specific metadata, like cache statistics.
	Details map[string]any

	// Duration is how long the check took.
	Duration time.Duration

	// Timestamp is when the check ran.
	Timestamp time.Time

	// Error is the underlying failure for unhealthy results.
	Error error
}

// Healthy builds a healthy result.
func Healthy(message string) Result {
	return Result{
		Status:    StatusHealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Degraded builds a degraded result.
func Degraded(message string) Result {
	return Result{
		Status:    StatusDegraded,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Unhealthy builds an unhealthy result carrying the causing error.
func Unhealthy(message string, err error) Result {
	return Result{
		Status:    StatusUnhealthy,
		Message:   message,
		Error:     err,
		Timestamp: time.Now(),
	}
}

// WithDetails returns the result with details attached.
func (r Result) WithDetails(details map[string]any) Result {
	r.Details = details
	return r
}

// WithDuration returns the result with its duration set.
func (r Result) WithDuration(d time.Duration) Result {
	r.Duration = d
	return r
}

// Checker is one health probe.
//
// Contract:
//   - Concurrency: Check must be safe for concurrent use; the aggregator
//     fans checks out in parallel.
//   - Context: Check should answer promptly and honor cancellation; the
//     aggregator abandons checks that outlive its timeout.
//   - Errors: failures are reported in the Result, never by panicking.
type Checker interface {
	// Name identifies this checker in aggregated output.
	Name() string

	// Check probes the component and reports its health.
	Check(ctx context.Context) Result
}

// CheckerFunc adapts an ordinary function to the Checker interface.
type CheckerFunc struct {
	name string
	fn   func(context.Context) Result
}

// NewCheckerFunc wraps fn as a named Checker.
func NewCheckerFunc(name string, fn func(context.Context) Result) *CheckerFunc {
	return &CheckerFunc{name: name, fn: fn}
}

// Name implements Checker.
func (f *CheckerFunc) Name() string { return f.name }

// Check implements Checker.
func (f *CheckerFunc) Check(ctx context.Context) Result { return f.fn(ctx) }

// InfoChecker is a checker that can also report detailed statistics
// outside the health verdict, like the cache statistics endpoint.
type InfoChecker interface {
	Checker

	// Info returns detailed information about the component.
	Info(ctx context.Context) (map[string]any, error)
}

package source

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/billenewman4/itemcache/record"
)

// ResilientConfig configures retry and per-attempt timeout behavior for a
// wrapped Source.
type ResilientConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	// Default: 3
	MaxAttempts int

	// AttemptTimeout bounds each individual fetch attempt.
	// Default: 30s
	AttemptTimeout time.Duration

	// InitialDelay is the delay before the first retry.
	// Default: 100ms
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries.
	// Default: 5s
	MaxDelay time.Duration

	// Multiplier is the exponential backoff multiplier.
	// Default: 2.0
	Multiplier float64

	// Jitter adds up to 25% randomness to delays to avoid synchronized
	// retries.
	Jitter bool

	// RetryIf decides whether an error is worth another attempt.
	// Default: retry everything except context cancellation.
	RetryIf func(err error) bool

	// OnRetry is called before each retry attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultResilientConfig returns the config used when fields are unset.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		MaxAttempts:    3,
		AttemptTimeout: 30 * time.Second,
		InitialDelay:   100 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		Jitter:         true,
	}
}

// ResilientSource wraps a Source with per-attempt timeouts and retry with
// exponential backoff. Whatever still fails after the last attempt is
// surfaced wrapped in ErrUnavailable.
type ResilientSource struct {
	inner  Source
	config ResilientConfig
}

var _ Source = (*ResilientSource)(nil)

// NewResilientSource wraps inner, applying defaults for unset config
// fields.
func NewResilientSource(inner Source, config ResilientConfig) *ResilientSource {
	defaults := DefaultResilientConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = defaults.AttemptTimeout
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = defaults.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = defaults.MaxDelay
	}
	if config.Multiplier <= 0 {
		config.Multiplier = defaults.Multiplier
	}
	if config.RetryIf == nil {
		config.RetryIf = func(err error) bool {
			return !errors.Is(err, context.Canceled)
		}
	}
	return &ResilientSource{inner: inner, config: config}
}

// FetchAll implements Source.
func (r *ResilientSource) FetchAll(ctx context.Context, sourceID string) ([]record.Record, error) {
	return r.execute(ctx, func(ctx context.Context) ([]record.Record, error) {
		return r.inner.FetchAll(ctx, sourceID)
	})
}

// FetchSince implements Source.
func (r *ResilientSource) FetchSince(ctx context.Context, sourceID string, since time.Time) ([]record.Record, error) {
	return r.execute(ctx, func(ctx context.Context) ([]record.Record, error) {
		return r.inner.FetchSince(ctx, sourceID, since)
	})
}

func (r *ResilientSource) execute(ctx context.Context, op func(context.Context) ([]record.Record, error)) ([]record.Record, error) {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, r.config.AttemptTimeout)
		records, err := op(attemptCtx)
		cancel()

		if err == nil {
			return records, nil
		}
		lastErr = err

		if !r.config.RetryIf(err) {
			return nil, err
		}
		if attempt >= r.config.MaxAttempts {
			break
		}

		delay := r.delay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		case <-time.After(delay):
		}
	}

	if errors.Is(lastErr, ErrUnavailable) {
		return nil, fmt.Errorf("source: after %d attempts: %w", r.config.MaxAttempts, lastErr)
	}
	return nil, fmt.Errorf("%w: after %d attempts: %v", ErrUnavailable, r.config.MaxAttempts, lastErr)
}

func (r *ResilientSource) delay(attempt int) time.Duration {
	multiplier := math.Pow(r.config.Multiplier, float64(attempt-1))
	delay := time.Duration(float64(r.config.InitialDelay) * multiplier)
	if delay > r.config.MaxDelay {
		delay = r.config.MaxDelay
	}
	if r.config.Jitter && delay/4 > 0 {
		// Up to 25% of the base delay.
		delay += time.Duration(rand.Int64N(int64(delay / 4)))
	}
	return delay
}

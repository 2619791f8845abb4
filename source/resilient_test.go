package source

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/billenewman4/itemcache/record"
)

// flakySource fails a set number of times before succeeding.
type flakySource struct {
	mu        sync.Mutex
	failures  int
	calls     int
	records   []record.Record
	blockFor  time.Duration
	lastError error
}

func (f *flakySource) FetchAll(ctx context.Context, _ string) ([]record.Record, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if f.blockFor > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.blockFor):
		}
	}
	if call <= f.failures {
		if f.lastError != nil {
			return nil, f.lastError
		}
		return nil, errors.New("transient failure")
	}
	return f.records, nil
}

func (f *flakySource) FetchSince(ctx context.Context, sourceID string, _ time.Time) ([]record.Record, error) {
	return f.FetchAll(ctx, sourceID)
}

func (f *flakySource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func quickConfig() ResilientConfig {
	return ResilientConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}
}

func TestResilientSource_RetriesUntilSuccess(t *testing.T) {
	inner := &flakySource{failures: 2, records: testRecords("a-1")}
	src := NewResilientSource(inner, quickConfig())

	got, err := src.FetchAll(context.Background(), "products")
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("FetchAll() returned %d records, want 1", len(got))
	}
	if inner.callCount() != 3 {
		t.Errorf("inner calls = %d, want 3", inner.callCount())
	}
}

func TestResilientSource_ExhaustionWrapsUnavailable(t *testing.T) {
	inner := &flakySource{failures: 10}
	src := NewResilientSource(inner, quickConfig())

	_, err := src.FetchAll(context.Background(), "products")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("FetchAll() error = %v, want ErrUnavailable", err)
	}
	if inner.callCount() != 3 {
		t.Errorf("inner calls = %d, want 3", inner.callCount())
	}
}

func TestResilientSource_PreservesUnavailableSentinel(t *testing.T) {
	inner := &flakySource{failures: 10, lastError: ErrUnavailable}
	src := NewResilientSource(inner, quickConfig())

	_, err := src.FetchAll(context.Background(), "products")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("FetchAll() error = %v, want ErrUnavailable", err)
	}
}

func TestResilientSource_NoRetryOnCancellation(t *testing.T) {
	inner := &flakySource{failures: 10, lastError: context.Canceled}
	src := NewResilientSource(inner, quickConfig())

	_, err := src.FetchAll(context.Background(), "products")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("FetchAll() error = %v, want context.Canceled", err)
	}
	if inner.callCount() != 1 {
		t.Errorf("inner calls = %d, want 1 (no retries)", inner.callCount())
	}
}

func TestResilientSource_AttemptTimeoutTriggersRetry(t *testing.T) {
	inner := &flakySource{failures: 1, blockFor: 50 * time.Millisecond, records: testRecords("a-1")}
	cfg := quickConfig()
	cfg.AttemptTimeout = 10 * time.Millisecond

	src := NewResilientSource(inner, cfg)

	// Every attempt blocks past its own 10ms deadline, so each one must
	// time out individually and be retried until attempts run out.
	_, err := src.FetchAll(context.Background(), "products")
	if err == nil {
		t.Fatal("FetchAll() error = nil, want timeout-driven failure")
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("FetchAll() error = %v, want ErrUnavailable", err)
	}
	if inner.callCount() != 3 {
		t.Errorf("inner calls = %d, want 3", inner.callCount())
	}
}

func TestResilientSource_OnRetryCallback(t *testing.T) {
	inner := &flakySource{failures: 2, records: testRecords("a-1")}
	cfg := quickConfig()
	var attempts []int
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	}

	src := NewResilientSource(inner, cfg)
	if _, err := src.FetchAll(context.Background(), "products"); err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("OnRetry attempts = %v, want [1 2]", attempts)
	}
}

func TestResilientSource_Defaults(t *testing.T) {
	src := NewResilientSource(NewMemorySource(), ResilientConfig{})
	if src.config.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", src.config.MaxAttempts)
	}
	if src.config.AttemptTimeout != 30*time.Second {
		t.Errorf("AttemptTimeout = %v, want 30s", src.config.AttemptTimeout)
	}
	if src.config.Multiplier != 2.0 {
		t.Errorf("Multiplier = %v, want 2.0", src.config.Multiplier)
	}
}

package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/billenewman4/itemcache/record"
)

// Source is the external system of record that candidate records are
// pulled from.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Context: both fetches honor cancellation and deadlines; the pull is
//     the only part of a refresh cycle that may block on I/O.
//   - Errors: connectivity and timeout failures wrap ErrUnavailable so
//     callers can treat them as retryable.
//   - Shape: each returned record carries the source document id, the raw
//     identifier and approval fields, and the full field map as payload.
type Source interface {
	// FetchAll returns every current record in the collection.
	FetchAll(ctx context.Context, sourceID string) ([]record.Record, error)

	// FetchSince returns only records modified after since. Used by
	// incremental refreshes; an implementation that cannot filter by
	// modification time may return everything.
	FetchSince(ctx context.Context, sourceID string, since time.Time) ([]record.Record, error)
}

type timedRecord struct {
	rec       record.Record
	updatedAt time.Time
}

// MemorySource is an in-process Source backed by a map of collections.
// Useful for tests and local development.
type MemorySource struct {
	mu          sync.RWMutex
	collections map[string][]timedRecord
	latency     time.Duration
	failWith    error
}

var _ Source = (*MemorySource)(nil)

// NewMemorySource creates an empty in-memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{collections: make(map[string][]timedRecord)}
}

// Put appends records to a collection, stamped with updatedAt for
// FetchSince filtering.
func (m *MemorySource) Put(sourceID string, updatedAt time.Time, records ...record.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.collections[sourceID] = append(m.collections[sourceID], timedRecord{rec: r, updatedAt: updatedAt})
	}
}

// Replace swaps a collection's contents wholesale.
func (m *MemorySource) Replace(sourceID string, updatedAt time.Time, records ...record.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := make([]timedRecord, 0, len(records))
	for _, r := range records {
		rows = append(rows, timedRecord{rec: r, updatedAt: updatedAt})
	}
	m.collections[sourceID] = rows
}

// Fail makes every subsequent fetch return err until called with nil.
func (m *MemorySource) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// SetLatency delays every fetch by d, respecting context cancellation.
// Useful for exercising timeout paths.
func (m *MemorySource) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// FetchAll implements Source.
func (m *MemorySource) FetchAll(ctx context.Context, sourceID string) ([]record.Record, error) {
	return m.fetch(ctx, sourceID, time.Time{})
}

// FetchSince implements Source.
func (m *MemorySource) FetchSince(ctx context.Context, sourceID string, since time.Time) ([]record.Record, error) {
	return m.fetch(ctx, sourceID, since)
}

func (m *MemorySource) fetch(ctx context.Context, sourceID string, since time.Time) ([]record.Record, error) {
	m.mu.RLock()
	latency := m.latency
	failWith := m.failWith
	rows, ok := m.collections[sourceID]
	m.mu.RUnlock()

	if latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(latency):
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if failWith != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, failWith)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, sourceID)
	}

	out := make([]record.Record, 0, len(rows))
	for _, row := range rows {
		if !since.IsZero() && !row.updatedAt.After(since) {
			continue
		}
		out = append(out, row.rec)
	}
	return out, nil
}

package query

import (
	"fmt"
	"sync/atomic"

	"github.com/billenewman4/itemcache/record"
	"github.com/billenewman4/itemcache/store"
)

// Query looks items up in a cache snapshot.
//
// Contract:
//   - Concurrency: all methods are safe for unbounded concurrent use.
//   - Inputs: every method takes raw identifiers and normalizes them
//     itself, so lookups are insensitive to caller formatting.
//   - Errors: only Get fails on absence, with ErrNotCached. IsCached,
//     BulkLookup, and Keys report absence as normal values; an input
//     that cannot be normalized counts as absent rather than aborting.
//   - Statistics: every looked-up input increments the handle's hit or
//     miss counter. Counters are per handle and never persisted.
type Query interface {
	// Get returns the item cached under the normalized input.
	Get(keyInput string) (store.Item, error)

	// IsCached reports whether the normalized input has a cached item.
	IsCached(keyInput string) bool

	// BulkLookup resolves every input, keyed by the original spelling.
	// Malformed inputs map to an absent Result instead of failing the
	// batch.
	BulkLookup(keyInputs []string) map[string]Result

	// Keys returns every cached key in sorted order.
	Keys() []record.Key

	// Stats returns the handle's lifetime hit and miss counts.
	Stats() Stats
}

// Result is one BulkLookup outcome.
type Result struct {
	Item  store.Item
	Found bool
}

// Stats are lifetime lookup counters for one query handle.
type Stats struct {
	Hits   int64
	Misses int64
}

// Total returns the number of lookups observed.
func (s Stats) Total() int64 { return s.Hits + s.Misses }

// HitRate returns the fraction of lookups that hit, or 0 when no lookups
// have been observed.
func (s Stats) HitRate() float64 {
	if total := s.Total(); total > 0 {
		return float64(s.Hits) / float64(total)
	}
	return 0
}

// counters is the shared per-handle statistics block.
type counters struct {
	hits   atomic.Int64
	misses atomic.Int64
}

func (c *counters) record(found bool) bool {
	if found {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return found
}

func (c *counters) stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// getItem resolves one input against a snapshot. A malformed input
// surfaces its normalization error; a well-formed absent key surfaces
// ErrNotCached.
func getItem(snap *store.Snapshot, input string) (store.Item, error) {
	key, err := record.Normalize(input)
	if err != nil {
		return store.Item{}, err
	}
	item, ok := snap.Lookup(key)
	if !ok {
		return store.Item{}, fmt.Errorf("%w: %q", ErrNotCached, key)
	}
	return item, nil
}

// bulkLookup resolves all inputs against one snapshot, recording a hit or
// miss per input on c.
func bulkLookup(snap *store.Snapshot, inputs []string, c *counters) map[string]Result {
	out := make(map[string]Result, len(inputs))
	for _, input := range inputs {
		item, err := getItem(snap, input)
		found := c.record(err == nil)
		out[input] = Result{Item: item, Found: found}
	}
	return out
}

// SnapshotQuery serves lookups from one snapshot pinned at construction.
// Staleness is bounded by how often the caller builds a new handle.
type SnapshotQuery struct {
	snap *store.Snapshot
	counters
}

var _ Query = (*SnapshotQuery)(nil)

// NewSnapshotQuery wraps an already-loaded snapshot. A nil snapshot is
// served as an empty cache.
func NewSnapshotQuery(snap *store.Snapshot) *SnapshotQuery {
	return &SnapshotQuery{snap: snap}
}

// Get implements Query.
func (q *SnapshotQuery) Get(keyInput string) (store.Item, error) {
	item, err := getItem(q.snap, keyInput)
	q.record(err == nil)
	return item, err
}

// IsCached implements Query.
func (q *SnapshotQuery) IsCached(keyInput string) bool {
	_, err := getItem(q.snap, keyInput)
	return q.record(err == nil)
}

// BulkLookup implements Query.
func (q *SnapshotQuery) BulkLookup(keyInputs []string) map[string]Result {
	return bulkLookup(q.snap, keyInputs, &q.counters)
}

// Keys implements Query.
func (q *SnapshotQuery) Keys() []record.Key { return q.snap.Keys() }

// Stats implements Query.
func (q *SnapshotQuery) Stats() Stats { return q.stats() }

// Size reports how many items the pinned snapshot holds.
func (q *SnapshotQuery) Size() int { return q.snap.Len() }

package query

import (
	"golang.org/x/sync/singleflight"

	"github.com/billenewman4/itemcache/record"
	"github.com/billenewman4/itemcache/store"
)

// StoreQuery reloads the snapshot from its Store on every call, trading
// I/O for freshness. Concurrent calls that land while a load is in flight
// share its result instead of hitting the disk again.
//
// A load failure is served as an empty cache for the predicate methods,
// so callers fall back to reprocessing rather than trusting stale state;
// Get surfaces the load error.
type StoreQuery struct {
	store *store.Store
	group singleflight.Group
	counters
}

var _ Query = (*StoreQuery)(nil)

// NewStoreQuery builds a query handle that reads through st.
func NewStoreQuery(st *store.Store) *StoreQuery {
	return &StoreQuery{store: st}
}

func (q *StoreQuery) snapshot() (*store.Snapshot, error) {
	v, err, _ := q.group.Do("load", func() (any, error) {
		return q.store.Load()
	})
	if err != nil {
		return nil, err
	}
	return v.(*store.Snapshot), nil
}

// Get implements Query. Beyond ErrNotCached it can fail with the Store's
// load errors, including store.ErrCorrupt.
func (q *StoreQuery) Get(keyInput string) (store.Item, error) {
	snap, err := q.snapshot()
	if err != nil {
		q.record(false)
		return store.Item{}, err
	}
	item, err := getItem(snap, keyInput)
	q.record(err == nil)
	return item, err
}

// IsCached implements Query.
func (q *StoreQuery) IsCached(keyInput string) bool {
	snap, err := q.snapshot()
	if err != nil {
		return q.record(false)
	}
	_, err = getItem(snap, keyInput)
	return q.record(err == nil)
}

// BulkLookup implements Query. The snapshot is loaded once for the whole
// batch, not per input.
func (q *StoreQuery) BulkLookup(keyInputs []string) map[string]Result {
	snap, err := q.snapshot()
	if err != nil {
		snap = nil
	}
	return bulkLookup(snap, keyInputs, &q.counters)
}

// Keys implements Query. A load failure yields no keys.
func (q *StoreQuery) Keys() []record.Key {
	snap, err := q.snapshot()
	if err != nil {
		return nil
	}
	return snap.Keys()
}

// Stats implements Query.
func (q *StoreQuery) Stats() Stats { return q.stats() }

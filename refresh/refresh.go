package refresh

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/billenewman4/itemcache/observe"
	"github.com/billenewman4/itemcache/record"
	"github.com/billenewman4/itemcache/source"
	"github.com/billenewman4/itemcache/store"
)

// DefaultFetchTimeout bounds the source pull when no explicit timeout is
// configured. The pull is the only network wait in a cycle.
const DefaultFetchTimeout = time.Minute

// State is the phase a Refresher is currently in. It exists for
// observability: health endpoints and log lines report it, but transitions
// are not a synchronization mechanism.
type State int32

const (
	// StateIdle means no cycle is running and the last one, if any,
	// succeeded.
	StateIdle State = iota

	// StateFetching means the cycle is pulling records from the source.
	StateFetching

	// StateFiltering means pulled records are being split into accepted
	// and rejected.
	StateFiltering

	// StateReconciling means the accepted set is being merged against the
	// current snapshot.
	StateReconciling

	// StatePersisting means the new snapshot is being written to disk.
	StatePersisting

	// StateFailed means the last cycle aborted. It holds until the next
	// cycle starts; the persisted file is whatever the last successful
	// cycle wrote.
	StateFailed
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateFiltering:
		return "filtering"
	case StateReconciling:
		return "reconciling"
	case StatePersisting:
		return "persisting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result reports what one refresh cycle changed. It is a report, not live
// state: inspecting it never touches the cache.
type Result struct {
	// Mode is the cycle that ran, "full" or "incremental". An incremental
	// request against a cache that has never been written runs as full.
	Mode string

	// Diff lists the affected keys, sorted, plus the records skipped as
	// invalid.
	Diff store.Diff

	// Total is the number of cached items after the cycle.
	Total int

	// Duration is the wall time of the whole cycle, pull included.
	Duration time.Duration

	// Metadata is the new metadata of the persisted snapshot.
	Metadata store.Metadata
}

func (res Result) stats() observe.CycleStats {
	return observe.CycleStats{
		Duration:  res.Duration,
		Added:     len(res.Diff.Added),
		Removed:   len(res.Diff.Removed),
		Unchanged: len(res.Diff.Unchanged),
		Invalid:   len(res.Diff.Invalid),
		Total:     res.Total,
	}
}

// Option configures a Refresher.
type Option func(*Refresher)

// WithFetchTimeout bounds the source pull. The timeout covers only the
// pull, never the local phases. Zero or negative disables the bound and
// leaves the pull governed by the caller's context alone.
func WithFetchTimeout(d time.Duration) Option {
	return func(r *Refresher) { r.fetchTimeout = d }
}

// WithObserver attaches telemetry: every cycle is traced, measured, and
// logged through obs. Without it cycles run silent.
func WithObserver(obs observe.Observer) Option {
	return func(r *Refresher) { r.obs = obs }
}

// Refresher drives refresh cycles for one cache file.
//
// Contract:
//   - Concurrency: safe for concurrent use. At most one cycle runs per
//     cache path at a time, process wide; a losing caller gets
//     ErrInProgress immediately rather than queueing. Readers are never
//     blocked.
//   - Context: the source pull honors ctx and the configured fetch
//     timeout; local phases run to completion once the pull returns.
//   - Errors: a timed-out pull wraps source.ErrUnavailable. Any failure
//     aborts the cycle before the cache file is replaced, so the previous
//     snapshot stays intact and readable.
type Refresher struct {
	store        *store.Store
	source       source.Source
	fetchTimeout time.Duration
	obs          observe.Observer
	mw           *observe.Middleware
	logger       observe.Logger
	lock         *pathLock
	state        atomic.Int32
}

// New creates a Refresher that mirrors src into st's cache file.
func New(st *store.Store, src source.Source, opts ...Option) (*Refresher, error) {
	if st == nil {
		return nil, ErrNilStore
	}
	if src == nil {
		return nil, ErrNilSource
	}
	r := &Refresher{
		store:        st,
		source:       src,
		fetchTimeout: DefaultFetchTimeout,
		logger:       observe.NopLogger(),
		lock:         lockFor(st.Path()),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.obs != nil {
		mw, err := observe.MiddlewareFromObserver(r.obs)
		if err != nil {
			return nil, fmt.Errorf("refresh: %w", err)
		}
		r.mw = mw
		r.logger = r.obs.Logger()
	}
	return r, nil
}

// State returns the phase the Refresher is currently in.
func (r *Refresher) State() State { return State(r.state.Load()) }

func (r *Refresher) setState(s State) { r.state.Store(int32(s)) }

// Full runs a full refresh: pull every record in the collection, keep the
// accepted subset, and replace the cache so it mirrors exactly that subset.
// Entries the source no longer accepts are evicted.
func (r *Refresher) Full(ctx context.Context, sourceID string) (Result, error) {
	if !r.lock.tryAcquire() {
		return Result{}, fmt.Errorf("%w: %s", ErrInProgress, r.store.Path())
	}
	defer r.lock.release()

	return r.run(ctx, sourceID, observe.ModeFull, time.Time{})
}

// Incremental refreshes from records modified after since. Accepted pulls
// are upserted, re-pulled records that no longer pass the filter are
// evicted, and entries the pull did not mention are retained as is.
//
// A zero since uses the current snapshot's last_updated as the watermark.
// If the cache has never been written there is no watermark to refresh
// from, so the cycle runs as a full refresh instead.
func (r *Refresher) Incremental(ctx context.Context, sourceID string, since time.Time) (Result, error) {
	if !r.lock.tryAcquire() {
		return Result{}, fmt.Errorf("%w: %s", ErrInProgress, r.store.Path())
	}
	defer r.lock.release()

	mode := observe.ModeIncremental
	if since.IsZero() {
		exists, err := r.store.Exists()
		if err != nil {
			r.setState(StateFailed)
			return Result{}, fmt.Errorf("refresh: resolve watermark: %w", err)
		}
		if exists {
			current, err := r.store.Load()
			if err != nil {
				r.setState(StateFailed)
				return Result{}, fmt.Errorf("refresh: resolve watermark: %w", err)
			}
			since = current.Metadata.LastUpdated
		} else {
			r.logger.Info(ctx, "no snapshot to refresh from, running full cycle",
				observe.Field{Key: "collection", Value: sourceID})
			mode = observe.ModeFull
		}
	}

	return r.run(ctx, sourceID, mode, since)
}

// run executes one cycle, wrapped in telemetry middleware when an observer
// is attached.
func (r *Refresher) run(ctx context.Context, sourceID, mode string, since time.Time) (Result, error) {
	meta := observe.CycleMeta{
		Collection: sourceID,
		Mode:       mode,
		CachePath:  r.store.Path(),
	}

	var res Result
	fn := observe.CycleFunc(func(ctx context.Context, cycle observe.CycleMeta) (observe.CycleStats, error) {
		var err error
		res, err = r.cycle(ctx, sourceID, cycle.Mode, since)
		return res.stats(), err
	})
	if r.mw != nil {
		fn = r.mw.Wrap(fn)
	}

	if _, err := fn(ctx, meta); err != nil {
		return Result{}, err
	}
	return res, nil
}

// cycle is the state machine body. Any error marks the Refresher failed
// and leaves the cache file untouched; only the final persist replaces it.
func (r *Refresher) cycle(ctx context.Context, sourceID, mode string, since time.Time) (Result, error) {
	start := time.Now()

	r.setState(StateFetching)
	records, err := r.pull(ctx, sourceID, mode, since)
	if err != nil {
		return r.fail(err)
	}

	r.setState(StateFiltering)
	accepted, rejected := r.store.Vocabulary().Split(records)

	r.setState(StateReconciling)
	current, err := r.store.Load()
	if err != nil {
		return r.fail(fmt.Errorf("refresh: load current snapshot: %w", err))
	}
	var (
		next *store.Snapshot
		diff store.Diff
	)
	if mode == observe.ModeIncremental {
		next, diff, err = r.store.ReconcileDelta(current, accepted, rejected, sourceID)
	} else {
		next, diff, err = r.store.Reconcile(current, accepted, sourceID)
	}
	if err != nil {
		return r.fail(fmt.Errorf("refresh: reconcile: %w", err))
	}

	r.setState(StatePersisting)
	if err := r.store.Save(next); err != nil {
		return r.fail(fmt.Errorf("refresh: persist snapshot: %w", err))
	}

	r.setState(StateIdle)
	return Result{
		Mode:     mode,
		Diff:     diff,
		Total:    next.Len(),
		Duration: time.Since(start),
		Metadata: next.Metadata,
	}, nil
}

// pull fetches from the source with the configured timeout applied. A pull
// that runs out of time reports the source as unavailable; the distinction
// between a dead source and a slow one does not matter to the cycle.
func (r *Refresher) pull(ctx context.Context, sourceID, mode string, since time.Time) ([]record.Record, error) {
	if r.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.fetchTimeout)
		defer cancel()
	}

	var (
		records []record.Record
		err     error
	)
	if mode == observe.ModeIncremental {
		records, err = r.source.FetchSince(ctx, sourceID, since)
	} else {
		records, err = r.source.FetchAll(ctx, sourceID)
	}
	if err == nil {
		return records, nil
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, source.ErrUnavailable) {
		return nil, fmt.Errorf("%w: pull %q timed out: %v", source.ErrUnavailable, sourceID, err)
	}
	return nil, fmt.Errorf("refresh: pull %q: %w", sourceID, err)
}

func (r *Refresher) fail(err error) (Result, error) {
	r.setState(StateFailed)
	return Result{}, err
}

// pathLock is a non-blocking mutex. tryAcquire either takes it or reports
// it busy; nothing ever waits on it.
type pathLock struct {
	held atomic.Bool
}

func (l *pathLock) tryAcquire() bool { return l.held.CompareAndSwap(false, true) }
func (l *pathLock) release()         { l.held.Store(false) }

// cacheLocks holds one lock per cache file path for the whole process, so
// two Refreshers opened on the same file contend on the same lock.
var cacheLocks = struct {
	mu     sync.Mutex
	byPath map[string]*pathLock
}{byPath: make(map[string]*pathLock)}

// lockFor returns the write lock for a cache path. Paths are normalized to
// absolute form so different spellings of the same file share one lock.
func lockFor(path string) *pathLock {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	cacheLocks.mu.Lock()
	defer cacheLocks.mu.Unlock()
	l, ok := cacheLocks.byPath[abs]
	if !ok {
		l = &pathLock{}
		cacheLocks.byPath[abs] = l
	}
	return l
}

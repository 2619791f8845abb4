// Package refresh orchestrates cache refresh cycles: pull records from the
// source, filter them to the accepted subset, reconcile against the current
// snapshot, and persist the result atomically.
//
// A Refresher owns one cache file and drives the cycle as a small state
// machine (fetching, filtering, reconciling, persisting) whose current
// phase is observable while a cycle runs. Writes are single-flight per
// cache path: a second cycle attempted while one is running fails fast
// with ErrInProgress instead of blocking. Readers are never coordinated
// with; they see the previous snapshot until the atomic swap.
//
// Full cycles mirror the complete accepted set and evict anything the
// source no longer accepts. Incremental cycles pull only records modified
// since a watermark and reconcile them against the full existing snapshot,
// so an untouched entry is retained as is even if it would no longer pass
// the filter today. That staleness is bounded by the full refresh cadence.
package refresh

// Package store owns the persisted accepted-items cache: the snapshot model,
// durable atomic saves, and the reconcile algorithm that keeps the cache
// equal to the currently-accepted record set.
//
// A Snapshot is the unit of atomic replacement. Refreshes never mutate the
// persisted file in place: they build a new snapshot in memory and swap it
// in with a single rename, so readers observe either the old state or the
// new state in full, never a mix. The cache is a mirror of current truth,
// not an append-only log: reconciliation evicts entries the source no
// longer classifies as accepted.
package store

// Package query is the read-only lookup surface over a cache snapshot.
//
// Downstream consumers use it to skip records that are already cached:
// point lookups, bulk lookups, and an order-preserving filter that keeps
// only the records still needing work. Two implementations cover the two
// freshness policies: SnapshotQuery pins one snapshot for its lifetime
// (cheap, acceptably stale), StoreQuery reloads from disk per call
// (fresher, more I/O). Neither ever mutates the cache or triggers a
// refresh.
package query

package store

import (
	"fmt"
	"maps"
	"sort"

	"github.com/billenewman4/itemcache/record"
)

// InvalidRecord reports a record that could not be keyed during
// reconciliation. Invalid records are skipped, never cached, and never
// evict anything.
type InvalidRecord struct {
	DocumentID string
	Identifier string
	Reason     string
}

// Diff summarizes how a reconcile changed the cache. Key slices are sorted.
//
// Classification is by key identity: a key present both before and after is
// Unchanged even when its payload was refreshed in place.
type Diff struct {
	Added     []record.Key
	Removed   []record.Key
	Unchanged []record.Key
	Invalid   []InvalidRecord
}

// Reconcile builds the snapshot that mirrors accepted as the complete
// current truth. Keys absent from accepted are evicted, new keys are added,
// and keys present in both refresh their payload and document identity in
// place while keeping their original cached timestamp.
//
// sourceID names the collection the records came from; empty carries the
// current snapshot's value forward. Two distinct documents normalizing to
// the same key abort with ErrInvariant, since the cache cannot represent
// both. The input snapshot is never mutated.
func (s *Store) Reconcile(current *Snapshot, accepted []record.Record, sourceID string) (*Snapshot, Diff, error) {
	items, invalid, err := s.upsert(current, nil, accepted)
	if err != nil {
		return nil, Diff{}, err
	}
	next := s.nextSnapshot(current, items, sourceID)
	diff := compare(current, next)
	diff.Invalid = invalid
	return next, diff, nil
}

// ReconcileDelta applies an incremental pull: accepted records are upserted,
// rejected records evict any cached entry under their key, and everything
// the pull did not mention is retained as is.
//
// A rejected record whose identifier cannot be keyed is reported as invalid
// and evicts nothing. A key claimed by both an accepted and a rejected
// record in the same pull aborts with ErrInvariant.
func (s *Store) ReconcileDelta(current *Snapshot, accepted, rejected []record.Record, sourceID string) (*Snapshot, Diff, error) {
	var retained map[record.Key]Item
	if current != nil {
		retained = current.Items
	}
	items, invalid, err := s.upsert(current, retained, accepted)
	if err != nil {
		return nil, Diff{}, err
	}
	upserted := make(map[record.Key]bool, len(accepted))
	for _, r := range accepted {
		if key, err := r.Key(); err == nil {
			upserted[key] = true
		}
	}
	for _, r := range rejected {
		key, err := r.Key()
		if err != nil {
			invalid = append(invalid, InvalidRecord{
				DocumentID: r.DocumentID,
				Identifier: r.ProductCode,
				Reason:     err.Error(),
			})
			continue
		}
		if upserted[key] {
			return nil, Diff{}, fmt.Errorf("%w: document %q rejects key %q that this pull also accepts", ErrInvariant, r.DocumentID, key)
		}
		delete(items, key)
	}
	next := s.nextSnapshot(current, items, sourceID)
	diff := compare(current, next)
	diff.Invalid = invalid
	return next, diff, nil
}

// upsert builds the next item mapping. It starts from base (nil for a full
// reconcile, the current items for an incremental one) and folds in every
// accepted record: already-cached keys refresh payload and document identity
// but keep their first-seen timestamp, new keys are stamped with the clock.
func (s *Store) upsert(current *Snapshot, base map[record.Key]Item, accepted []record.Record) (map[record.Key]Item, []InvalidRecord, error) {
	now := s.now()
	items := make(map[record.Key]Item, len(base)+len(accepted))
	maps.Copy(items, base)
	var invalid []InvalidRecord
	seen := make(map[record.Key]string, len(accepted))
	for _, r := range accepted {
		key, err := r.Key()
		if err != nil {
			invalid = append(invalid, InvalidRecord{
				DocumentID: r.DocumentID,
				Identifier: r.ProductCode,
				Reason:     err.Error(),
			})
			continue
		}
		if prev, dup := seen[key]; dup {
			return nil, nil, fmt.Errorf("%w: documents %q and %q share cache key %q", ErrInvariant, prev, r.DocumentID, key)
		}
		seen[key] = r.DocumentID

		item := Item{
			ProductCode: r.ProductCode,
			DocumentID:  r.DocumentID,
			CachedAt:    now,
			Reason:      ReasonApproved,
			Payload:     maps.Clone(r.Fields),
		}
		if existing, ok := current.Lookup(key); ok {
			item.CachedAt = existing.CachedAt
		}
		items[key] = item
	}
	return items, invalid, nil
}

func (s *Store) nextSnapshot(current *Snapshot, items map[record.Key]Item, sourceID string) *Snapshot {
	if sourceID == "" && current != nil {
		sourceID = current.Metadata.SourceCollection
	}
	return &Snapshot{
		Metadata: Metadata{
			LastUpdated:      s.now(),
			SourceCollection: sourceID,
			TotalItems:       len(items),
			Version:          Version,
			KeyStrategy:      KeyStrategy,
			FilterCriteria:   FilterCriteria{ApprovedValues: s.Vocabulary()},
		},
		Items: items,
	}
}

// compare classifies keys by presence before and after a reconcile.
func compare(current, next *Snapshot) Diff {
	var diff Diff
	for key := range next.Items {
		if _, ok := current.Lookup(key); ok {
			diff.Unchanged = append(diff.Unchanged, key)
		} else {
			diff.Added = append(diff.Added, key)
		}
	}
	if current != nil {
		for key := range current.Items {
			if _, ok := next.Items[key]; !ok {
				diff.Removed = append(diff.Removed, key)
			}
		}
	}
	sortKeys(diff.Added)
	sortKeys(diff.Removed)
	sortKeys(diff.Unchanged)
	return diff
}

func sortKeys(keys []record.Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
}

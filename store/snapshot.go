package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/billenewman4/itemcache/record"
)

const (
	// Version is the cache file format version this package reads and writes.
	Version = "1.0"

	// KeyStrategy names the field the cache is keyed by.
	KeyStrategy = "product_code"

	// ReasonApproved is the cache_reason recorded for every item; only
	// records that passed the acceptance filter are ever cached.
	ReasonApproved = "approved"
)

// Item is one cached record as it appears in the file.
type Item struct {
	// ProductCode is the raw identifier as it appeared in the source,
	// before normalization.
	ProductCode string `json:"product_code"`

	// DocumentID is the source document this item was built from.
	DocumentID string `json:"document_id"`

	// CachedAt is when the item first entered the cache. Refreshes that
	// re-observe an already-cached key keep the original value.
	CachedAt time.Time `json:"cached_timestamp"`

	// Reason records why the item was cached. Always ReasonApproved.
	Reason string `json:"cache_reason"`

	// Payload is the full source document body, including the approval
	// field itself.
	Payload map[string]any `json:"item_data"`
}

// FilterCriteria records the acceptance vocabulary in effect when the
// snapshot was built, so a reader can tell which values counted as
// accepted without consulting the writer's configuration.
type FilterCriteria struct {
	ApprovedValues record.Vocabulary `json:"approved_field_values"`
}

// Metadata describes the snapshot as a whole.
type Metadata struct {
	LastUpdated      time.Time      `json:"last_updated"`
	SourceCollection string         `json:"source_collection"`
	TotalItems       int            `json:"total_cached_items"`
	Version          string         `json:"cache_version"`
	KeyStrategy      string         `json:"cache_key_strategy"`
	FilterCriteria   FilterCriteria `json:"filtering_criteria"`
}

// Snapshot is a complete point-in-time state of the cache: metadata plus
// the keyed item mapping. Snapshots are immutable once built; reconcile
// returns a new snapshot rather than mutating its input.
type Snapshot struct {
	Metadata Metadata
	Items    map[record.Key]Item
}

// Len reports the number of cached items.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Items)
}

// Lookup returns the item cached under key, if any.
func (s *Snapshot) Lookup(key record.Key) (Item, bool) {
	if s == nil {
		return Item{}, false
	}
	item, ok := s.Items[key]
	return item, ok
}

// Keys returns every cache key in the snapshot in sorted order.
func (s *Snapshot) Keys() []record.Key {
	if s == nil {
		return nil
	}
	keys := make([]record.Key, 0, len(s.Items))
	for k := range s.Items {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Validate checks the snapshot's internal consistency and returns a
// human-readable issue per violation, or nil if the snapshot is sound.
//
// Checked: the format version and key strategy are the ones this package
// writes, the metadata item count matches the mapping size, timestamps are
// set, and every item's identifier normalizes to the key it is stored
// under. It runs after every load and before every save.
func (s *Snapshot) Validate() []string {
	if s == nil {
		return []string{"snapshot is nil"}
	}
	var issues []string
	if s.Metadata.Version != Version {
		issues = append(issues, fmt.Sprintf("unsupported cache_version %q, want %q", s.Metadata.Version, Version))
	}
	if s.Metadata.KeyStrategy != KeyStrategy {
		issues = append(issues, fmt.Sprintf("unsupported cache_key_strategy %q, want %q", s.Metadata.KeyStrategy, KeyStrategy))
	}
	if s.Metadata.LastUpdated.IsZero() {
		issues = append(issues, "metadata last_updated is unset")
	}
	if s.Metadata.TotalItems != len(s.Items) {
		issues = append(issues, fmt.Sprintf("metadata total_cached_items is %d but mapping holds %d", s.Metadata.TotalItems, len(s.Items)))
	}
	for _, key := range s.Keys() {
		item := s.Items[key]
		want, err := record.Normalize(item.ProductCode)
		switch {
		case err != nil:
			issues = append(issues, fmt.Sprintf("item %q has invalid product_code %q: %v", key, item.ProductCode, err))
		case want != key:
			issues = append(issues, fmt.Sprintf("item %q has product_code %q which keys to %q", key, item.ProductCode, want))
		}
		if item.CachedAt.IsZero() {
			issues = append(issues, fmt.Sprintf("item %q has no cached_timestamp", key))
		}
		if item.Reason == "" {
			issues = append(issues, fmt.Sprintf("item %q has no cache_reason", key))
		}
	}
	return issues
}

// snapshotFile is the on-disk shape. Pointer fields distinguish a section
// that is absent from one that is present but empty.
type snapshotFile struct {
	Metadata    *Metadata `json:"metadata"`
	CachedItems *itemMap  `json:"cached_items"`
}

// itemMap decodes the cached_items object token by token so that duplicate
// keys, which encoding/json silently collapses, are caught as corruption.
type itemMap map[record.Key]Item

func (m *itemMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("cached_items is %v, want an object", tok)
	}
	out := make(map[record.Key]Item)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("cached_items key is %v, want a string", tok)
		}
		if _, dup := out[record.Key(key)]; dup {
			return fmt.Errorf("duplicate cache key %q", key)
		}
		var item Item
		if err := dec.Decode(&item); err != nil {
			return fmt.Errorf("item %q: %w", key, err)
		}
		out[record.Key(key)] = item
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*m = out
	return nil
}

func decodeSnapshot(data []byte) (*Snapshot, error) {
	var file snapshotFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if file.Metadata == nil {
		return nil, fmt.Errorf("missing metadata section")
	}
	if file.CachedItems == nil {
		return nil, fmt.Errorf("missing cached_items section")
	}
	return &Snapshot{Metadata: *file.Metadata, Items: *file.CachedItems}, nil
}

func encodeSnapshot(s *Snapshot) ([]byte, error) {
	items := itemMap(s.Items)
	if items == nil {
		items = itemMap{}
	}
	file := snapshotFile{Metadata: &s.Metadata, CachedItems: &items}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

package store

import "errors"

var (
	// ErrCorrupt indicates the cache file exists but cannot be decoded
	// into the snapshot structure: unparseable JSON, missing sections,
	// duplicate keys in the stored mapping, or malformed item shapes.
	// Load never repairs a corrupt file; callers decide whether to
	// rebuild from the source of truth.
	ErrCorrupt = errors.New("store: cache file is corrupt")

	// ErrInvariant indicates a snapshot produced by reconciliation
	// violates internal consistency, such as two distinct records
	// claiming the same cache key. It marks a bug or bad source data
	// and aborts the refresh before anything is written.
	ErrInvariant = errors.New("store: snapshot invariant violated")
)

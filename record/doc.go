// Package record defines the source record model, cache key normalization,
// and the acceptance filter that decides which records qualify for caching.
//
// A Key is derived from a record's business identifier (its product code) by
// trimming surrounding whitespace and upper-casing, so identifiers that
// differ only in case or padding map to the same cache entry. Acceptance is
// a vocabulary membership test on the record's raw approval value.
package record

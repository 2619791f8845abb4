package record

import "strings"

// Vocabulary is the set of approval values recognized as affirmative.
// Entries are stored lowercase; matching trims and lower-cases the raw
// value first, so "  Yes " and "YES" both match the entry "yes".
type Vocabulary []string

// DefaultVocabulary returns the recognized affirmative approval values.
// The returned slice is a fresh copy: it is persisted into cache metadata
// and callers must not be able to alias the canonical set.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{"approved", "yes", "y", "true", "1", "accept", "accepted", "✓"}
}

// Accepted reports whether the record's approval value is a member of the
// vocabulary. Pure function; safe for concurrent use.
func (v Vocabulary) Accepted(r Record) bool {
	status := strings.ToLower(strings.TrimSpace(r.Approval))
	if status == "" {
		return false
	}
	for _, want := range v {
		if status == want {
			return true
		}
	}
	return false
}

// FilterAccepted returns the accepted subset of records in input order.
// Records are never mutated.
func (v Vocabulary) FilterAccepted(records []Record) []Record {
	accepted := make([]Record, 0, len(records))
	for _, r := range records {
		if v.Accepted(r) {
			accepted = append(accepted, r)
		}
	}
	return accepted
}

// Split partitions records into accepted and rejected subsets, each in
// input order. Incremental reconciliation needs both sides: a record the
// source now rejects must still evict its cache entry.
func (v Vocabulary) Split(records []Record) (accepted, rejected []Record) {
	accepted = make([]Record, 0, len(records))
	rejected = make([]Record, 0, len(records))
	for _, r := range records {
		if v.Accepted(r) {
			accepted = append(accepted, r)
		} else {
			rejected = append(rejected, r)
		}
	}
	return accepted, rejected
}

// FilterStats summarizes one filtering pass.
type FilterStats struct {
	Total          int
	Accepted       int
	Rejected       int
	AcceptanceRate float64 // percentage, 0 when Total is 0
}

// Stats computes filter statistics for a record set without filtering it.
func (v Vocabulary) Stats(records []Record) FilterStats {
	s := FilterStats{Total: len(records)}
	for _, r := range records {
		if v.Accepted(r) {
			s.Accepted++
		} else {
			s.Rejected++
		}
	}
	if s.Total > 0 {
		s.AcceptanceRate = float64(s.Accepted) / float64(s.Total) * 100
	}
	return s
}

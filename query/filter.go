package query

// FilterUncached returns the subset of items whose identifier is not yet
// cached, in input order. The identifier function extracts the raw
// identifier from each item; an item whose identifier cannot be normalized
// is kept, since nothing under that identifier can be cached.
//
// Membership is resolved with one BulkLookup over all extracted
// identifiers, so a reloading Query pays a single load for the whole
// batch. Every item counts toward the handle's hit or miss statistics.
func FilterUncached[T any](q Query, items []T, identifier func(T) string) []T {
	if len(items) == 0 {
		return nil
	}
	inputs := make([]string, len(items))
	for i, item := range items {
		inputs[i] = identifier(item)
	}
	resolved := q.BulkLookup(inputs)

	uncached := make([]T, 0, len(items))
	for i, item := range items {
		if !resolved[inputs[i]].Found {
			uncached = append(uncached, item)
		}
	}
	return uncached
}

package query

import "errors"

// ErrNotCached indicates a point lookup found no item under the key. It is
// an expected outcome, not a failure: bulk lookups and FilterUncached
// report absence as a normal value and never return it.
var ErrNotCached = errors.New("query: key is not cached")

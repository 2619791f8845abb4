package refresh

import "errors"

var (
	// ErrInProgress indicates another refresh cycle currently holds the
	// write lock for this cache path. The caller should back off and retry
	// rather than queue; cycles are not meant to stack.
	ErrInProgress = errors.New("refresh: refresh already in progress")

	// ErrNilStore indicates New was called without a store.
	ErrNilStore = errors.New("refresh: store is required")

	// ErrNilSource indicates New was called without a source.
	ErrNilSource = errors.New("refresh: source is required")
)

package record

import "errors"

// Sentinel errors for record identity handling.
var (
	// ErrInvalidKey is returned when an identifier is empty after trimming
	// or contains control characters that cannot appear in a cache key.
	ErrInvalidKey = errors.New("record: identifier is invalid")

	// ErrKeyTooLong is returned when an identifier exceeds MaxKeyLength.
	ErrKeyTooLong = errors.New("record: identifier exceeds max length")
)

package source

import "errors"

var (
	// ErrUnavailable indicates the record source could not be reached or
	// did not answer in time. Retryable by the caller; the cause is
	// attached.
	ErrUnavailable = errors.New("source: record source unavailable")

	// ErrUnknownCollection indicates a fetch named a collection the
	// source does not have.
	ErrUnknownCollection = errors.New("source: unknown collection")
)

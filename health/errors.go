package health

import "errors"

var (
	// ErrCheckFailed indicates a probe observed a broken component.
	ErrCheckFailed = errors.New("health: check failed")

	// ErrCheckTimeout indicates a probe did not answer within the
	// aggregator's timeout.
	ErrCheckTimeout = errors.New("health: check timeout")

	// ErrCheckerNotFound indicates no checker is registered under the
	// requested name.
	ErrCheckerNotFound = errors.New("health: checker not found")
)

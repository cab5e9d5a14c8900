package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// ErrItemNotFound is returned when a catalogue item does not exist.
	ErrItemNotFound = errors.New("catalogue item not found")
	// ErrJobIDRequired is returned when an operation is missing its job id.
	ErrJobIDRequired = errors.New("job_id is required")
	// ErrCacheMiss is returned by the status cache when no snapshot is stored.
	ErrCacheMiss = errors.New("status cache miss")
)

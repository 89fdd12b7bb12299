package replay

import "errors"

var (
	// ErrInvalidOperation indicates an API was called without an active
	// replay, or a replay was started while one is active or while the host
	// forbids it.
	ErrInvalidOperation = errors.New("invalid replay operation")
	// ErrMissingMetadata indicates a detached entity has no recorded
	// prototype to recreate it from.
	ErrMissingMetadata = errors.New("missing entity metadata")
	// ErrInvalidLog indicates a recorded log that cannot be played back.
	ErrInvalidLog = errors.New("invalid replay log")
)

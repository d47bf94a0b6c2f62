package manager

import (
	"errors"
	"fmt"
)

var (
	// ErrStateConflict is the root of lifecycle violations the caller must
	// resolve. They are never retried internally.
	ErrStateConflict   = errors.New("state conflict")
	ErrRecordingActive = fmt.Errorf("%w: a recording is already active", ErrStateConflict)
	ErrReadOnly        = fmt.Errorf("%w: recording is read-only", ErrStateConflict)
	ErrStaleStaging    = fmt.Errorf("%w: staging record is not the current one", ErrStateConflict)

	// ErrNotFound is returned by commands addressing an unknown button ID.
	// Queries report absence with an ok flag instead.
	ErrNotFound = errors.New("not found")

	// ErrIO wraps filesystem failures while staging, committing or
	// backing up. Committed state is left as it was before the call.
	ErrIO = errors.New("storage i/o failure")

	// ErrInvalidArgument marks malformed calls such as an empty button ID.
	ErrInvalidArgument = errors.New("invalid argument")
)

func ioError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrIO, op, err)
}

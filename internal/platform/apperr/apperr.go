package apperr

import "errors"

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConflict signals a uniqueness conflict, e.g. a second replace job
	// racing for the same set lock.
	ErrConflict = errors.New("conflict")
	// ErrStalePreview signals that the catalog or the submitted rows changed
	// between preview and execution.
	ErrStalePreview = errors.New("stale preview hash")
	// ErrCancelled is the cooperative-stop signal; it is control flow, not a
	// failure.
	ErrCancelled = errors.New("cancelled")
)

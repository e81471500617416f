package urlsync

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the Syncer.
var (
	// ErrUnmounted is returned when a write is attempted after Unmount.
	ErrUnmounted = errors.New("urlsync: unmounted")

	// ErrNilAdapter is returned by MountE when no adapter is given.
	ErrNilAdapter = errors.New("urlsync: nil adapter")
)

// UpdateError wraps a failed write with the key it targeted.
type UpdateError struct {
	Key string
	Op  string // Operation that failed
	Err error  // Underlying error
}

// Error returns the error message with key context.
func (e *UpdateError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("urlsync: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("urlsync: %s %q: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *UpdateError) Unwrap() error {
	return e.Err
}

// IsUpdaterError reports whether err came from a failing updater function,
// as opposed to a rejected key or an unmounted syncer.
func IsUpdaterError(err error) bool {
	var ue *UpdateError
	return errors.As(err, &ue) && ue.Op == opResolve
}

const (
	opEnqueue = "enqueue"
	opResolve = "resolve"
)

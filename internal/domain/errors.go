package domain

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound indicates that a requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that a resource with the same identity
	// already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument indicates that a caller-provided value violates
	// a precondition.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAlreadyHeld indicates that a non-expired lock with a different
	// holder exists for the resource.
	ErrAlreadyHeld = errors.New("lock already held")

	// ErrLockExpired indicates that a lock's lease elapsed before the
	// holder renewed it.
	ErrLockExpired = errors.New("lock expired")

	// ErrStopTimeout indicates that the old instance did not release the
	// lock within the stop timeout. Manual intervention is required.
	ErrStopTimeout = errors.New("stop timeout")

	// ErrHealthTimeout indicates that the new instance did not become
	// healthy within the verification timeout.
	ErrHealthTimeout = errors.New("health timeout")

	// ErrInstanceFailed indicates that the instance reported a terminal
	// failure during verification.
	ErrInstanceFailed = errors.New("instance failed")

	// ErrCircuitOpen indicates that the circuit breaker rejected the
	// deployment after too many consecutive failures for the version.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrCancelled indicates that the caller cancelled the deployment.
	ErrCancelled = errors.New("cancelled")
)

// sentinels lists every taxonomy error, for restoring identity on errors
// that crossed a serialization boundary.
var sentinels = []error{
	ErrNotFound,
	ErrAlreadyExists,
	ErrInvalidArgument,
	ErrAlreadyHeld,
	ErrLockExpired,
	ErrStopTimeout,
	ErrHealthTimeout,
	ErrInstanceFailed,
	ErrCircuitOpen,
	ErrCancelled,
}

// RestoreSentinel re-attaches taxonomy identity to an error that crossed
// a workflow engine boundary. Engines serialize activity and workflow
// errors to text, so errors.Is stops matching the sentinel the error was
// wrapped with; the sentinel is recovered from the message instead. An
// error that still carries identity, or whose message names no sentinel,
// is returned unchanged.
func RestoreSentinel(err error) error {
	if err == nil {
		return nil
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return err
		}
	}
	msg := err.Error()
	for _, s := range sentinels {
		if strings.Contains(msg, s.Error()) {
			return &restoredError{sentinel: s, err: err}
		}
	}
	return err
}

type restoredError struct {
	sentinel error
	err      error
}

func (e *restoredError) Error() string   { return e.err.Error() }
func (e *restoredError) Unwrap() []error { return []error{e.sentinel, e.err} }

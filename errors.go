package greenthread

import (
	"errors"
	"fmt"
)

// PermissionError is returned when an operation is attempted by a caller
// not permitted to perform it, e.g. calling Pause on a Fiber other than
// the one currently running it.
type PermissionError struct {
	Cause   error
	Message string
}

func (e *PermissionError) Error() string {
	if e.Message == "" {
		return "greenthread: permission denied"
	}
	return e.Message
}

func (e *PermissionError) Unwrap() error { return e.Cause }

// DeadlockError is returned when an operation would provably deadlock,
// e.g. a fiber attempting to lock a mutex it already owns (non-recursive
// variants only) or joining itself.
type DeadlockError struct {
	Cause   error
	Message string
}

func (e *DeadlockError) Error() string {
	if e.Message == "" {
		return "greenthread: operation would deadlock"
	}
	return e.Message
}

func (e *DeadlockError) Unwrap() error { return e.Cause }

// InterruptedError is raised at an interruption point when the running
// fiber has a pending interruption request and interruption is not
// disabled.
type InterruptedError struct {
	Cause   error
	Message string
}

func (e *InterruptedError) Error() string {
	if e.Message == "" {
		return "greenthread: fiber interrupted"
	}
	return e.Message
}

func (e *InterruptedError) Unwrap() error { return e.Cause }

// InvariantError is returned when a caller violates a structural
// precondition of the API, e.g. calling a fiber-only operation from a
// foreign (non-fiber) goroutine, or joining a fiber owned by a different
// Scheduler.
type InvariantError struct {
	Cause   error
	Message string
}

func (e *InvariantError) Error() string {
	if e.Message == "" {
		return "greenthread: invariant violated"
	}
	return e.Message
}

func (e *InvariantError) Unwrap() error { return e.Cause }

// AbortError is surfaced via the owning Scheduler's error sink when a
// Fiber is destroyed (garbage collected, or explicitly Closed) while its
// body has not reached FiberStopped and it was not spawned detached.
type AbortError struct {
	Cause   error
	Message string
}

func (e *AbortError) Error() string {
	if e.Message == "" {
		return "greenthread: fiber aborted without reaching terminal state"
	}
	return e.Message
}

func (e *AbortError) Unwrap() error { return e.Cause }

// FutureErrCode enumerates the ways a Future/Promise pairing can be
// misused.
type FutureErrCode int

const (
	// FutureErrBrokenPromise indicates every copy of the Promise was
	// garbage collected before a value or error was set.
	FutureErrBrokenPromise FutureErrCode = iota + 1
	// FutureErrAlreadyRetrieved indicates GetFuture was already called.
	FutureErrAlreadyRetrieved
	// FutureErrPromiseAlreadySatisfied indicates SetValue/SetError was
	// already called once.
	FutureErrPromiseAlreadySatisfied
	// FutureErrNoState indicates use of a zero-value Future/Promise.
	FutureErrNoState
)

func (c FutureErrCode) String() string {
	switch c {
	case FutureErrBrokenPromise:
		return "broken promise"
	case FutureErrAlreadyRetrieved:
		return "future already retrieved"
	case FutureErrPromiseAlreadySatisfied:
		return "promise already satisfied"
	case FutureErrNoState:
		return "no state"
	default:
		return "unknown future error"
	}
}

// FutureError reports misuse of a Promise/Future pair.
type FutureError struct {
	Code    FutureErrCode
	Message string
}

func (e *FutureError) Error() string {
	if e.Message == "" {
		return "greenthread: future error: " + e.Code.String()
	}
	return e.Message
}

// Is reports whether target is a *FutureError with the same Code, so
// callers can use errors.Is(err, &FutureError{Code: FutureErrBrokenPromise}).
func (e *FutureError) Is(target error) bool {
	var other *FutureError
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

// newFutureError constructs a FutureError for the given code.
func newFutureError(code FutureErrCode) *FutureError {
	return &FutureError{Code: code}
}

// TimeoutIndication is a status value (not an error) returned by timed
// waits to distinguish "woke due to timeout" from "woke due to the awaited
// condition becoming true". It deliberately does not implement the error
// interface: callers comparing it to TimeoutNone/TimeoutElapsed branch on
// value equality rather than error wrapping.
type TimeoutIndication int

const (
	// TimeoutNone indicates the operation completed before any deadline.
	TimeoutNone TimeoutIndication = iota
	// TimeoutElapsed indicates the operation's deadline elapsed first.
	TimeoutElapsed
)

func (t TimeoutIndication) String() string {
	if t == TimeoutElapsed {
		return "elapsed"
	}
	return "none"
}

// WrapError wraps cause with a message, preserving it for errors.Is/As.
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}

// ErrSchedulerShutdown is a sentinel for a Scheduler that has already shut
// down. No function in this package returns it.
var ErrSchedulerShutdown = errors.New("greenthread: scheduler is shut down")

// ErrTimeout is a plain-error timeout sentinel. No function in this
// package returns it: the timed waits (LockFor, LockSharedFor, WaitFor)
// report timeouts as a TimeoutIndication.
var ErrTimeout = errors.New("greenthread: timed out")

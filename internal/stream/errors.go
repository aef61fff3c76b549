package stream

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of a write-path failure.
type ErrorType int

const (
	// ErrTypeInvalidState means the operation is not legal in the current state.
	ErrTypeInvalidState ErrorType = iota
	// ErrTypeQueueFull means the write queue is at capacity.
	ErrTypeQueueFull
	// ErrTypeTransport means the underlying stream reported a failure.
	ErrTypeTransport
	// ErrTypeTimedOut means a write or shutdown did not complete in time.
	ErrTypeTimedOut
)

// String returns a human-readable name for the error type
func (et ErrorType) String() string {
	switch et {
	case ErrTypeInvalidState:
		return "Invalid State"
	case ErrTypeQueueFull:
		return "Queue Full"
	case ErrTypeTransport:
		return "Transport Failure"
	case ErrTypeTimedOut:
		return "Timed Out"
	default:
		return fmt.Sprintf("ErrorType(%d)", et)
	}
}

// Sentinels matched by WriteError.Is.
var (
	ErrInvalidState = errors.New("invalid write state")
	ErrQueueFull    = errors.New("write queue full")
	ErrTransport    = errors.New("transport failure")
	ErrTimedOut     = errors.New("timed out")
)

// WriteError describes a rejected or failed operation on a connection.
// InvalidState and QueueFull are returned synchronously and never change
// state. Transport and TimedOut failures move the connection to CLOSING.
type WriteError struct {
	Type  ErrorType // Category of error
	Op    string    // Operation that failed ("write", "shutdown", ...)
	State State     // State the machine was in
	Err   error     // Underlying error (transport failures)
}

// Error implements the error interface
func (e *WriteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s in state %s (caused by: %v)", e.Type, e.Op, e.State, e.Err)
	}
	return fmt.Sprintf("%s: %s in state %s", e.Type, e.Op, e.State)
}

// Unwrap returns the underlying error for error chain inspection
func (e *WriteError) Unwrap() error {
	return e.Err
}

// Is matches the package sentinels by category.
func (e *WriteError) Is(target error) bool {
	switch target {
	case ErrInvalidState:
		return e.Type == ErrTypeInvalidState
	case ErrQueueFull:
		return e.Type == ErrTypeQueueFull
	case ErrTransport:
		return e.Type == ErrTypeTransport
	case ErrTimedOut:
		return e.Type == ErrTypeTimedOut
	}
	return false
}

// TransportError wraps err as a transport failure observed during op.
func TransportError(op string, st State, err error) *WriteError {
	if errors.Is(err, ErrTimedOut) {
		return &WriteError{Type: ErrTypeTimedOut, Op: op, State: st}
	}
	return &WriteError{Type: ErrTypeTransport, Op: op, State: st, Err: err}
}

func invalidState(op string, st State) *WriteError {
	return &WriteError{Type: ErrTypeInvalidState, Op: op, State: st}
}

func queueFull(op string, st State) *WriteError {
	return &WriteError{Type: ErrTypeQueueFull, Op: op, State: st}
}

func timedOut(op string, st State) *WriteError {
	return &WriteError{Type: ErrTypeTimedOut, Op: op, State: st}
}

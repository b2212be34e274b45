// Package session owns the simulation lifecycle: the per-session state
// machine, the step-loop worker, the control inbox, and event fan-out to
// subscribers.
package session

import "fmt"

// State is a session's lifecycle state.
type State string

const (
	Uninitialized State = "UNINITIALIZED"
	Initialized   State = "INITIALIZED"
	Running       State = "RUNNING"
	Paused        State = "PAUSED"
	Stopped       State = "STOPPED"
	Completed     State = "COMPLETED"
)

// Terminal reports whether the state ends the session.
func (s State) Terminal() bool {
	return s == Stopped || s == Completed
}

// ErrorKind classifies a session-layer failure.
type ErrorKind string

const (
	KindPrecondition ErrorKind = "precondition"
	KindNotFound     ErrorKind = "not_found"
	KindExhausted    ErrorKind = "resource_exhausted"
)

// Error is the user-visible failure shape. It never consumes a command or
// advances the clock.
type Error struct {
	Kind        ErrorKind `json:"error_kind"`
	Reason      string    `json:"reason"`
	StateBefore State     `json:"state_before"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (state %s)", e.Kind, e.Reason, e.StateBefore)
}

func precondition(reason string, before State) *Error {
	return &Error{Kind: KindPrecondition, Reason: reason, StateBefore: before}
}

func notFound(reason string, before State) *Error {
	return &Error{Kind: KindNotFound, Reason: reason, StateBefore: before}
}

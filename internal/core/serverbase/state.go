// SPDX-License-Identifier: MPL-2.0

package serverbase

import (
	"errors"
	"fmt"
)

const (
	// StateCreated indicates Start has not been called.
	StateCreated State = iota
	// StateStarting indicates Start is running (deploying services, binding listeners).
	StateStarting
	// StateRunning indicates requests are accepted.
	StateRunning
	// StateDraining indicates Stop was called: new requests are refused while
	// in-flight work finishes.
	StateDraining
	// StateStopped is terminal: the component has stopped.
	StateStopped
	// StateFailed is terminal: Start failed or a fatal error occurred.
	StateFailed
)

// ErrInvalidState is returned when a State value is not one of the defined lifecycle states.
var ErrInvalidState = errors.New("invalid state")

type (
	// State is a lifecycle state.
	State int32

	// InvalidStateError is returned when a State value is not recognized.
	// It wraps ErrInvalidState for errors.Is() compatibility.
	InvalidStateError struct {
		Value State
	}

	// TransitionError reports a transition attempted from the wrong state.
	TransitionError struct {
		Component string
		From      State
		To        State
	}
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Error implements the error interface for InvalidStateError.
func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state %d (valid: 0=created, 1=starting, 2=running, 3=draining, 4=stopped, 5=failed)", e.Value)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot move from %s to %s", e.Component, e.From, e.To)
}

// Validate returns nil for defined states and an error wrapping ErrInvalidState otherwise.
func (s State) Validate() error {
	switch s {
	case StateCreated, StateStarting, StateRunning, StateDraining, StateStopped, StateFailed:
		return nil
	default:
		return &InvalidStateError{Value: s}
	}
}

// IsTerminal reports whether s is Stopped or Failed.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

// Accepting reports whether new work may be admitted in state s.
func (s State) Accepting() bool {
	return s == StateRunning
}

// SPDX-License-Identifier: MPL-2.0

package interceptor

import (
	"errors"
	"fmt"
)

const (
	// StateContinue passes control to the next step.
	StateContinue State = iota
	// StateForceOnResult ends the chain with a substitute success value.
	StateForceOnResult
	// StateForceOnException ends the chain with a fault.
	StateForceOnException
)

// ErrInvalidState is returned when a State value is not recognized.
var ErrInvalidState = errors.New("invalid interceptor state")

type (
	// State is the outcome class of one interceptor invocation.
	State int

	// InvalidStateError is returned when a State value is not recognized.
	InvalidStateError struct {
		Value State
	}

	// Result is returned by every interceptor. Continue carries nothing,
	// ForceResult a success value and ForceException an error.
	Result struct {
		state State
		value any
		err   error
	}
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateContinue:
		return "CONTINUE"
	case StateForceOnResult:
		return "FORCE_ON_RESULT"
	case StateForceOnException:
		return "FORCE_ON_EXCEPTION"
	default:
		return "UNKNOWN"
	}
}

// Validate returns an error wrapping ErrInvalidState for undefined states.
func (s State) Validate() error {
	switch s {
	case StateContinue, StateForceOnResult, StateForceOnException:
		return nil
	default:
		return &InvalidStateError{Value: s}
	}
}

// Error implements the error interface.
func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid interceptor state %d", e.Value)
}

// Unwrap returns ErrInvalidState.
func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// Continue lets execution proceed.
func Continue() Result { return Result{state: StateContinue} }

// ForceResult ends execution with v as the success value.
func ForceResult(v any) Result { return Result{state: StateForceOnResult, value: v} }

// ForceException ends execution with err. A nil err is treated as an
// unexpected failure by the venue.
func ForceException(err error) Result { return Result{state: StateForceOnException, err: err} }

// State returns the outcome class.
func (r Result) State() State { return r.state }

// Value returns the forced success value.
func (r Result) Value() any { return r.value }

// Err returns the forced error.
func (r Result) Err() error { return r.err }

// Terminates reports whether r ends the chain.
func (r Result) Terminates() bool { return r.state != StateContinue }

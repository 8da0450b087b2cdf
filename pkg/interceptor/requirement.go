// SPDX-License-Identifier: MPL-2.0

package interceptor

import (
	"context"
	"errors"
	"fmt"
)

const (
	// ExactlyOnce runs once per request, before queueing when there is a
	// queue and otherwise before execution.
	ExactlyOnce Requirement = iota
	// EveryOpportunity runs before queueing and again before execution.
	EveryOpportunity
	// PreQueue runs once before the request is queued.
	PreQueue
	// PreExecute runs once immediately before the executable.
	PreExecute
)

const (
	// PhaseUnqueued is the single pre-processing point of a direct execution.
	PhaseUnqueued Phase = iota
	// PhasePreQueue runs on the caller before the request is handed to an executor.
	PhasePreQueue
	// PhasePreExecute runs on the executor immediately before the executable.
	PhasePreExecute
)

// ErrInvalidRequirement is returned when a Requirement value is not recognized.
var ErrInvalidRequirement = errors.New("invalid execution requirement")

type (
	// Requirement controls when and how often a pre-processor runs.
	Requirement int

	// Phase is a pre-processing point in the pipeline.
	Phase int

	// InvalidRequirementError is returned when a Requirement value is not recognized.
	InvalidRequirementError struct {
		Value Requirement
	}
)

// String returns the requirement name.
func (r Requirement) String() string {
	switch r {
	case ExactlyOnce:
		return "EXACTLY_ONCE"
	case EveryOpportunity:
		return "EVERY_OPPORTUNITY"
	case PreQueue:
		return "PRE_QUEUE"
	case PreExecute:
		return "PRE_EXECUTE"
	default:
		return "UNKNOWN"
	}
}

// Validate returns an error wrapping ErrInvalidRequirement for undefined values.
func (r Requirement) Validate() error {
	switch r {
	case ExactlyOnce, EveryOpportunity, PreQueue, PreExecute:
		return nil
	default:
		return &InvalidRequirementError{Value: r}
	}
}

// Error implements the error interface.
func (e *InvalidRequirementError) Error() string {
	return fmt.Sprintf("invalid execution requirement %d (valid: 0=exactly once, 1=every opportunity, 2=pre queue, 3=pre execute)", e.Value)
}

// Unwrap returns ErrInvalidRequirement.
func (e *InvalidRequirementError) Unwrap() error { return ErrInvalidRequirement }

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseUnqueued:
		return "unqueued"
	case PhasePreQueue:
		return "pre-queue"
	case PhasePreExecute:
		return "pre-execute"
	default:
		return "unknown"
	}
}

// RunsIn reports whether a pre-processor with requirement r runs at phase p.
// alreadyRan tells whether it ran at an earlier phase of the same request.
func (r Requirement) RunsIn(p Phase, alreadyRan bool) bool {
	switch p {
	case PhaseUnqueued:
		return !alreadyRan
	case PhasePreQueue:
		return r == ExactlyOnce || r == EveryOpportunity || r == PreQueue
	case PhasePreExecute:
		switch r {
		case EveryOpportunity, PreExecute:
			return true
		case ExactlyOnce:
			return !alreadyRan
		default:
			return false
		}
	default:
		return false
	}
}

type phaseKey struct{}

// WithPhase returns a copy of ctx recording the phase a pre-processor is
// invoked at.
func WithPhase(ctx context.Context, p Phase) context.Context {
	return context.WithValue(ctx, phaseKey{}, p)
}

// PhaseOf returns the phase recorded by WithPhase.
func PhaseOf(ctx context.Context) (Phase, bool) {
	p, ok := ctx.Value(phaseKey{}).(Phase)
	return p, ok
}

// SPDX-License-Identifier: MPL-2.0

package timing

import (
	"time"

	"github.com/invowk/cougar/pkg/execution"
	"github.com/invowk/cougar/pkg/fault"
	"github.com/invowk/cougar/pkg/operation"
)

const (
	// OutcomeSuccess is a success or subscription result.
	OutcomeSuccess Outcome = "success"
	// OutcomeFault is any fault other than a timeout.
	OutcomeFault Outcome = "fault"
	// OutcomeTimeout is a fault raised by the deadline watchdog.
	OutcomeTimeout Outcome = "timeout"
)

type (
	// Outcome classifies a finished execution for recording.
	Outcome string

	// Recorder receives one observation per finished execution.
	// Implementations must be safe for concurrent use.
	Recorder interface {
		Record(key operation.Key, outcome Outcome, elapsed time.Duration)
	}

	// Multi fans observations out to several recorders.
	Multi []Recorder

	// Nop discards observations.
	Nop struct{}
)

// OutcomeOf classifies r.
func OutcomeOf(r execution.Result) Outcome {
	if !r.IsFault() {
		return OutcomeSuccess
	}
	if r.Fault().Code() == fault.Timeout {
		return OutcomeTimeout
	}
	return OutcomeFault
}

// Record forwards to every recorder.
func (m Multi) Record(key operation.Key, outcome Outcome, elapsed time.Duration) {
	for _, r := range m {
		r.Record(key, outcome, elapsed)
	}
}

// Record does nothing.
func (Nop) Record(operation.Key, Outcome, time.Duration) {}

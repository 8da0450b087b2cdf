// SPDX-License-Identifier: MPL-2.0

package timing

import (
	"sync/atomic"
	"time"

	"github.com/invowk/cougar/pkg/operation"
)

type (
	// Stats counts executions of one operation with atomic counters.
	Stats struct {
		calls    atomic.Int64
		success  atomic.Int64
		faults   atomic.Int64
		timeouts atomic.Int64
		totalNs  atomic.Int64
		maxNs    atomic.Int64
	}

	// Snapshot is a point-in-time copy of Stats.
	Snapshot struct {
		Calls    int64         `json:"calls" yaml:"calls"`
		Success  int64         `json:"success" yaml:"success"`
		Faults   int64         `json:"faults" yaml:"faults"`
		Timeouts int64         `json:"timeouts" yaml:"timeouts"`
		Total    time.Duration `json:"total" yaml:"total"`
		Max      time.Duration `json:"max" yaml:"max"`
	}
)

// NewStats returns zeroed Stats.
func NewStats() *Stats { return &Stats{} }

// Record adds one observation.
func (s *Stats) Record(_ operation.Key, outcome Outcome, elapsed time.Duration) {
	s.calls.Add(1)
	switch outcome {
	case OutcomeSuccess:
		s.success.Add(1)
	case OutcomeTimeout:
		s.timeouts.Add(1)
	default:
		s.faults.Add(1)
	}

	ns := elapsed.Nanoseconds()
	s.totalNs.Add(ns)
	for {
		cur := s.maxNs.Load()
		if ns <= cur || s.maxNs.CompareAndSwap(cur, ns) {
			break
		}
	}
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Calls:    s.calls.Load(),
		Success:  s.success.Load(),
		Faults:   s.faults.Load(),
		Timeouts: s.timeouts.Load(),
		Total:    time.Duration(s.totalNs.Load()),
		Max:      time.Duration(s.maxNs.Load()),
	}
}

// Mean returns the average latency, or 0 when nothing was recorded.
func (s Snapshot) Mean() time.Duration {
	if s.Calls == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Calls)
}

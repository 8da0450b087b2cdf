// SPDX-License-Identifier: MPL-2.0

package venue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/invowk/cougar/internal/clock"
	"github.com/invowk/cougar/internal/intercept"
	"github.com/invowk/cougar/internal/timing"
	"github.com/invowk/cougar/pkg/execution"
	"github.com/invowk/cougar/pkg/fault"
	"github.com/invowk/cougar/pkg/operation"
)

// timedExecutable is the innermost layer around a registered executable.
// It starts the deadline watchdog when the executable begins, records
// timing, and cancels the executable's context once a result is settled.
type timedExecutable struct {
	inner    execution.Executable
	maxTime  time.Duration
	recorder timing.Recorder
	clock    clock.Clock
	logger   *log.Logger
}

// budget returns the watchdog duration: the earlier of the operation's
// maximum execution time and the request's expiry. Zero means none.
func (t *timedExecutable) budget(now time.Time, tc execution.TimeConstraints) time.Duration {
	d := t.maxTime
	if tc.Bounded() {
		if rem := tc.Remaining(now); d == 0 || rem < d {
			d = rem
		}
	}
	return d
}

func (t *timedExecutable) Execute(ctx context.Context, ec *execution.Context, key operation.Key, args []any, obs execution.Observer, venue execution.Venue, tc execution.TimeConstraints) {
	start := t.clock.Now()
	runCtx, cancel := context.WithCancel(ctx)

	var (
		settled atomic.Bool
		timerMu sync.Mutex
		timer   clock.Timer
	)
	settle := func(r execution.Result, to execution.Observer) bool {
		if !settled.CompareAndSwap(false, true) {
			return false
		}
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
		cancel()
		t.recorder.Record(key, timing.OutcomeOf(r), t.clock.Since(start))
		to.OnResult(r)
		return true
	}

	guarded := execution.ObserverFunc(func(r execution.Result) {
		if !settle(r, obs) {
			t.logger.Debug("dropping result reported after deadline", "key", key, "result", r)
			execution.Discard(r)
		}
	})

	if tc.Expired(start) {
		settle(execution.Fail(fault.Newf(fault.Timeout, "%s expired before execution", key)), intercept.FinalObserver(obs))
		return
	}

	if d := t.budget(start, tc); d > 0 {
		final := intercept.FinalObserver(obs)
		timerMu.Lock()
		timer = t.clock.AfterFunc(d, func() {
			if settle(execution.Fail(fault.Newf(fault.Timeout, "%s did not complete within %s", key, d)), final) {
				t.logger.Warn("execution timed out", "key", key, "budget", d)
			}
		})
		timerMu.Unlock()
	}

	defer func() {
		if p := recover(); p != nil {
			t.logger.Error("executable panicked", "key", key, "panic", p)
			guarded.OnResult(execution.Fail(fault.FromPanic(p)))
		}
	}()
	t.inner.Execute(runCtx, ec, key, args, guarded, venue, tc)
}

// SPDX-License-Identifier: MPL-2.0

package qos

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/invowk/cougar/internal/clock"
	"github.com/invowk/cougar/pkg/execution"
	"github.com/invowk/cougar/pkg/fault"
	"github.com/invowk/cougar/pkg/interceptor"
	"github.com/invowk/cougar/pkg/operation"
)

// Name is the processor name reported by Limiter.
const Name = "qos"

type (
	// Limiter is an EVERY_OPPORTUNITY pre-processor that rejects requests
	// with RateLimitExceeded when the venue-wide or per-caller budget is spent.
	Limiter struct {
		global    *rate.Limiter
		perCaller *MapLimiter
		clock     clock.Clock
	}

	// Option configures a Limiter.
	Option func(*Limiter)
)

// WithPerCaller adds a per-caller budget keyed by principal, or by location
// for anonymous callers.
func WithPerCaller(rps float64, burst int, idleTTL time.Duration) Option {
	return func(l *Limiter) {
		l.perCaller = NewMapLimiter(rps, burst, idleTTL)
	}
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// NewLimiter returns a limiter allowing rps requests per second with the
// given burst. A non-positive rps disables the venue-wide budget.
func NewLimiter(rps float64, burst int, opts ...Option) *Limiter {
	l := &Limiter{clock: clock.Real{}}
	if rps > 0 {
		l.global = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns "qos".
func (l *Limiter) Name() string { return Name }

// Requirement returns EveryOpportunity.
func (l *Limiter) Requirement() interceptor.Requirement { return interceptor.EveryOpportunity }

// Invoke consumes one token from each applicable budget. A queued request
// pays before queueing; its pre-execute pass is admitted without a token.
func (l *Limiter) Invoke(ctx context.Context, ec *execution.Context, key operation.Key, _ []any) interceptor.Result {
	if phase, ok := interceptor.PhaseOf(ctx); ok && phase == interceptor.PhasePreExecute {
		return interceptor.Continue()
	}
	now := l.clock.Now()
	if l.global != nil && !l.global.AllowN(now, 1) {
		return interceptor.ForceException(fault.Newf(fault.RateLimitExceeded, "venue rate limit exceeded for %s", key))
	}
	if caller := callerOf(ec); !l.perCaller.Allow(caller, now) {
		return interceptor.ForceException(fault.Newf(fault.RateLimitExceeded, "rate limit exceeded for caller %s", caller))
	}
	return interceptor.Continue()
}

func callerOf(ec *execution.Context) string {
	if ec == nil {
		return ""
	}
	if p := ec.Identity.Principal(); p != "" {
		return p
	}
	return ec.Location
}

// SPDX-License-Identifier: MPL-2.0

package logging

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/invowk/cougar/internal/clock"
	"github.com/invowk/cougar/pkg/execution"
	"github.com/invowk/cougar/pkg/operation"
)

type (
	// RequestLogger writes one line per request once its result is known.
	// Faults log at warn level, everything else at info. A failing logger
	// never affects result delivery.
	RequestLogger struct {
		logger *log.Logger
		clock  clock.Clock
	}

	// RequestOption configures a RequestLogger.
	RequestOption func(*RequestLogger)

	requestObserver struct {
		rl    *RequestLogger
		ec    *execution.Context
		key   operation.Key
		start time.Time
		next  execution.Observer
	}
)

// WithRequestClock sets the clock used to measure latency.
func WithRequestClock(c clock.Clock) RequestOption {
	return func(r *RequestLogger) { r.clock = c }
}

// NewRequestLogger returns a RequestLogger writing to logger.
func NewRequestLogger(logger *log.Logger, opts ...RequestOption) *RequestLogger {
	if logger == nil {
		logger = log.Default()
	}
	r := &RequestLogger{logger: logger, clock: clock.Real{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Observe wraps obs so that the request is logged before the result is
// passed on.
func (r *RequestLogger) Observe(_ context.Context, ec *execution.Context, key operation.Key, obs execution.Observer) execution.Observer {
	return &requestObserver{rl: r, ec: ec, key: key, start: r.clock.Now(), next: obs}
}

func (o *requestObserver) OnResult(res execution.Result) {
	o.log(res)
	o.next.OnResult(res)
}

func (o *requestObserver) log(res execution.Result) {
	defer func() { _ = recover() }()

	fields := []any{
		"key", o.key,
		"request_uuid", o.ec.RequestUUID,
		"outcome", res.Kind(),
		"latency", o.rl.clock.Since(o.start),
	}
	if o.ec.Location != "" {
		fields = append(fields, "location", o.ec.Location)
	}
	if p := o.ec.Identity.Principal(); p != "" {
		fields = append(fields, "principal", p)
	}
	if res.IsFault() {
		f := res.Fault()
		fields = append(fields, "fault_code", f.Code(), "fault_kind", f.Kind())
		o.rl.logger.Warn("request", fields...)
		return
	}
	o.rl.logger.Info("request", fields...)
	if o.ec.TraceLoggingEnabled {
		o.rl.logger.Debug("request trace", "key", o.key, "request_uuid", o.ec.RequestUUID, "result", res)
	}
}

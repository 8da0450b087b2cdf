// SPDX-License-Identifier: MPL-2.0

package venue

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/invowk/cougar/internal/clock"
	"github.com/invowk/cougar/internal/identity"
	"github.com/invowk/cougar/internal/ids"
	"github.com/invowk/cougar/internal/subscription"
	"github.com/invowk/cougar/internal/timing"
	"github.com/invowk/cougar/pkg/execution"
	"github.com/invowk/cougar/pkg/interceptor"
	"github.com/invowk/cougar/pkg/operation"
)

// DefaultDrainTimeout bounds Container.Stop when the caller's context has no deadline.
const DefaultDrainTimeout = 30 * time.Second

type (
	// RequestLogger wraps the observer of every request so that the outcome
	// can be logged. It must not call obs more than once.
	RequestLogger interface {
		Observe(ctx context.Context, ec *execution.Context, key operation.Key, obs execution.Observer) execution.Observer
	}

	// options holds the settings shared by Base, ServiceVenue and Container.
	options struct {
		logger        *log.Logger
		clock         clock.Clock
		ids           ids.Generator
		identity      identity.Resolver
		requestLogger RequestLogger
		pre           []interceptor.PreProcessor
		post          []interceptor.PostProcessor
		recorder      timing.Recorder

		timeouts       TimeoutSource
		defaultTimeout time.Duration

		subscriptions *subscription.Registry
		drainTimeout  time.Duration
	}

	// Option configures a venue.
	Option func(*options)

	// RegisterOption configures a single registration.
	RegisterOption func(*registration)

	registration struct {
		pre      []interceptor.PreProcessor
		post     []interceptor.PostProcessor
		recorder timing.Recorder
	}
)

func defaultOptions() options {
	return options{
		logger:       log.Default(),
		clock:        clock.Real{},
		ids:          ids.UUID{},
		drainTimeout: DefaultDrainTimeout,
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the venue logger.
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock sets the time source used for request times and the deadline watchdog.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithIDGenerator sets the request id source.
func WithIDGenerator(g ids.Generator) Option {
	return func(o *options) { o.ids = g }
}

// WithIdentityResolver resolves caller identity before any pre-processor runs.
func WithIdentityResolver(r identity.Resolver) Option {
	return func(o *options) { o.identity = r }
}

// WithRequestLogger sets the per-request logging hook.
func WithRequestLogger(l RequestLogger) Option {
	return func(o *options) { o.requestLogger = l }
}

// WithPreProcessors appends venue-wide pre-processors. They run before any
// service-level pre-processor.
func WithPreProcessors(p ...interceptor.PreProcessor) Option {
	return func(o *options) { o.pre = append(o.pre, p...) }
}

// WithPostProcessors appends venue-wide post-processors. They run before any
// service-level post-processor.
func WithPostProcessors(p ...interceptor.PostProcessor) Option {
	return func(o *options) { o.post = append(o.post, p...) }
}

// WithRecorder adds a recorder that observes every operation, in addition
// to each operation's own statistics.
func WithRecorder(r timing.Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithTimeouts sets the per-operation timeout source used by RegisterService.
func WithTimeouts(src TimeoutSource) Option {
	return func(o *options) { o.timeouts = src }
}

// WithDefaultTimeout sets the timeout for operations without a configured one.
// Zero disables the watchdog.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *options) { o.defaultTimeout = d }
}

// WithSubscriptions sets the subscription registry closed by Container.Stop.
func WithSubscriptions(r *subscription.Registry) Option {
	return func(o *options) { o.subscriptions = r }
}

// WithDrainTimeout bounds how long Container.Stop waits for in-flight requests.
func WithDrainTimeout(d time.Duration) Option {
	return func(o *options) { o.drainTimeout = d }
}

// WithServicePreProcessors adds pre-processors for this registration only.
func WithServicePreProcessors(p ...interceptor.PreProcessor) RegisterOption {
	return func(r *registration) { r.pre = append(r.pre, p...) }
}

// WithServicePostProcessors adds post-processors for this registration only.
func WithServicePostProcessors(p ...interceptor.PostProcessor) RegisterOption {
	return func(r *registration) { r.post = append(r.post, p...) }
}

// WithOperationRecorder adds a recorder for this registration only.
func WithOperationRecorder(rec timing.Recorder) RegisterOption {
	return func(r *registration) { r.recorder = rec }
}

// SPDX-License-Identifier: MPL-2.0

package venue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/invowk/cougar/internal/core/serverbase"
	"github.com/invowk/cougar/pkg/execution"
	"github.com/invowk/cougar/pkg/fault"
	"github.com/invowk/cougar/pkg/operation"
)

type (
	// Container ties a ServiceVenue to a start/stop lifecycle. Requests are
	// refused with ServiceDisabled unless the container is running.
	Container struct {
		*serverbase.Lifecycle

		venue *ServiceVenue

		mu       sync.Mutex
		deployed []deployment
	}

	deployment struct {
		namespace string
		service   operation.Service
		resolver  execution.ExecutableResolver
		opts      []RegisterOption
	}
)

// NewContainer returns a container in the created state.
func NewContainer(opts ...Option) *Container {
	o := buildOptions(opts)
	c := &Container{
		Lifecycle: serverbase.New("venue", serverbase.WithLogger(o.logger)),
		venue:     newServiceVenue(o),
	}
	c.venue.self = c
	return c
}

// Venue returns the underlying service venue.
func (c *Container) Venue() *ServiceVenue { return c.venue }

// Deploy registers a service. Before Start the registration is deferred
// and validated when the container starts; afterwards it happens at once.
func (c *Container) Deploy(namespace string, svc operation.Service, resolver execution.ExecutableResolver, opts ...RegisterOption) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.State() {
	case serverbase.StateCreated:
		c.deployed = append(c.deployed, deployment{namespace: namespace, service: svc, resolver: resolver, opts: opts})
		return nil
	case serverbase.StateRunning:
		return c.venue.RegisterService(namespace, svc, resolver, opts...)
	default:
		return fmt.Errorf("cannot deploy %s while %s", svc, c.State())
	}
}

// Start registers deferred services and begins accepting requests. If any
// registration fails the container moves to the failed state.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.BeginStart(ctx); err != nil {
		return err
	}

	var errs []error
	for _, d := range c.deployed {
		if err := c.venue.RegisterService(d.namespace, d.service, d.resolver, d.opts...); err != nil {
			errs = append(errs, fmt.Errorf("deploying %s: %w", d.service, err))
		}
	}
	c.deployed = nil
	if err := errors.Join(errs...); err != nil {
		c.Fail(err)
		return err
	}

	c.MarkRunning()
	c.venue.opts.logger.Info("venue started", "operations", len(c.venue.Operations()))
	return nil
}

// Stop refuses new requests, waits for in-flight requests to finish, and
// closes every live subscription. The wait is bounded by ctx and by the
// configured drain timeout.
func (c *Container) Stop(ctx context.Context) error {
	if !c.BeginDrain() {
		return nil
	}

	drainCtx, cancel := context.WithTimeout(ctx, c.venue.opts.drainTimeout)
	defer cancel()

	err := c.venue.Drain(drainCtx)
	if err != nil {
		c.venue.opts.logger.Warn("stopping with requests in flight", "err", err)
	}
	if subs := c.venue.opts.subscriptions; subs != nil {
		if n := subs.CloseAll(execution.CloseRequestedByPublisherAdministrator); n > 0 {
			c.venue.opts.logger.Info("closed subscriptions", "count", n)
		}
	}
	c.MarkStopped()
	return err
}

// Execute runs key if the container is running.
func (c *Container) Execute(ctx context.Context, ec *execution.Context, key operation.Key, args []any, obs execution.Observer, tc execution.TimeConstraints) {
	if c.admit(key, obs) {
		c.venue.dispatchAdmitted(ctx, ec, key, args, obs, nil, tc)
	}
}

// ExecuteWith runs key on ex if the container is running.
func (c *Container) ExecuteWith(ctx context.Context, ec *execution.Context, key operation.Key, args []any, obs execution.Observer, ex execution.Executor, tc execution.TimeConstraints) {
	if c.admit(key, obs) {
		c.venue.dispatchAdmitted(ctx, ec, key, args, obs, ex, tc)
	}
}

// admit takes an in-flight slot before checking the state, so Stop either
// waits for the request or the request sees the drain and is refused.
func (c *Container) admit(key operation.Key, obs execution.Observer) bool {
	c.venue.flight.add()
	if c.IsRunning() {
		return true
	}
	c.venue.flight.done()
	c.refuse(key, obs)
	return false
}

func (c *Container) refuse(key operation.Key, obs execution.Observer) {
	obs.OnResult(execution.Fail(fault.Newf(fault.ServiceDisabled, "venue is %s; %s not executed", c.State(), key)))
}

// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/invowk/cougar/internal/config"
	"github.com/invowk/cougar/internal/executor"
	"github.com/invowk/cougar/internal/identity"
	"github.com/invowk/cougar/internal/logging"
	"github.com/invowk/cougar/internal/qos"
	"github.com/invowk/cougar/internal/services/health"
	"github.com/invowk/cougar/internal/subscription"
	"github.com/invowk/cougar/internal/timing"
	"github.com/invowk/cougar/internal/venue"
	"github.com/invowk/cougar/pkg/operation"
)

const (
	queueWarnRatio = 0.8
	callerIdleTTL  = 10 * time.Minute
)

// principalTokens are the identity tokens the transports fill with a
// caller principal.
var principalTokens = identity.PrincipalTokens{"User", "SSH-Principal"}

// venueRuntime is a configured container with its collaborators.
type venueRuntime struct {
	cfg       *config.Config
	logger    *log.Logger
	container *venue.Container
	subs      *subscription.Registry
	health    *health.Service
	pool      *executor.Pool
	identity  *identity.Cached
	metrics   *prometheus.Registry

	releaseOnce sync.Once
	releaseErr  error
}

func newVenueRuntime(cfg *config.Config, logger *log.Logger) (*venueRuntime, error) {
	rt := &venueRuntime{
		cfg:    cfg,
		logger: logger,
		subs:   subscription.NewRegistry(subscription.WithLogger(logging.Component(logger, "subscriptions"))),
	}

	var rec timing.Recorder = timing.Nop{}
	if cfg.Metrics.Enabled {
		rt.metrics = prometheus.NewRegistry()
		rt.metrics.MustRegister(collectors.NewGoCollector())
		prom, err := timing.NewPrometheus(rt.metrics, config.AppName)
		if err != nil {
			return nil, err
		}
		rec = prom
	}

	rt.identity = identity.NewCached(principalTokens, cfg.IdentityCacheTTL(), cfg.Identity.CacheCapacity)
	opts := []venue.Option{
		venue.WithLogger(logging.Component(logger, "venue")),
		venue.WithIdentityResolver(rt.identity),
		venue.WithRequestLogger(logging.NewRequestLogger(logging.Component(logger, "request"))),
		venue.WithRecorder(rec),
		venue.WithTimeouts(cfg.TimeoutMap()),
		venue.WithDefaultTimeout(cfg.DefaultMaxExecutionTime()),
		venue.WithSubscriptions(rt.subs),
		venue.WithDrainTimeout(cfg.DrainTimeout()),
	}
	if cfg.QoS.Enabled {
		var qopts []qos.Option
		if cfg.QoS.PerCaller {
			qopts = append(qopts, qos.WithPerCaller(cfg.QoS.RPS, cfg.QoS.Burst, callerIdleTTL))
		}
		opts = append(opts, venue.WithPreProcessors(qos.NewLimiter(cfg.QoS.RPS, cfg.QoS.Burst, qopts...)))
	}
	rt.container = venue.NewContainer(opts...)
	rt.pool = executor.New(cfg.Executor.Workers, cfg.Executor.QueueSize, executor.WithLogger(logging.Component(logger, "executor")))

	rt.health = health.New(rt.subs, []health.Checker{
		health.LifecycleCheck(rt.container),
		health.QueueCheck("executor", rt.pool, queueWarnRatio),
	}, health.WithLogger(logging.Component(logger, "health")))

	svc := health.Definition()
	if err := rt.container.Deploy(operation.DefaultNamespace, svc, rt.health.Resolver()); err != nil {
		_ = rt.release(context.Background())
		return nil, actionable(err, "deploy service", svc.String())
	}
	return rt, nil
}

// start starts the container, validating every deployment.
func (rt *venueRuntime) start(ctx context.Context) error {
	if err := rt.container.Start(ctx); err != nil {
		_ = rt.release(ctx)
		return actionable(err, "start venue", "")
	}
	return nil
}

// stop drains the container, then releases the worker pool and caches.
func (rt *venueRuntime) stop(ctx context.Context) error {
	err := rt.container.Stop(ctx)
	return errors.Join(err, rt.release(ctx))
}

// release stops the identity cache and the worker pool once.
func (rt *venueRuntime) release(ctx context.Context) error {
	rt.releaseOnce.Do(func() {
		rt.identity.Stop()
		rt.releaseErr = rt.pool.Stop(ctx)
	})
	return rt.releaseErr
}

// drainContext bounds shutdown by the configured drain timeout, detached
// from the cancellation that triggered it.
func (rt *venueRuntime) drainContext(ctx context.Context) (context.Context, context.CancelFunc) {
	d := rt.cfg.DrainTimeout()
	if d <= 0 {
		d = venue.DefaultDrainTimeout
	}
	return context.WithTimeout(context.WithoutCancel(ctx), d)
}

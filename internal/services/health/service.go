// SPDX-License-Identifier: MPL-2.0

package health

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/invowk/cougar/internal/clock"
	"github.com/invowk/cougar/internal/resolver"
	"github.com/invowk/cougar/internal/subscription"
	"github.com/invowk/cougar/pkg/execution"
	"github.com/invowk/cougar/pkg/operation"
)

// ServiceName and the operation names of the health service.
const (
	ServiceName        = "HealthService"
	OpIsHealthy        = "isHealthy"
	OpDetailedStatus   = "getDetailedHealthStatus"
	OpSubscribeHealth  = "subscribeHealth"
	SubscriptionURI    = "health"
	DefaultPollingTime = 10 * time.Second
)

// Version is the health service version.
var Version = operation.NewVersion(3, 0)

type (
	// Service evaluates registered checkers and pushes status changes to
	// subscribers of SubscriptionURI.
	Service struct {
		subs   *subscription.Registry
		clock  clock.Clock
		logger *log.Logger

		mu       sync.Mutex
		checkers []Checker
		last     Status
	}

	// Option configures a Service.
	Option func(*Service)
)

// WithClock sets the clock stamped on detailed reports.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New returns a health service publishing through subs.
func New(subs *subscription.Registry, checkers []Checker, opts ...Option) *Service {
	s := &Service{
		subs:     subs,
		clock:    clock.Real{},
		logger:   log.Default(),
		checkers: append([]Checker(nil), checkers...),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Definition returns the service definition.
func Definition() operation.Service {
	return operation.Service{
		Name:    ServiceName,
		Version: Version,
		Operations: []operation.Definition{
			{Key: operation.NewKey(Version, ServiceName, OpIsHealthy), ReturnType: "HealthSummary"},
			{Key: operation.NewKey(Version, ServiceName, OpDetailedStatus), ReturnType: "HealthDetail"},
			{Key: operation.NewEventKey(Version, ServiceName, OpSubscribeHealth), ReturnType: "Subscription"},
		},
	}
}

// Resolver binds the health operations to s.
func (s *Service) Resolver() *resolver.Static {
	return resolver.NewStatic(Definition()).
		Handle(OpIsHealthy, func(ctx context.Context, _ *execution.Context, _ []any) (any, error) {
			return s.Summary(ctx), nil
		}).
		Handle(OpDetailedStatus, func(ctx context.Context, _ *execution.Context, _ []any) (any, error) {
			return s.Detail(ctx), nil
		}).
		Handle(OpSubscribeHealth, func(ctx context.Context, _ *execution.Context, _ []any) (any, error) {
			return s.Subscribe(ctx), nil
		})
}

// AddChecker registers c.
func (s *Service) AddChecker(c Checker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers = append(s.checkers, c)
}

// Detail runs every checker. A checker that panics is reported as FAIL.
func (s *Service) Detail(ctx context.Context) Detail {
	s.mu.Lock()
	checkers := append([]Checker(nil), s.checkers...)
	s.mu.Unlock()

	d := Detail{Status: StatusOK, CheckedAt: s.clock.Now(), Components: make([]ComponentStatus, 0, len(checkers))}
	for _, c := range checkers {
		cs := s.check(ctx, c)
		d.Components = append(d.Components, cs)
		d.Status = Worst(d.Status, cs.Status)
	}
	return d
}

// Summary reports the aggregate status.
func (s *Service) Summary(ctx context.Context) Summary {
	return Summary{Status: s.Detail(ctx).Status}
}

// Subscribe opens a health subscription and sends it the current detail.
func (s *Service) Subscribe(ctx context.Context) *execution.Subscription {
	sub := s.subs.Subscribe(SubscriptionURI)
	if err := sub.Publish(s.Detail(ctx)); err != nil {
		s.logger.Debug("initial health publish failed", "subscription", sub.ID(), "err", err)
	}
	return sub
}

// Refresh re-evaluates health and publishes the detail to subscribers when
// the aggregate status changed since the previous refresh. It reports
// whether a change was published.
func (s *Service) Refresh(ctx context.Context) bool {
	d := s.Detail(ctx)

	s.mu.Lock()
	changed := d.Status != s.last
	s.last = d.Status
	s.mu.Unlock()

	if !changed {
		return false
	}
	n, err := s.subs.Publish(SubscriptionURI, d)
	if err != nil {
		s.logger.Warn("health publish incomplete", "delivered", n, "err", err)
	}
	s.logger.Info("health changed", "status", d.Status, "subscribers", n)
	return true
}

// Watch calls Refresh every interval until ctx is done.
func (s *Service) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollingTime
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.Refresh(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Service) check(ctx context.Context, c Checker) (cs ComponentStatus) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("health check panicked", "check", c.Name(), "panic", p)
			cs = ComponentStatus{Name: c.Name(), Status: StatusFail, Message: "check panicked"}
		}
	}()
	cs = c.Check(ctx)
	if cs.Name == "" {
		cs.Name = c.Name()
	}
	if err := cs.Status.Validate(); err != nil {
		cs.Status, cs.Message = StatusFail, err.Error()
	}
	return cs
}

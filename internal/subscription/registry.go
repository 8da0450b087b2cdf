// SPDX-License-Identifier: MPL-2.0

// Package subscription tracks live subscriptions per resource URI.
//
// Each URI has its own lock, so subscribe, unsubscribe and publisher-side
// close on one resource never contend with another resource.
package subscription

import (
	"errors"
	"slices"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/invowk/cougar/internal/ids"
	"github.com/invowk/cougar/pkg/execution"
)

type (
	// Registry counts and fans out to live subscriptions.
	Registry struct {
		ids    ids.Generator
		logger *log.Logger
		buffer int

		mu    sync.RWMutex
		lists map[string]*uriList
	}

	uriList struct {
		mu   sync.Mutex
		subs map[string]*execution.Subscription
	}

	// Option configures a Registry.
	Option func(*Registry)
)

// WithIDGenerator sets the subscription id source.
func WithIDGenerator(g ids.Generator) Option {
	return func(r *Registry) { r.ids = g }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithBuffer sets the per-subscription message buffer.
func WithBuffer(n int) Option {
	return func(r *Registry) { r.buffer = n }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		ids:    ids.UUID{},
		logger: log.Default(),
		buffer: execution.DefaultSubscriptionBuffer,
		lists:  make(map[string]*uriList),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) list(uri string, create bool) *uriList {
	r.mu.RLock()
	l := r.lists[uri]
	r.mu.RUnlock()
	if l != nil || !create {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l = r.lists[uri]; l == nil {
		l = &uriList{subs: make(map[string]*execution.Subscription)}
		r.lists[uri] = l
	}
	return l
}

// Subscribe opens a subscription on uri. It leaves the registry when closed.
func (r *Registry) Subscribe(uri string) *execution.Subscription {
	l := r.list(uri, true)
	sub := execution.NewSubscription(r.ids.NewID(), r.buffer)

	l.mu.Lock()
	l.subs[sub.ID()] = sub
	l.mu.Unlock()

	sub.OnClose(func(s *execution.Subscription, reason execution.CloseReason) {
		l.mu.Lock()
		delete(l.subs, s.ID())
		l.mu.Unlock()
		r.logger.Debug("subscription closed", "uri", uri, "id", s.ID(), "reason", reason)
	})
	return sub
}

// Count returns the number of live subscriptions on uri.
func (r *Registry) Count(uri string) int {
	l := r.list(uri, false)
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

// Total returns the number of live subscriptions on every URI.
func (r *Registry) Total() int {
	n := 0
	for _, uri := range r.URIs() {
		n += r.Count(uri)
	}
	return n
}

// URIs returns every URI that has ever had a subscription, sorted.
func (r *Registry) URIs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.lists))
	for uri := range r.lists {
		out = append(out, uri)
	}
	slices.Sort(out)
	return out
}

func (r *Registry) snapshot(uri string) []*execution.Subscription {
	l := r.list(uri, false)
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*execution.Subscription, 0, len(l.subs))
	for _, s := range l.subs {
		out = append(out, s)
	}
	return out
}

// Publish sends msg to every live subscription on uri and returns how many
// accepted it. Subscribers whose buffer is full are skipped and reported
// in the joined error.
func (r *Registry) Publish(uri string, msg any) (int, error) {
	var errs []error
	delivered := 0
	for _, s := range r.snapshot(uri) {
		err := s.Publish(msg)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, execution.ErrSubscriptionClosed):
			// closed between snapshot and publish
		default:
			errs = append(errs, err)
		}
	}
	return delivered, errors.Join(errs...)
}

// Close closes every subscription on uri with reason and returns the count.
func (r *Registry) Close(uri string, reason execution.CloseReason) int {
	n := 0
	for _, s := range r.snapshot(uri) {
		if s.CloseWith(reason) {
			n++
		}
	}
	return n
}

// CloseAll closes every live subscription with reason.
func (r *Registry) CloseAll(reason execution.CloseReason) int {
	n := 0
	for _, uri := range r.URIs() {
		n += r.Close(uri, reason)
	}
	return n
}

// SPDX-License-Identifier: MPL-2.0

package execution

import (
	"errors"
	"sync"
)

const (
	// CloseRequestedBySubscriber means the client ended the stream.
	CloseRequestedBySubscriber CloseReason = "REQUESTED_BY_SUBSCRIBER"
	// CloseRequestedByPublisher means the service ended the stream.
	CloseRequestedByPublisher CloseReason = "REQUESTED_BY_PUBLISHER"
	// CloseRequestedByPublisherAdministrator means an operator or shutdown ended the stream.
	CloseRequestedByPublisherAdministrator CloseReason = "REQUESTED_BY_PUBLISHER_ADMINISTRATOR"
	// CloseInternalError means the stream failed.
	CloseInternalError CloseReason = "INTERNAL_ERROR"
	// CloseConnectionClosed means the transport carrying the stream went away.
	CloseConnectionClosed CloseReason = "CONNECTION_CLOSED"

	// DefaultSubscriptionBuffer is the message buffer used when none is given.
	DefaultSubscriptionBuffer = 64
)

var (
	// ErrSubscriptionClosed is returned when publishing to a closed subscription.
	ErrSubscriptionClosed = errors.New("subscription closed")
	// ErrSubscriptionFull is returned when the subscriber is not draining messages.
	ErrSubscriptionFull = errors.New("subscription buffer full")
)

type (
	// CloseReason records why a subscription closed.
	CloseReason string

	// Subscription is an open push stream. The producer publishes messages;
	// the consumer reads Messages until Done is closed. A subscription
	// closes once; later Close calls are no-ops.
	Subscription struct {
		id string

		mu        sync.Mutex
		closed    bool
		reason    CloseReason
		listeners []func(*Subscription, CloseReason)
		done      chan struct{}
		messages  chan any
	}
)

// NewSubscription returns an open subscription with the given id and
// message buffer size (DefaultSubscriptionBuffer when size <= 0).
func NewSubscription(id string, size int) *Subscription {
	if size <= 0 {
		size = DefaultSubscriptionBuffer
	}
	return &Subscription{
		id:       id,
		done:     make(chan struct{}),
		messages: make(chan any, size),
	}
}

// ID returns the subscription id.
func (s *Subscription) ID() string { return s.id }

// Messages returns the stream of published messages. It is closed when the
// subscription closes.
func (s *Subscription) Messages() <-chan any { return s.messages }

// Done is closed when the subscription closes.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Publish enqueues msg without blocking.
func (s *Subscription) Publish(msg any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSubscriptionClosed
	}
	select {
	case s.messages <- msg:
		return nil
	default:
		return ErrSubscriptionFull
	}
}

// Close closes the subscription on behalf of the subscriber.
func (s *Subscription) Close() bool {
	return s.CloseWith(CloseRequestedBySubscriber)
}

// CloseWith closes the subscription with reason. It returns false if the
// subscription was already closed. Listeners run on the calling goroutine
// after the lock is released.
func (s *Subscription) CloseWith(reason CloseReason) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	s.reason = reason
	listeners := s.listeners
	s.listeners = nil
	close(s.done)
	close(s.messages)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(s, reason)
	}
	return true
}

// OnClose registers fn to run when the subscription closes. If it is
// already closed, fn runs immediately.
func (s *Subscription) OnClose(fn func(*Subscription, CloseReason)) {
	s.mu.Lock()
	if !s.closed {
		s.listeners = append(s.listeners, fn)
		s.mu.Unlock()
		return
	}
	reason := s.reason
	s.mu.Unlock()
	fn(s, reason)
}

// Closed reports whether the subscription is closed and why.
func (s *Subscription) Closed() (bool, CloseReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed, s.reason
}

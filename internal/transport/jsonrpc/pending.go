// SPDX-License-Identifier: MPL-2.0

package jsonrpc

import (
	"sync"

	"github.com/invowk/cougar/pkg/execution"
)

// Pending is the observer of a request a transport waits on. Once the
// caller is gone it is abandoned: a result arriving afterwards is
// discarded on the delivering goroutine, closing any subscription it opens.
type Pending struct {
	mu        sync.Mutex
	done      chan execution.Result
	abandoned bool
}

// NewPending returns a Pending waiting for its result.
func NewPending() *Pending {
	return &Pending{done: make(chan execution.Result, 1)}
}

// OnResult implements execution.Observer.
func (p *Pending) OnResult(r execution.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.abandoned {
		closeLate(r)
		return
	}
	select {
	case p.done <- r:
	default:
	}
}

// Done delivers the result.
func (p *Pending) Done() <-chan execution.Result { return p.done }

// Abandon discards the result, now or when it arrives.
func (p *Pending) Abandon() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.abandoned = true
	select {
	case r := <-p.done:
		closeLate(r)
	default:
	}
}

func closeLate(r execution.Result) {
	if r.IsSubscription() {
		r.Subscription().CloseWith(execution.CloseConnectionClosed)
	}
}

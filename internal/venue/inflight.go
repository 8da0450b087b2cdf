// SPDX-License-Identifier: MPL-2.0

package venue

import (
	"context"
	"fmt"
	"sync"
)

// inflight counts requests whose result has not been delivered yet.
// Unlike sync.WaitGroup it tolerates Add racing with Wait.
type inflight struct {
	mu    sync.Mutex
	count int
	idle  chan struct{}
}

func newInflight() *inflight {
	idle := make(chan struct{})
	close(idle)
	return &inflight{idle: idle}
}

func (f *inflight) add() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.count == 0 {
		f.idle = make(chan struct{})
	}
	f.count++
}

func (f *inflight) done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count--
	if f.count == 0 {
		close(f.idle)
	}
}

func (f *inflight) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

// wait blocks until no request is in flight or ctx is done.
func (f *inflight) wait(ctx context.Context) error {
	for {
		f.mu.Lock()
		idle, count := f.idle, f.count
		f.mu.Unlock()
		if count == 0 {
			return nil
		}
		select {
		case <-idle:
		case <-ctx.Done():
			return fmt.Errorf("%d requests still in flight: %w", count, ctx.Err())
		}
	}
}

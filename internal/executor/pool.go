// SPDX-License-Identifier: MPL-2.0

// Package executor provides a bounded worker pool that the venue uses to
// separate queueing from execution.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/sourcegraph/conc/pool"
)

const (
	// DefaultWorkers is the worker count used when none is given.
	DefaultWorkers = 16
	// DefaultQueueSize is the queue capacity used when none is given.
	DefaultQueueSize = 256
)

var (
	// ErrQueueFull is returned when the queue has no free slot.
	ErrQueueFull = errors.New("executor queue full")
	// ErrPoolClosed is returned once Stop has been called.
	ErrPoolClosed = errors.New("executor closed")
)

type (
	// Pool runs tasks on a fixed number of workers fed from a bounded queue.
	// Execute never blocks: it either queues the task or rejects it.
	Pool struct {
		workers int
		logger  *log.Logger

		mu     sync.RWMutex
		closed bool
		queue  chan func()
		done   chan struct{}
	}

	// Option configures a Pool.
	Option func(*Pool)
)

// WithLogger sets the logger used for recovered task panics.
func WithLogger(l *log.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// New starts a pool with the given worker count and queue size. Non-positive
// values use the defaults.
func New(workers, queueSize int, opts ...Option) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	p := &Pool{
		workers: workers,
		logger:  log.Default(),
		queue:   make(chan func(), queueSize),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	go p.dispatch()
	return p
}

// Execute queues task.
func (p *Pool) Execute(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- task:
		return nil
	default:
		return fmt.Errorf("%w (capacity %d)", ErrQueueFull, cap(p.queue))
	}
}

// Queued returns the number of tasks waiting for a worker.
func (p *Pool) Queued() int { return len(p.queue) }

// Capacity returns the queue size.
func (p *Pool) Capacity() int { return cap(p.queue) }

// Stop rejects new tasks and waits for queued and running tasks to finish
// or for ctx to be done.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for executor to drain: %w", ctx.Err())
	}
}

func (p *Pool) dispatch() {
	defer close(p.done)

	workers := pool.New().WithMaxGoroutines(p.workers)
	for task := range p.queue {
		workers.Go(func() { p.run(task) })
	}
	workers.Wait()
}

func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("executor task panicked", "panic", r)
		}
	}()
	task()
}

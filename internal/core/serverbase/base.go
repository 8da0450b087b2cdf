// SPDX-License-Identifier: MPL-2.0

package serverbase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

// Lifecycle tracks the state of one long-running component. Components
// embed it and call the transition helpers from Start and Stop.
//
// A Lifecycle is single-use: once stopped or failed, create a new component.
type Lifecycle struct {
	name   string
	logger *log.Logger

	state   atomic.Int32
	stateMu sync.Mutex
	lastErr error

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedCh chan struct{}
	errCh     chan error
}

// New returns a Lifecycle in StateCreated. name labels log lines and errors.
func New(name string, opts ...Option) *Lifecycle {
	l := &Lifecycle{
		name:      name,
		logger:    log.Default(),
		startedCh: make(chan struct{}),
		errCh:     make(chan error, 1),
	}
	l.state.Store(int32(StateCreated))
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the component name.
func (l *Lifecycle) Name() string { return l.name }

// State returns the current state (atomic, lock-free read).
func (l *Lifecycle) State() State {
	return State(l.state.Load())
}

// IsRunning reports whether the component accepts work.
func (l *Lifecycle) IsRunning() bool {
	return l.State().Accepting()
}

// Err returns a channel of asynchronous errors.
func (l *Lifecycle) Err() <-chan error {
	return l.errCh
}

// LastError returns the error that caused StateFailed, or nil.
func (l *Lifecycle) LastError() error {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	return l.lastErr
}

// BeginStart moves Created to Starting. It fails if ctx is already done
// or the component was started before.
func (l *Lifecycle) BeginStart(ctx context.Context) error {
	// A cancelled ctx must fail the component before any setup runs.
	select {
	case <-ctx.Done():
		l.Fail(fmt.Errorf("%s: context cancelled before start: %w", l.name, ctx.Err()))
		return l.LastError()
	default:
	}

	if !l.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return &TransitionError{Component: l.name, From: l.State(), To: StateStarting}
	}
	l.ctx, l.cancel = context.WithCancel(context.WithoutCancel(ctx))
	l.logger.Debug("starting", "component", l.name)
	return nil
}

// MarkRunning moves Starting to Running and releases WaitForReady callers.
func (l *Lifecycle) MarkRunning() {
	if l.state.CompareAndSwap(int32(StateStarting), int32(StateRunning)) {
		close(l.startedCh)
		l.logger.Debug("running", "component", l.name)
	}
}

// Fail records err and moves to StateFailed.
func (l *Lifecycle) Fail(err error) {
	l.stateMu.Lock()
	l.lastErr = err
	l.stateMu.Unlock()

	l.state.Store(int32(StateFailed))
	if l.cancel != nil {
		l.cancel()
	}
	l.logger.Error("failed", "component", l.name, "err", err)
	l.SendError(err)
}

// BeginDrain moves Starting or Running to Draining and cancels the
// lifecycle context. It returns false when there is nothing to drain:
// the component never started, or is already draining or stopped.
func (l *Lifecycle) BeginDrain() bool {
	for {
		current := l.State()
		switch current {
		case StateCreated:
			if l.state.CompareAndSwap(int32(StateCreated), int32(StateStopped)) {
				return false
			}
		case StateStarting, StateRunning:
			if !l.state.CompareAndSwap(int32(current), int32(StateDraining)) {
				continue
			}
			if l.cancel != nil {
				l.cancel()
			}
			l.logger.Debug("draining", "component", l.name)
			return true
		default:
			return false
		}
	}
}

// MarkStopped moves to the terminal StateStopped. Call it after tracked
// goroutines have exited.
func (l *Lifecycle) MarkStopped() {
	l.state.Store(int32(StateStopped))
	l.logger.Debug("stopped", "component", l.name)
}

// WaitForReady blocks until the component is running or ctx is done.
func (l *Lifecycle) WaitForReady(ctx context.Context) error {
	select {
	case <-l.startedCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s to be ready: %w", l.name, ctx.Err())
	}
}

// Context returns the lifecycle context, cancelled when draining begins.
// It is nil before BeginStart.
func (l *Lifecycle) Context() context.Context {
	return l.ctx
}

// Go runs fn on a tracked goroutine.
func (l *Lifecycle) Go(fn func()) {
	l.wg.Go(fn)
}

// Wait blocks until every goroutine started with Go has returned, or ctx is done.
func (l *Lifecycle) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s goroutines: %w", l.name, ctx.Err())
	}
}

// SendError publishes err on the error channel without blocking.
// If the channel is full, the error is dropped.
func (l *Lifecycle) SendError(err error) {
	select {
	case l.errCh <- err:
	default:
	}
}

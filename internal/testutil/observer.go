// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/invowk/cougar/pkg/execution"
	"github.com/invowk/cougar/pkg/operation"
)

// DefaultWait bounds how long Recorder.Wait blocks.
const DefaultWait = 5 * time.Second

// Recorder is an execution.Observer that records every result it receives.
type Recorder struct {
	mu      sync.Mutex
	results []execution.Result
	first   chan struct{}
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{first: make(chan struct{})}
}

// OnResult records r.
func (r *Recorder) OnResult(res execution.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	if len(r.results) == 1 {
		close(r.first)
	}
}

// Count returns the number of results received so far.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

// Results returns a copy of the results received so far.
func (r *Recorder) Results() []execution.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]execution.Result(nil), r.results...)
}

// Done is closed when the first result arrives.
func (r *Recorder) Done() <-chan struct{} { return r.first }

// Wait blocks until the first result arrives and returns it, failing the
// test after DefaultWait.
func (r *Recorder) Wait(t testing.TB) execution.Result {
	t.Helper()
	select {
	case <-r.first:
	case <-time.After(DefaultWait):
		t.Fatalf("no result delivered within %s", DefaultWait)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.results[0]
}

// Only asserts that exactly one result was delivered and returns it.
// Use it once the execution is known to have finished.
func (r *Recorder) Only(t testing.TB) execution.Result {
	t.Helper()
	res := r.Wait(t)
	if n := r.Count(); n != 1 {
		t.Fatalf("observer called %d times, want exactly 1", n)
	}
	return res
}

// Returning is an Executable that reports Success(v).
func Returning(v any) execution.Executable {
	return execution.ExecutableFunc(func(_ context.Context, _ *execution.Context, _ operation.Key, _ []any, obs execution.Observer, _ execution.Venue, _ execution.TimeConstraints) {
		obs.OnResult(execution.Success(v))
	})
}

// Hanging is an Executable that never reports until release is closed, then
// reports Success(v). started is closed when it begins.
func Hanging(started chan<- struct{}, release <-chan struct{}, v any) execution.Executable {
	return execution.ExecutableFunc(func(_ context.Context, _ *execution.Context, _ operation.Key, _ []any, obs execution.Observer, _ execution.Venue, _ execution.TimeConstraints) {
		if started != nil {
			close(started)
		}
		go func() {
			<-release
			obs.OnResult(execution.Success(v))
		}()
	})
}

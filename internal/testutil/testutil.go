// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"context"
	"io"
	"testing"
	"time"
)

// Stopper is implemented by components with a context-aware Stop method,
// such as the container venue and the transports.
type Stopper interface {
	Stop(ctx context.Context) error
}

// MustClose closes c and fails the test if it returns an error.
func MustClose(t testing.TB, c io.Closer) {
	t.Helper()
	if err := c.Close(); err != nil {
		t.Errorf("failed to close: %v", err)
	}
}

// MustStop stops s with a five second deadline and fails the test on error.
func MustStop(t testing.TB, s Stopper) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Errorf("failed to stop: %v", err)
	}
}

// DeferStop registers MustStop as a test cleanup.
func DeferStop(t testing.TB, s Stopper) {
	t.Helper()
	t.Cleanup(func() { MustStop(t, s) })
}

// SPDX-License-Identifier: MPL-2.0

package logging

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/invowk/cougar/internal/clock"
	"github.com/invowk/cougar/internal/testutil"
	"github.com/invowk/cougar/pkg/execution"
	"github.com/invowk/cougar/pkg/fault"
	"github.com/invowk/cougar/pkg/operation"
)

var testKey = operation.NewKey(operation.NewVersion(1, 0), "Svc", "op")

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level   string
		want    log.Level
		wantErr bool
	}{
		{"", log.InfoLevel, false},
		{"debug", log.DebugLevel, false},
		{"WARN", log.WarnLevel, false},
		{"error", log.ErrorLevel, false},
		{"loud", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			t.Parallel()

			l, err := New(&bytes.Buffer{}, "test", tt.level)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if l.GetLevel() != tt.want {
				t.Errorf("level = %v, want %v", l.GetLevel(), tt.want)
			}
		})
	}
}

func TestRequestLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := log.NewWithOptions(&buf, log.Options{Level: log.DebugLevel})
	fc := clock.NewFake(time.Time{})
	rl := NewRequestLogger(l, WithRequestClock(fc))

	rec := testutil.NewRecorder()
	ec := &execution.Context{RequestUUID: "req-7", Location: "10.0.0.1"}
	obs := rl.Observe(context.Background(), ec, testKey, rec)
	fc.Advance(42 * time.Millisecond)
	obs.OnResult(execution.Fail(fault.New(fault.OperationForbidden, "no")))

	if rec.Only(t).Fault().Code() != fault.OperationForbidden {
		t.Fatal("result not passed through")
	}
	out := buf.String()
	for _, want := range []string{"WARN", "request", "Svc/v1.0/op", "req-7", "10.0.0.1", "OperationForbidden", "42ms"} {
		if !strings.Contains(out, want) {
			t.Errorf("log line %q missing %q", out, want)
		}
	}
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { panic(errors.New("disk on fire")) }

func TestRequestLoggerFailureIsIsolated(t *testing.T) {
	t.Parallel()

	rl := NewRequestLogger(log.New(brokenWriter{}))
	rec := testutil.NewRecorder()
	rl.Observe(context.Background(), &execution.Context{TraceLoggingEnabled: true}, testKey, rec).OnResult(execution.Success(1))

	if got := rec.Only(t).Value(); got != 1 {
		t.Errorf("Value() = %v, want 1", got)
	}
}

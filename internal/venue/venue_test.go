// SPDX-License-Identifier: MPL-2.0

package venue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/invowk/cougar/internal/clock"
	"github.com/invowk/cougar/internal/executor"
	"github.com/invowk/cougar/internal/identity"
	"github.com/invowk/cougar/internal/ids"
	"github.com/invowk/cougar/internal/subscription"
	"github.com/invowk/cougar/internal/testutil"
	"github.com/invowk/cougar/pkg/execution"
	"github.com/invowk/cougar/pkg/fault"
	"github.com/invowk/cougar/pkg/interceptor"
	"github.com/invowk/cougar/pkg/operation"
)

var (
	v1      = operation.NewVersion(1, 0)
	testKey = operation.NewKey(v1, "Svc", "op")
	testDef = operation.Definition{Key: testKey}
)

func execute(t *testing.T, v execution.Venue, key operation.Key, args ...any) execution.Result {
	t.Helper()
	rec := testutil.NewRecorder()
	v.Execute(context.Background(), &execution.Context{}, key, args, rec, execution.NoConstraints)
	return rec.Only(t)
}

func TestSucceedingExecutableWithContinuingPreProcessor(t *testing.T) {
	t.Parallel()

	var preCalls atomic.Int32
	pre := interceptor.NewPre("pass", interceptor.ExactlyOnce, func(context.Context, *execution.Context, operation.Key, []any) interceptor.Result {
		preCalls.Add(1)
		return interceptor.Continue()
	})

	b := NewBase(WithPreProcessors(pre))
	require.NoError(t, b.RegisterOperation(operation.DefaultNamespace, testDef, testutil.Returning(nil), nil, 0))

	res := execute(t, b, testKey)
	require.True(t, res.IsSuccess())
	require.Nil(t, res.Value())
	require.EqualValues(t, 1, preCalls.Load())
}

func TestNoSuchOperation(t *testing.T) {
	t.Parallel()

	b := NewBase()
	res := execute(t, b, testKey)
	require.True(t, res.IsFault())
	require.Equal(t, fault.NoSuchOperation, res.Fault().Code())
}

func TestNamespaceIsolation(t *testing.T) {
	t.Parallel()

	b := NewBase()
	require.NoError(t, b.RegisterOperation("foo", testDef, testutil.Returning("foo"), nil, 0))
	require.NoError(t, b.RegisterOperation("bar", testDef, testutil.Returning("bar"), nil, 0))

	require.Equal(t, "foo", execute(t, b, testKey.WithNamespace("foo")).Value())
	require.Equal(t, "bar", execute(t, b, testKey.WithNamespace("bar")).Value())
	require.Equal(t, fault.NoSuchOperation, execute(t, b, testKey).Fault().Code())
	require.Equal(t, fault.NoSuchOperation, execute(t, b, testKey.WithNamespace("baz")).Fault().Code())

	_, ok := b.DefinedExecutable(testKey)
	require.False(t, ok, "lookup must not fall back across namespaces")
	def, ok := b.OperationDefinition(testKey.WithNamespace("foo"))
	require.True(t, ok)
	require.Equal(t, testKey, def.Key, "stored definition carries the local key")
	require.Len(t, b.Operations(), 2)
}

func TestDuplicateRegistration(t *testing.T) {
	t.Parallel()

	b := NewBase()
	require.NoError(t, b.RegisterOperation("ns", testDef, testutil.Returning("first"), nil, 0))

	err := b.RegisterOperation("ns", testDef, testutil.Returning("second"), nil, 0)
	require.ErrorIs(t, err, ErrDuplicateOperation)
	var dup *DuplicateOperationError
	require.ErrorAs(t, err, &dup)
	require.Equal(t, testKey.WithNamespace("ns"), dup.Key)

	require.Equal(t, "first", execute(t, b, testKey.WithNamespace("ns")).Value())
}

func TestRegisterOperationValidation(t *testing.T) {
	t.Parallel()

	b := NewBase()
	require.ErrorIs(t, b.RegisterOperation("", testDef, nil, nil, 0), ErrUnresolvableExecutable)
	require.ErrorIs(t, b.RegisterOperation("bad/ns", testDef, testutil.Returning(nil), nil, 0), operation.ErrInvalidKey)
	require.Error(t, b.RegisterOperation("", operation.Definition{}, testutil.Returning(nil), nil, 0))
	require.Empty(t, b.Operations())
}

func TestTimeoutIndependentOfSlowWork(t *testing.T) {
	t.Parallel()

	fc := clock.NewFake(time.Time{})
	b := NewBase(WithClock(fc))

	started := make(chan struct{})
	release := make(chan struct{})
	cancelled := make(chan struct{})
	var finished atomic.Bool
	slow := execution.ExecutableFunc(func(ctx context.Context, _ *execution.Context, _ operation.Key, _ []any, obs execution.Observer, _ execution.Venue, _ execution.TimeConstraints) {
		close(started)
		go func() {
			<-ctx.Done()
			close(cancelled)
		}()
		go func() {
			<-release
			finished.Store(true)
			obs.OnResult(execution.Success("late"))
		}()
	})
	require.NoError(t, b.RegisterOperation("", testDef, slow, nil, 100*time.Millisecond))

	rec := testutil.NewRecorder()
	b.Execute(context.Background(), &execution.Context{}, testKey, nil, rec, execution.NoConstraints)
	<-started
	require.Zero(t, rec.Count(), "no result before the deadline")
	require.Equal(t, 1, fc.Pending())

	fc.Advance(99 * time.Millisecond)
	require.Zero(t, rec.Count())

	fc.Advance(time.Millisecond)
	res := rec.Wait(t)
	require.Equal(t, fault.Timeout, res.Fault().Code())
	require.False(t, finished.Load(), "work is not interrupted by the timeout")

	select {
	case <-cancelled:
	case <-time.After(testutil.DefaultWait):
		t.Fatal("executable context was not cancelled at the deadline")
	}

	close(release)
	require.Eventually(t, finished.Load, testutil.DefaultWait, time.Millisecond)
	require.Equal(t, 1, rec.Count(), "late result must be dropped")
	require.Zero(t, b.InFlight())

	d, _ := b.DefinedExecutable(testKey)
	require.EqualValues(t, 1, d.Stats().Timeouts)
}

func TestLateSubscriptionIsClosed(t *testing.T) {
	t.Parallel()

	fc := clock.NewFake(time.Time{})
	reg := subscription.NewRegistry()
	b := NewBase(WithClock(fc))

	release := make(chan struct{})
	reported := make(chan *execution.Subscription, 1)
	slow := execution.ExecutableFunc(func(_ context.Context, _ *execution.Context, _ operation.Key, _ []any, obs execution.Observer, _ execution.Venue, _ execution.TimeConstraints) {
		go func() {
			<-release
			sub := reg.Subscribe("res")
			obs.OnResult(execution.Subscribed(sub))
			reported <- sub
		}()
	})
	require.NoError(t, b.RegisterOperation("", testDef, slow, nil, time.Second))

	rec := testutil.NewRecorder()
	b.Execute(context.Background(), &execution.Context{}, testKey, nil, rec, execution.NoConstraints)
	fc.Advance(time.Second)
	require.Equal(t, fault.Timeout, rec.Wait(t).Fault().Code())

	close(release)
	sub := <-reported
	require.Zero(t, reg.Count("res"))
	closed, reason := sub.Closed()
	require.True(t, closed)
	require.Equal(t, execution.CloseInternalError, reason)
	require.Equal(t, 1, rec.Count())
}

func TestTimeoutBypassesPostProcessors(t *testing.T) {
	t.Parallel()

	fc := clock.NewFake(time.Time{})
	var postCalls atomic.Int32
	post := interceptor.NewPost("mask", func(context.Context, *execution.Context, operation.Key, []any, execution.Result) interceptor.Result {
		postCalls.Add(1)
		return interceptor.ForceResult("masked")
	})
	b := NewBase(WithClock(fc), WithPostProcessors(post))
	require.NoError(t, b.RegisterOperation("", testDef, testutil.Hanging(nil, make(chan struct{}), nil), nil, time.Second))

	rec := testutil.NewRecorder()
	b.Execute(context.Background(), &execution.Context{}, testKey, nil, rec, execution.NoConstraints)
	fc.Advance(time.Second)

	require.Equal(t, fault.Timeout, rec.Wait(t).Fault().Code())
	require.Zero(t, postCalls.Load())
}

func TestResultBeforeDeadlineStopsWatchdog(t *testing.T) {
	t.Parallel()

	fc := clock.NewFake(time.Time{})
	b := NewBase(WithClock(fc))
	require.NoError(t, b.RegisterOperation("", testDef, testutil.Returning("fast"), nil, time.Second))

	require.Equal(t, "fast", execute(t, b, testKey).Value())
	require.Zero(t, fc.Pending(), "watchdog should be stopped once a result is settled")
}

func TestZeroMaxExecutionTimeDisablesWatchdog(t *testing.T) {
	t.Parallel()

	fc := clock.NewFake(time.Time{})
	b := NewBase(WithClock(fc))
	release := make(chan struct{})
	require.NoError(t, b.RegisterOperation("", testDef, testutil.Hanging(nil, release, "done"), nil, 0))

	rec := testutil.NewRecorder()
	b.Execute(context.Background(), &execution.Context{}, testKey, nil, rec, execution.NoConstraints)
	require.Zero(t, fc.Pending())
	fc.Advance(time.Hour)
	require.Zero(t, rec.Count())

	close(release)
	require.Equal(t, "done", rec.Only(t).Value())
}

func TestTimeConstraints(t *testing.T) {
	t.Parallel()

	t.Run("already expired", func(t *testing.T) {
		t.Parallel()

		fc := clock.NewFake(time.Time{})
		b := NewBase(WithClock(fc))
		var calls atomic.Int32
		exec := execution.Sync(func(context.Context, *execution.Context, []any) (any, error) {
			calls.Add(1)
			return nil, nil
		})
		require.NoError(t, b.RegisterOperation("", testDef, exec, nil, 0))

		rec := testutil.NewRecorder()
		tc := execution.TimeConstraints{Expiry: fc.Now().Add(-time.Second)}
		b.Execute(context.Background(), &execution.Context{}, testKey, nil, rec, tc)
		require.Equal(t, fault.Timeout, rec.Only(t).Fault().Code())
		require.Zero(t, calls.Load())
	})

	t.Run("expiry shortens the deadline", func(t *testing.T) {
		t.Parallel()

		fc := clock.NewFake(time.Time{})
		b := NewBase(WithClock(fc))
		require.NoError(t, b.RegisterOperation("", testDef, testutil.Hanging(nil, make(chan struct{}), nil), nil, time.Minute))

		rec := testutil.NewRecorder()
		b.Execute(context.Background(), &execution.Context{}, testKey, nil, rec, execution.ExpiresIn(fc.Now(), time.Second))
		fc.Advance(time.Second)
		require.Equal(t, fault.Timeout, rec.Wait(t).Fault().Code())
	})
}

func TestIdentityResolution(t *testing.T) {
	t.Parallel()

	resolver := identity.NewLocationFilter(identity.ResolverFunc(func(_ context.Context, ec *execution.Context) (*execution.IdentityChain, error) {
		if len(ec.IdentityTokens) == 0 {
			return nil, errors.New("no credentials")
		}
		return &execution.IdentityChain{Identities: []execution.Identity{{Principal: ec.IdentityTokens[0].Value}}}, nil
	}), false, "6.6.6.6")

	var seen atomic.Value
	exec := execution.Sync(func(_ context.Context, ec *execution.Context, _ []any) (any, error) {
		seen.Store(ec.Identity.Principal())
		return nil, nil
	})
	b := NewBase(WithIdentityResolver(resolver), WithIDGenerator(ids.NewSequence("req")))
	require.NoError(t, b.RegisterOperation("", testDef, exec, nil, 0))

	tests := []struct {
		name     string
		ec       *execution.Context
		wantCode fault.Code
	}{
		{"banned location", &execution.Context{Location: "6.6.6.6", IdentityTokens: []execution.IdentityToken{{Value: "x"}}}, fault.BannedLocation},
		{"missing credentials", &execution.Context{Location: "1.1.1.1"}, fault.SecurityException},
		{"resolved", &execution.Context{Location: "1.1.1.1", IdentityTokens: []execution.IdentityToken{{Value: "alice"}}}, ""},
	}
	for _, tt := range tests {
		rec := testutil.NewRecorder()
		b.Execute(context.Background(), tt.ec, testKey, nil, rec, execution.NoConstraints)
		res := rec.Only(t)
		if tt.wantCode == "" {
			require.True(t, res.IsSuccess(), tt.name)
			require.Equal(t, "alice", seen.Load())
			require.Nil(t, tt.ec.Identity, "caller context must not be mutated")
			continue
		}
		require.Equal(t, tt.wantCode, res.Fault().Code(), tt.name)
	}
}

func TestRequestContextIsFilled(t *testing.T) {
	t.Parallel()

	fc := clock.NewFake(time.Time{})
	var got execution.Context
	exec := execution.Sync(func(_ context.Context, ec *execution.Context, _ []any) (any, error) {
		got = *ec
		return nil, nil
	})
	b := NewBase(WithClock(fc), WithIDGenerator(ids.NewSequence("req")))
	require.NoError(t, b.RegisterOperation("", testDef, exec, nil, 0))

	execute(t, b, testKey)
	require.Equal(t, "req-1", got.RequestUUID)
	require.Equal(t, fc.Now(), got.ReceivedTime)
	require.Equal(t, fc.Now(), got.RequestTime)
}

type phaseRecorder struct {
	mu     sync.Mutex
	events []string
}

func (p *phaseRecorder) add(e string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *phaseRecorder) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func TestExecuteWithExecutor(t *testing.T) {
	t.Parallel()

	var log phaseRecorder
	pre := func(name string, req interceptor.Requirement) interceptor.PreProcessor {
		return interceptor.NewPre(name, req, func(context.Context, *execution.Context, operation.Key, []any) interceptor.Result {
			log.add(name)
			return interceptor.Continue()
		})
	}
	exec := execution.Sync(func(context.Context, *execution.Context, []any) (any, error) {
		log.add("exec")
		return "ok", nil
	})

	b := NewBase(WithPreProcessors(
		pre("once", interceptor.ExactlyOnce),
		pre("every", interceptor.EveryOpportunity),
		pre("queue", interceptor.PreQueue),
		pre("execute", interceptor.PreExecute),
	))
	require.NoError(t, b.RegisterOperation("", testDef, exec, nil, 0))

	var queued []func()
	ex := execution.ExecutorFunc(func(task func()) error {
		log.add("queued")
		queued = append(queued, task)
		return nil
	})

	rec := testutil.NewRecorder()
	b.ExecuteWith(context.Background(), &execution.Context{}, testKey, nil, rec, ex, execution.NoConstraints)
	require.Zero(t, rec.Count())
	require.Len(t, queued, 1)
	queued[0]()

	require.Equal(t, "ok", rec.Only(t).Value())
	require.Equal(t, []string{"once", "every", "queue", "queued", "every", "execute", "exec"}, log.snapshot())
}

func TestExecuteWithRejectedTask(t *testing.T) {
	t.Parallel()

	b := NewBase()
	var calls atomic.Int32
	exec := execution.Sync(func(context.Context, *execution.Context, []any) (any, error) {
		calls.Add(1)
		return nil, nil
	})
	require.NoError(t, b.RegisterOperation("", testDef, exec, nil, 0))

	reject := execution.ExecutorFunc(func(func()) error { return executor.ErrQueueFull })
	rec := testutil.NewRecorder()
	b.ExecuteWith(context.Background(), &execution.Context{}, testKey, nil, rec, reject, execution.NoConstraints)

	res := rec.Only(t)
	require.Equal(t, fault.FrameworkError, res.Fault().Code())
	require.ErrorIs(t, res.Fault(), executor.ErrQueueFull)
	require.Zero(t, calls.Load())
	require.Zero(t, b.InFlight())
}

func TestExecuteWithPool(t *testing.T) {
	t.Parallel()

	pool := executor.New(4, 64)
	testutil.DeferStop(t, pool)

	b := NewBase()
	exec := execution.Sync(func(_ context.Context, _ *execution.Context, args []any) (any, error) {
		return args[0], nil
	})
	require.NoError(t, b.RegisterOperation("", testDef, exec, nil, 0))

	recs := make([]*testutil.Recorder, 32)
	for i := range recs {
		recs[i] = testutil.NewRecorder()
		b.ExecuteWith(context.Background(), &execution.Context{}, testKey, []any{i}, recs[i], pool, execution.NoConstraints)
	}
	for i, rec := range recs {
		require.Equal(t, i, rec.Wait(t).Value())
	}

	ctx, cancel := context.WithTimeout(context.Background(), testutil.DefaultWait)
	defer cancel()
	require.NoError(t, b.Drain(ctx))
}

// TestExactlyOnceDelivery checks every combination of pre-processor,
// executable and post-processor behavior delivers exactly one result.
func TestExactlyOnceDelivery(t *testing.T) {
	t.Parallel()

	pres := map[string]interceptor.PreFunc{
		"continue": func(context.Context, *execution.Context, operation.Key, []any) interceptor.Result { return interceptor.Continue() },
		"force-result": func(context.Context, *execution.Context, operation.Key, []any) interceptor.Result {
			return interceptor.ForceResult(1)
		},
		"force-exception": func(context.Context, *execution.Context, operation.Key, []any) interceptor.Result {
			return interceptor.ForceException(errors.New("x"))
		},
		"panic": func(context.Context, *execution.Context, operation.Key, []any) interceptor.Result { panic("pre") },
	}
	execs := map[string]execution.Executable{
		"success": testutil.Returning(1),
		"fault":   execution.Sync(func(context.Context, *execution.Context, []any) (any, error) { return nil, errors.New("e") }),
		"panic":   execution.Sync(func(context.Context, *execution.Context, []any) (any, error) { panic("exec") }),
		"twice": execution.ExecutableFunc(func(_ context.Context, _ *execution.Context, _ operation.Key, _ []any, obs execution.Observer, _ execution.Venue, _ execution.TimeConstraints) {
			obs.OnResult(execution.Success(1))
			obs.OnResult(execution.Success(2))
		}),
		"async": execution.ExecutableFunc(func(_ context.Context, _ *execution.Context, _ operation.Key, _ []any, obs execution.Observer, _ execution.Venue, _ execution.TimeConstraints) {
			go obs.OnResult(execution.Success(1))
		}),
		"raw-panic": execution.ExecutableFunc(func(context.Context, *execution.Context, operation.Key, []any, execution.Observer, execution.Venue, execution.TimeConstraints) {
			panic("raw")
		}),
	}
	posts := map[string]interceptor.PostFunc{
		"continue": func(context.Context, *execution.Context, operation.Key, []any, execution.Result) interceptor.Result {
			return interceptor.Continue()
		},
		"force-result": func(context.Context, *execution.Context, operation.Key, []any, execution.Result) interceptor.Result {
			return interceptor.ForceResult(2)
		},
		"force-exception": func(context.Context, *execution.Context, operation.Key, []any, execution.Result) interceptor.Result {
			return interceptor.ForceException(fault.New(fault.OperationForbidden, ""))
		},
		"panic": func(context.Context, *execution.Context, operation.Key, []any, execution.Result) interceptor.Result {
			panic("post")
		},
	}

	for preName, preFn := range pres {
		for execName, exec := range execs {
			for postName, postFn := range posts {
				t.Run(fmt.Sprintf("%s/%s/%s", preName, execName, postName), func(t *testing.T) {
					t.Parallel()

					b := NewBase(
						WithPreProcessors(interceptor.NewPre("pre", interceptor.ExactlyOnce, preFn)),
						WithPostProcessors(interceptor.NewPost("post", postFn)),
					)
					require.NoError(t, b.RegisterOperation("", testDef, exec, nil, time.Minute))

					rec := testutil.NewRecorder()
					b.Execute(context.Background(), &execution.Context{}, testKey, nil, rec, execution.NoConstraints)
					rec.Wait(t)

					ctx, cancel := context.WithTimeout(context.Background(), testutil.DefaultWait)
					defer cancel()
					require.NoError(t, b.Drain(ctx))
					require.Equal(t, 1, rec.Count())
				})
			}
		}
	}
}

func TestWatchdogRacesCompletion(t *testing.T) {
	t.Parallel()

	const runs = 300
	var reports sync.WaitGroup
	racing := execution.ExecutableFunc(func(_ context.Context, _ *execution.Context, _ operation.Key, _ []any, obs execution.Observer, _ execution.Venue, _ execution.TimeConstraints) {
		reports.Add(1)
		go func() {
			defer reports.Done()
			time.Sleep(time.Millisecond)
			obs.OnResult(execution.Success("done"))
		}()
	})
	b := NewBase(WithClock(clock.Real{}))
	require.NoError(t, b.RegisterOperation("", testDef, racing, nil, time.Millisecond))

	recs := make([]*testutil.Recorder, runs)
	var wg sync.WaitGroup
	for i := range runs {
		rec := testutil.NewRecorder()
		recs[i] = rec
		wg.Go(func() {
			b.Execute(context.Background(), &execution.Context{}, testKey, nil, rec, execution.NoConstraints)
		})
	}
	wg.Wait()

	var success, timeouts int
	for _, rec := range recs {
		res := rec.Wait(t)
		switch {
		case res.IsSuccess() && res.Value() == "done":
			success++
		case res.IsFault() && res.Fault().Code() == fault.Timeout:
			timeouts++
		default:
			t.Fatalf("unexpected result %v", res)
		}
	}
	reports.Wait()

	for _, rec := range recs {
		require.Equal(t, 1, rec.Count())
	}
	require.Equal(t, runs, success+timeouts)
	ctx, cancel := context.WithTimeout(context.Background(), testutil.DefaultWait)
	defer cancel()
	require.NoError(t, b.Drain(ctx))
	require.Zero(t, b.InFlight())
	d, _ := b.DefinedExecutable(testKey)
	require.EqualValues(t, runs, d.Stats().Calls)
	t.Logf("%d completed, %d timed out", success, timeouts)
}

func TestConcurrentExecuteAndRegister(t *testing.T) {
	t.Parallel()

	b := NewBase()
	require.NoError(t, b.RegisterOperation("", testDef, testutil.Returning("ok"), nil, 0))

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Go(func() {
			for range 20 {
				execute(t, b, testKey)
			}
		})
		wg.Go(func() {
			def := operation.Definition{Key: operation.NewKey(v1, "Svc", fmt.Sprintf("op%d", i))}
			require.NoError(t, b.RegisterOperation("", def, testutil.Returning(i), nil, 0))
		})
	}
	wg.Wait()

	require.Len(t, b.Operations(), 21)
	d, _ := b.DefinedExecutable(testKey)
	require.EqualValues(t, 400, d.Stats().Calls)
}

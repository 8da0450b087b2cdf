// SPDX-License-Identifier: MPL-2.0

package intercept

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/invowk/cougar/internal/subscription"
	"github.com/invowk/cougar/internal/testutil"
	"github.com/invowk/cougar/pkg/execution"
	"github.com/invowk/cougar/pkg/fault"
	"github.com/invowk/cougar/pkg/interceptor"
	"github.com/invowk/cougar/pkg/operation"
)

var testKey = operation.NewKey(operation.NewVersion(1, 0), "Svc", "op")

type countingExecutable struct {
	calls  atomic.Int32
	result execution.Result
}

func (c *countingExecutable) Execute(_ context.Context, _ *execution.Context, _ operation.Key, _ []any, obs execution.Observer, _ execution.Venue, _ execution.TimeConstraints) {
	c.calls.Add(1)
	obs.OnResult(c.result)
}

type countingPre struct {
	name   string
	req    interceptor.Requirement
	result interceptor.Result
	calls  atomic.Int32
}

func (p *countingPre) Name() string                         { return p.name }
func (p *countingPre) Requirement() interceptor.Requirement { return p.req }

func (p *countingPre) Invoke(context.Context, *execution.Context, operation.Key, []any) interceptor.Result {
	p.calls.Add(1)
	return p.result
}

func cont(name string) *countingPre {
	return &countingPre{name: name, req: interceptor.ExactlyOnce, result: interceptor.Continue()}
}

func run(t *testing.T, w *Wrapper) execution.Result {
	t.Helper()
	rec := testutil.NewRecorder()
	w.Execute(context.Background(), &execution.Context{}, testKey, nil, rec, nil, execution.NoConstraints)
	return rec.Only(t)
}

func TestPreProcessorShortCircuit(t *testing.T) {
	t.Parallel()

	checked := fault.Checked(errors.New("declined"))

	tests := []struct {
		name      string
		forcing   int
		force     interceptor.Result
		wantKind  execution.ResultKind
		wantCode  fault.Code
		wantValue any
	}{
		{"first forces result", 0, interceptor.ForceResult("cached"), execution.ResultSuccess, "", "cached"},
		{"second forces result", 1, interceptor.ForceResult("cached"), execution.ResultSuccess, "", "cached"},
		{"first forces checked", 0, interceptor.ForceException(checked), execution.ResultFault, fault.ServiceCheckedException, nil},
		{"second forces plain error", 1, interceptor.ForceException(errors.New("x")), execution.ResultFault, fault.ServiceRuntimeException, nil},
		{"framework fault keeps code", 0, interceptor.ForceException(fault.New(fault.BannedLocation, "")), execution.ResultFault, fault.BannedLocation, nil},
		{"nil error", 1, interceptor.ForceException(nil), execution.ResultFault, fault.ServiceRuntimeException, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			pres := []*countingPre{cont("a"), cont("b")}
			pres[tt.forcing].result = tt.force
			exec := &countingExecutable{result: execution.Success("real")}
			var postCalls atomic.Int32
			post := interceptor.NewPost("p", func(context.Context, *execution.Context, operation.Key, []any, execution.Result) interceptor.Result {
				postCalls.Add(1)
				return interceptor.Continue()
			})

			w := NewWrapper(exec, []interceptor.PreProcessor{pres[0], pres[1]}, []interceptor.PostProcessor{post})
			res := run(t, w)

			require.Equal(t, tt.wantKind, res.Kind())
			if tt.wantKind == execution.ResultFault {
				require.Equal(t, tt.wantCode, res.Fault().Code())
			} else {
				require.Equal(t, tt.wantValue, res.Value())
			}
			require.Zero(t, exec.calls.Load(), "executable must not run")
			require.Zero(t, postCalls.Load(), "post-processors must not run")
			require.EqualValues(t, 1, pres[0].calls.Load())
			if tt.forcing == 0 {
				require.Zero(t, pres[1].calls.Load(), "processors after the forcing one must not run")
			} else {
				require.EqualValues(t, 1, pres[1].calls.Load())
			}
		})
	}
}

func TestPostProcessorOverride(t *testing.T) {
	t.Parallel()

	sub := execution.NewSubscription("s", 1)
	denied := fault.New(fault.OperationForbidden, "nope")

	tests := []struct {
		name     string
		exec     execution.Result
		post     []interceptor.Result
		wantKind execution.ResultKind
		check    func(t *testing.T, r execution.Result)
	}{
		{
			name:     "force exception over success",
			exec:     execution.Success("payload"),
			post:     []interceptor.Result{interceptor.ForceException(denied)},
			wantKind: execution.ResultFault,
			check: func(t *testing.T, r execution.Result) {
				require.Equal(t, fault.OperationForbidden, r.Fault().Code())
			},
		},
		{
			name:     "force result over fault",
			exec:     execution.FaultOf(errors.New("x")),
			post:     []interceptor.Result{interceptor.ForceResult(7)},
			wantKind: execution.ResultSuccess,
			check:    func(t *testing.T, r execution.Result) { require.Equal(t, 7, r.Value()) },
		},
		{
			name:     "force result over subscription",
			exec:     execution.Subscribed(sub),
			post:     []interceptor.Result{interceptor.ForceResult("replaced")},
			wantKind: execution.ResultSuccess,
			check:    func(t *testing.T, r execution.Result) { require.Nil(t, r.Subscription()) },
		},
		{
			name:     "subscription flows through",
			exec:     execution.Subscribed(sub),
			post:     []interceptor.Result{interceptor.Continue(), interceptor.Continue()},
			wantKind: execution.ResultSubscription,
			check:    func(t *testing.T, r execution.Result) { require.Same(t, sub, r.Subscription()) },
		},
		{
			name:     "first forcing post wins",
			exec:     execution.Success(1),
			post:     []interceptor.Result{interceptor.ForceResult(2), interceptor.ForceResult(3)},
			wantKind: execution.ResultSuccess,
			check:    func(t *testing.T, r execution.Result) { require.Equal(t, 2, r.Value()) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var seen []execution.ResultKind
			posts := make([]interceptor.PostProcessor, len(tt.post))
			for i, pr := range tt.post {
				posts[i] = interceptor.NewPost("p", func(_ context.Context, _ *execution.Context, _ operation.Key, _ []any, cur execution.Result) interceptor.Result {
					seen = append(seen, cur.Kind())
					return pr
				})
			}

			w := NewWrapper(&countingExecutable{result: tt.exec}, nil, posts)
			res := run(t, w)
			require.Equal(t, tt.wantKind, res.Kind())
			tt.check(t, res)
			require.Equal(t, tt.exec.Kind(), seen[0], "first post-processor sees the executable's result")
		})
	}
}

func TestPanicsBecomeRuntimeFaults(t *testing.T) {
	t.Parallel()

	t.Run("pre-processor", func(t *testing.T) {
		t.Parallel()
		exec := &countingExecutable{result: execution.Success(nil)}
		pre := interceptor.NewPre("boom", interceptor.ExactlyOnce, func(context.Context, *execution.Context, operation.Key, []any) interceptor.Result {
			panic("misbehaving interceptor")
		})
		res := run(t, NewWrapper(exec, []interceptor.PreProcessor{pre}, nil))
		require.Equal(t, fault.ServiceRuntimeException, res.Fault().Code())
		require.Zero(t, exec.calls.Load())
	})

	t.Run("executable", func(t *testing.T) {
		t.Parallel()
		exec := execution.ExecutableFunc(func(context.Context, *execution.Context, operation.Key, []any, execution.Observer, execution.Venue, execution.TimeConstraints) {
			panic(errors.New("nil map"))
		})
		res := run(t, NewWrapper(exec, nil, nil))
		require.Equal(t, fault.ServiceRuntimeException, res.Fault().Code())
	})

	t.Run("executable panics after reporting", func(t *testing.T) {
		t.Parallel()
		exec := execution.ExecutableFunc(func(_ context.Context, _ *execution.Context, _ operation.Key, _ []any, obs execution.Observer, _ execution.Venue, _ execution.TimeConstraints) {
			obs.OnResult(execution.Success("first"))
			panic("late")
		})
		res := run(t, NewWrapper(exec, nil, nil))
		require.Equal(t, "first", res.Value())
	})

	t.Run("post-processor", func(t *testing.T) {
		t.Parallel()
		post := interceptor.NewPost("boom", func(context.Context, *execution.Context, operation.Key, []any, execution.Result) interceptor.Result {
			panic("bad post")
		})
		res := run(t, NewWrapper(testutil.Returning("ok"), nil, []interceptor.PostProcessor{post}))
		require.Equal(t, fault.ServiceRuntimeException, res.Fault().Code())
	})
}

func TestExecutableReportingTwice(t *testing.T) {
	t.Parallel()

	var postCalls atomic.Int32
	post := interceptor.NewPost("count", func(context.Context, *execution.Context, operation.Key, []any, execution.Result) interceptor.Result {
		postCalls.Add(1)
		return interceptor.Continue()
	})
	exec := execution.ExecutableFunc(func(_ context.Context, _ *execution.Context, _ operation.Key, _ []any, obs execution.Observer, _ execution.Venue, _ execution.TimeConstraints) {
		obs.OnResult(execution.Success(1))
		obs.OnResult(execution.Success(2))
	})

	res := run(t, NewWrapper(exec, nil, []interceptor.PostProcessor{post}))
	require.Equal(t, 1, res.Value())
	require.EqualValues(t, 1, postCalls.Load())
}

func TestPhasedInvocation(t *testing.T) {
	t.Parallel()

	once := &countingPre{name: "once", req: interceptor.ExactlyOnce, result: interceptor.Continue()}
	every := &countingPre{name: "every", req: interceptor.EveryOpportunity, result: interceptor.Continue()}
	queue := &countingPre{name: "queue", req: interceptor.PreQueue, result: interceptor.Continue()}
	exec := &countingPre{name: "exec", req: interceptor.PreExecute, result: interceptor.Continue()}
	target := &countingExecutable{result: execution.Success("done")}

	w := NewWrapper(target, []interceptor.PreProcessor{once, every, queue, exec}, nil)
	rec := testutil.NewRecorder()
	inv := w.Begin(&execution.Context{}, testKey, nil, rec)

	ctx := context.Background()
	require.False(t, inv.Run(ctx, interceptor.PhasePreQueue))
	require.Equal(t, StagePreProcessing, inv.Stage())
	require.False(t, inv.Run(ctx, interceptor.PhasePreExecute))
	inv.Proceed(ctx, nil, execution.NoConstraints)

	require.Equal(t, "done", rec.Only(t).Value())
	require.Equal(t, StageComplete, inv.Stage())
	require.EqualValues(t, 1, once.calls.Load())
	require.EqualValues(t, 2, every.calls.Load())
	require.EqualValues(t, 1, queue.calls.Load())
	require.EqualValues(t, 1, exec.calls.Load())
}

func TestPreQueueTerminationSkipsPreExecute(t *testing.T) {
	t.Parallel()

	queue := &countingPre{name: "queue", req: interceptor.PreQueue, result: interceptor.ForceException(fault.New(fault.RateLimitExceeded, ""))}
	exec := &countingPre{name: "exec", req: interceptor.PreExecute, result: interceptor.Continue()}
	target := &countingExecutable{}

	w := NewWrapper(target, []interceptor.PreProcessor{queue, exec}, nil)
	rec := testutil.NewRecorder()
	inv := w.Begin(&execution.Context{}, testKey, nil, rec)

	ctx := context.Background()
	require.True(t, inv.Run(ctx, interceptor.PhasePreQueue))
	require.True(t, inv.Run(ctx, interceptor.PhasePreExecute))
	inv.Proceed(ctx, nil, execution.NoConstraints)

	require.Equal(t, fault.RateLimitExceeded, rec.Only(t).Fault().Code())
	require.Zero(t, exec.calls.Load())
	require.Zero(t, target.calls.Load())
}

func TestAbort(t *testing.T) {
	t.Parallel()

	target := &countingExecutable{}
	rec := testutil.NewRecorder()
	inv := NewWrapper(target, nil, nil).Begin(&execution.Context{}, testKey, nil, rec)

	require.True(t, inv.Abort(execution.Fail(fault.New(fault.FrameworkError, "rejected"))))
	require.False(t, inv.Abort(execution.Success(nil)))
	inv.Proceed(context.Background(), nil, execution.NoConstraints)

	require.Equal(t, fault.FrameworkError, rec.Only(t).Fault().Code())
	require.Zero(t, target.calls.Load())
}

func TestOnceObserver(t *testing.T) {
	t.Parallel()

	t.Run("concurrent deliveries", func(t *testing.T) {
		t.Parallel()

		rec := testutil.NewRecorder()
		once := NewOnceObserver(rec, nil)
		var wg sync.WaitGroup
		for i := range 50 {
			wg.Go(func() { once.OnResult(execution.Success(i)) })
		}
		wg.Wait()

		require.True(t, once.Delivered())
		require.Equal(t, 1, rec.Count())
	})

	t.Run("delegate panic is contained", func(t *testing.T) {
		t.Parallel()

		once := NewOnceObserver(execution.ObserverFunc(func(execution.Result) { panic("observer bug") }), nil)
		require.NotPanics(t, func() { once.OnResult(execution.Success(nil)) })
		require.True(t, once.Delivered())
	})
}

func TestStageString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "FORCED_EXCEPTION", StageForcedException.String())
	require.True(t, StageComplete.IsTerminal())
	require.False(t, StageExecuting.IsTerminal())
}

func TestFinalObserverSkipsPostProcessing(t *testing.T) {
	t.Parallel()

	var postCalls atomic.Int32
	post := interceptor.NewPost("mask", func(context.Context, *execution.Context, operation.Key, []any, execution.Result) interceptor.Result {
		postCalls.Add(1)
		return interceptor.ForceResult("masked")
	})
	exec := execution.ExecutableFunc(func(_ context.Context, _ *execution.Context, _ operation.Key, _ []any, obs execution.Observer, _ execution.Venue, _ execution.TimeConstraints) {
		FinalObserver(obs).OnResult(execution.Fail(fault.New(fault.Timeout, "late")))
		obs.OnResult(execution.Success("ignored"))
	})

	rec := testutil.NewRecorder()
	NewWrapper(exec, nil, []interceptor.PostProcessor{post}).Execute(context.Background(), &execution.Context{}, testKey, nil, rec, nil, execution.NoConstraints)

	require.Equal(t, fault.Timeout, rec.Only(t).Fault().Code())
	require.LessOrEqual(t, postCalls.Load(), int32(1))

	plain := testutil.NewRecorder()
	require.Same(t, plain, FinalObserver(plain))
}

func TestDroppedSubscriptionsAreClosed(t *testing.T) {
	t.Parallel()

	const uri = "feed"
	subscribing := func(reg *subscription.Registry, times int) execution.Executable {
		return execution.ExecutableFunc(func(_ context.Context, _ *execution.Context, _ operation.Key, _ []any, obs execution.Observer, _ execution.Venue, _ execution.TimeConstraints) {
			for range times {
				obs.OnResult(execution.Subscribed(reg.Subscribe(uri)))
			}
		})
	}

	t.Run("post-processor forces a result", func(t *testing.T) {
		t.Parallel()

		reg := subscription.NewRegistry()
		post := interceptor.NewPost("replace", func(context.Context, *execution.Context, operation.Key, []any, execution.Result) interceptor.Result {
			return interceptor.ForceResult("replaced")
		})
		res := run(t, NewWrapper(subscribing(reg, 1), nil, []interceptor.PostProcessor{post}))
		require.Equal(t, "replaced", res.Value())
		require.Zero(t, reg.Count(uri))
	})

	t.Run("post-processor forces a fault", func(t *testing.T) {
		t.Parallel()

		reg := subscription.NewRegistry()
		post := interceptor.NewPost("reject", func(context.Context, *execution.Context, operation.Key, []any, execution.Result) interceptor.Result {
			return interceptor.ForceException(fault.Checked(errors.New("not allowed")))
		})
		res := run(t, NewWrapper(subscribing(reg, 1), nil, []interceptor.PostProcessor{post}))
		require.True(t, res.IsFault())
		require.Zero(t, reg.Count(uri))
	})

	t.Run("post-processor passes the handle through", func(t *testing.T) {
		t.Parallel()

		reg := subscription.NewRegistry()
		post := interceptor.NewPost("unwrap", func(_ context.Context, _ *execution.Context, _ operation.Key, _ []any, r execution.Result) interceptor.Result {
			return interceptor.ForceResult(r.Subscription())
		})
		res := run(t, NewWrapper(subscribing(reg, 1), nil, []interceptor.PostProcessor{post}))
		require.IsType(t, &execution.Subscription{}, res.Value())
		require.Equal(t, 1, reg.Count(uri))
	})

	t.Run("executable reports twice", func(t *testing.T) {
		t.Parallel()

		reg := subscription.NewRegistry()
		res := run(t, NewWrapper(subscribing(reg, 2), nil, nil))
		require.True(t, res.IsSubscription())
		require.Equal(t, 1, reg.Count(uri), "only the delivered subscription stays live")
		closed, _ := res.Subscription().Closed()
		require.False(t, closed)
	})

	t.Run("duplicate delivery to a once observer", func(t *testing.T) {
		t.Parallel()

		reg := subscription.NewRegistry()
		once := NewOnceObserver(testutil.NewRecorder(), nil)
		once.OnResult(execution.Success(nil))
		late := reg.Subscribe(uri)
		once.OnResult(execution.Subscribed(late))
		require.Zero(t, reg.Count(uri))
		closed, reason := late.Closed()
		require.True(t, closed)
		require.Equal(t, execution.CloseInternalError, reason)
	})
}

// SPDX-License-Identifier: MPL-2.0

package intercept

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/invowk/cougar/pkg/execution"
	"github.com/invowk/cougar/pkg/fault"
	"github.com/invowk/cougar/pkg/interceptor"
	"github.com/invowk/cougar/pkg/operation"
)

var errNilForcedException = errors.New("interceptor forced an exception without an error")

type (
	// Wrapper runs an executable between ordered pre- and post-processors.
	// It implements execution.Executable for direct, single-phase use.
	Wrapper struct {
		exec   execution.Executable
		pre    []interceptor.PreProcessor
		post   []interceptor.PostProcessor
		logger *log.Logger
	}

	// Option configures a Wrapper.
	Option func(*Wrapper)

	// Invocation is the per-request state of a Wrapper run. Run may be
	// called once per phase; Proceed once after the last phase.
	Invocation struct {
		w     *Wrapper
		ec    *execution.Context
		key   operation.Key
		args  []any
		obs   *OnceObserver
		ran   []bool
		stage atomic.Int32
	}

	postProcessingObserver struct {
		inv   *Invocation
		ctx   context.Context
		fired atomic.Bool
	}
)

// WithLogger sets the logger used for dropped results and recovered panics.
func WithLogger(l *log.Logger) Option {
	return func(w *Wrapper) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWrapper returns a Wrapper around exec. The processor slices are copied.
func NewWrapper(exec execution.Executable, pre []interceptor.PreProcessor, post []interceptor.PostProcessor, opts ...Option) *Wrapper {
	w := &Wrapper{
		exec:   exec,
		pre:    slices.Clone(pre),
		post:   slices.Clone(post),
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Execute runs every pre-processor once, then the executable and
// post-processors, reporting exactly one result to obs.
func (w *Wrapper) Execute(ctx context.Context, ec *execution.Context, key operation.Key, args []any, obs execution.Observer, venue execution.Venue, tc execution.TimeConstraints) {
	inv := w.Begin(ec, key, args, obs)
	if inv.Run(ctx, interceptor.PhaseUnqueued) {
		return
	}
	inv.Proceed(ctx, venue, tc)
}

// Begin starts a request. obs is wrapped in a OnceObserver unless it
// already is one.
func (w *Wrapper) Begin(ec *execution.Context, key operation.Key, args []any, obs execution.Observer) *Invocation {
	once, ok := obs.(*OnceObserver)
	if !ok {
		once = NewOnceObserver(obs, w.logger)
	}
	return &Invocation{
		w:    w,
		ec:   ec,
		key:  key,
		args: args,
		obs:  once,
		ran:  make([]bool, len(w.pre)),
	}
}

// Stage returns the current stage of the request.
func (inv *Invocation) Stage() Stage {
	return Stage(inv.stage.Load())
}

// Observer returns the exactly-once observer of the request.
func (inv *Invocation) Observer() *OnceObserver {
	return inv.obs
}

// Run invokes the pre-processors selected for phase in registration order.
// It returns true when a pre-processor ended the request, in which case
// the result has already been delivered.
func (inv *Invocation) Run(ctx context.Context, phase interceptor.Phase) bool {
	if inv.Stage() != StagePreProcessing {
		return true
	}

	ctx = interceptor.WithPhase(ctx, phase)
	for i, p := range inv.w.pre {
		if !p.Requirement().RunsIn(phase, inv.ran[i]) {
			continue
		}
		inv.ran[i] = true

		r := inv.invokePre(ctx, p)
		switch r.State() {
		case interceptor.StateContinue:
			continue
		case interceptor.StateForceOnResult:
			inv.stage.Store(int32(StageForcedResult))
			inv.finish(execution.Success(r.Value()))
			return true
		case interceptor.StateForceOnException:
			inv.stage.Store(int32(StageForcedException))
			inv.finish(execution.Fail(classifyForced(r.Err())))
			return true
		default:
			inv.stage.Store(int32(StageForcedException))
			inv.finish(execution.Fail(fault.Wrap(fault.FrameworkError, r.State().Validate())))
			return true
		}
	}
	return false
}

// Proceed invokes the executable. Its single result passes through the
// post-processors before reaching the observer.
func (inv *Invocation) Proceed(ctx context.Context, venue execution.Venue, tc execution.TimeConstraints) {
	if !inv.stage.CompareAndSwap(int32(StagePreProcessing), int32(StageExecuting)) {
		return
	}

	post := &postProcessingObserver{inv: inv, ctx: ctx}
	defer func() {
		if p := recover(); p != nil {
			inv.w.logger.Error("executable panicked", "key", inv.key, "panic", p)
			post.OnResult(execution.Fail(fault.FromPanic(p)))
		}
	}()
	inv.w.exec.Execute(ctx, inv.ec, inv.key, inv.args, post, venue, tc)
}

// Abort ends a request that has not reached the executable with r,
// skipping the remaining stages. It reports whether r was delivered.
func (inv *Invocation) Abort(r execution.Result) bool {
	if !inv.stage.CompareAndSwap(int32(StagePreProcessing), int32(StageComplete)) {
		return false
	}
	inv.obs.OnResult(r)
	return true
}

func (inv *Invocation) finish(r execution.Result) {
	inv.stage.Store(int32(StageComplete))
	inv.obs.OnResult(r)
}

func (inv *Invocation) invokePre(ctx context.Context, p interceptor.PreProcessor) (r interceptor.Result) {
	defer func() {
		if v := recover(); v != nil {
			inv.w.logger.Error("pre-processor panicked", "processor", p.Name(), "key", inv.key, "panic", v)
			r = interceptor.ForceException(fault.FromPanic(v))
		}
	}()
	return p.Invoke(ctx, inv.ec, inv.key, inv.args)
}

func (inv *Invocation) invokePost(ctx context.Context, p interceptor.PostProcessor, current execution.Result) (r interceptor.Result) {
	defer func() {
		if v := recover(); v != nil {
			inv.w.logger.Error("post-processor panicked", "processor", p.Name(), "key", inv.key, "panic", v)
			r = interceptor.ForceException(fault.FromPanic(v))
		}
	}()
	return p.Invoke(ctx, inv.ec, inv.key, inv.args, current)
}

// OnResult runs the post-processors over r and delivers the outcome.
func (o *postProcessingObserver) OnResult(r execution.Result) {
	if !o.fired.CompareAndSwap(false, true) {
		o.inv.w.logger.Debug("executable reported more than once", "key", o.inv.key, "result", r)
		execution.Discard(r)
		return
	}
	inv := o.inv
	inv.stage.Store(int32(StagePostProcessing))

	current := r
	for _, p := range inv.w.post {
		pr := inv.invokePost(o.ctx, p, current)
		if pr.State() == interceptor.StateContinue {
			continue
		}
		replaced := current
		if pr.State() == interceptor.StateForceOnResult {
			current = execution.Success(pr.Value())
		} else {
			current = execution.Fail(classifyForced(pr.Err()))
		}
		if replaced.IsSubscription() && pr.Value() != any(replaced.Subscription()) {
			execution.Discard(replaced)
		}
		break
	}
	inv.finish(current)
}

// classifyForced keeps the code of a fault and treats anything else as an
// unexpected service failure.
func classifyForced(err error) *fault.Fault {
	if err == nil {
		return fault.Unchecked(errNilForcedException)
	}
	return fault.Classify(err)
}

// Final returns the exactly-once observer that post-processing feeds.
func (o *postProcessingObserver) Final() execution.Observer {
	return o.inv.obs
}

// FinalObserver returns the observer that receives a request's final
// result, skipping post-processing. Layers inside the executable use it
// to deliver outcomes, such as a timeout, that post-processors must not
// replace. Observers from outside a Wrapper are returned unchanged.
func FinalObserver(obs execution.Observer) execution.Observer {
	if f, ok := obs.(interface{ Final() execution.Observer }); ok {
		return f.Final()
	}
	return obs
}

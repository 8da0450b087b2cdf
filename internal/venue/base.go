// SPDX-License-Identifier: MPL-2.0

package venue

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/invowk/cougar/internal/identity"
	"github.com/invowk/cougar/internal/intercept"
	"github.com/invowk/cougar/internal/timing"
	"github.com/invowk/cougar/pkg/execution"
	"github.com/invowk/cougar/pkg/fault"
	"github.com/invowk/cougar/pkg/interceptor"
	"github.com/invowk/cougar/pkg/operation"
)

// Base is the operation registry and dispatcher. It is safe for concurrent
// use; registration may happen while requests are being served.
type Base struct {
	opts options

	mu  sync.RWMutex
	ops map[operation.Key]*DefinedExecutable

	flight *inflight

	// self is the outermost venue, handed to executables for nested calls.
	self execution.Venue
}

// pending is a validated registration waiting to be inserted.
type pending struct {
	key        operation.Key
	definition operation.Definition
	executable execution.Executable
	recorder   timing.Recorder
	maxTime    time.Duration
	reg        registration
}

// NewBase returns an empty venue.
func NewBase(opts ...Option) *Base {
	return newBase(buildOptions(opts))
}

func newBase(o options) *Base {
	b := &Base{
		opts:   o,
		ops:    make(map[operation.Key]*DefinedExecutable),
		flight: newInflight(),
	}
	b.self = b
	return b
}

// RegisterOperation registers exec for def under namespace. rec observes
// every execution (nil for statistics only); maxExecutionTime bounds each
// execution (zero for no limit). Registering a key twice in the same
// namespace fails with a *DuplicateOperationError and leaves the first
// registration intact.
func (b *Base) RegisterOperation(namespace string, def operation.Definition, exec execution.Executable, rec timing.Recorder, maxExecutionTime time.Duration, opts ...RegisterOption) error {
	p, err := b.prepare(namespace, def, exec, rec, maxExecutionTime, opts)
	if err != nil {
		return err
	}
	return b.insert([]pending{p})
}

func (b *Base) prepare(namespace string, def operation.Definition, exec execution.Executable, rec timing.Recorder, maxTime time.Duration, opts []RegisterOption) (pending, error) {
	if err := def.Validate(); err != nil {
		return pending{}, err
	}
	key := def.Key.WithNamespace(namespace)
	if err := key.Validate(); err != nil {
		return pending{}, err
	}
	if exec == nil {
		return pending{}, &UnresolvableExecutableError{Key: key}
	}
	def.Key = def.Key.LocalKey()

	var reg registration
	for _, opt := range opts {
		opt(&reg)
	}
	return pending{key: key, definition: def, executable: exec, recorder: rec, maxTime: max(maxTime, 0), reg: reg}, nil
}

// insert adds every entry or none of them.
func (b *Base) insert(entries []pending) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[operation.Key]struct{}, len(entries))
	for _, p := range entries {
		if _, dup := b.ops[p.key]; dup {
			return &DuplicateOperationError{Key: p.key}
		}
		if _, dup := seen[p.key]; dup {
			return &DuplicateOperationError{Key: p.key}
		}
		seen[p.key] = struct{}{}
	}

	for _, p := range entries {
		b.ops[p.key] = b.define(p)
		b.opts.logger.Debug("registered operation", "key", p.key, "max_execution_time", p.maxTime)
	}
	return nil
}

func (b *Base) define(p pending) *DefinedExecutable {
	stats := timing.NewStats()
	recorders := timing.Multi{stats}
	for _, r := range []timing.Recorder{p.recorder, p.reg.recorder, b.opts.recorder} {
		if r != nil {
			recorders = append(recorders, r)
		}
	}

	timed := &timedExecutable{
		inner:    p.executable,
		maxTime:  p.maxTime,
		recorder: recorders,
		clock:    b.opts.clock,
		logger:   b.opts.logger,
	}
	pre := slices.Concat(b.opts.pre, p.reg.pre)
	post := slices.Concat(b.opts.post, p.reg.post)

	return &DefinedExecutable{
		definition:       p.definition,
		key:              p.key,
		executable:       p.executable,
		recorder:         recorders,
		stats:            stats,
		maxExecutionTime: p.maxTime,
		wrapper:          intercept.NewWrapper(timed, pre, post, intercept.WithLogger(b.opts.logger)),
	}
}

// DefinedExecutable returns the entry registered under exactly key.
// There is no namespace fallback.
func (b *Base) DefinedExecutable(key operation.Key) (*DefinedExecutable, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	d, ok := b.ops[key]
	return d, ok
}

// OperationDefinition returns the definition registered under exactly key.
func (b *Base) OperationDefinition(key operation.Key) (operation.Definition, bool) {
	d, ok := b.DefinedExecutable(key)
	if !ok {
		return operation.Definition{}, false
	}
	return d.definition, true
}

// Operations returns every registered key ordered by its string form.
func (b *Base) Operations() []operation.Key {
	b.mu.RLock()
	keys := make([]operation.Key, 0, len(b.ops))
	for k := range b.ops {
		keys = append(keys, k)
	}
	b.mu.RUnlock()

	slices.SortFunc(keys, func(a, c operation.Key) int { return strings.Compare(a.String(), c.String()) })
	return keys
}

// InFlight returns the number of requests whose result is still pending.
func (b *Base) InFlight() int { return b.flight.len() }

// Drain waits until no request is in flight or ctx is done.
func (b *Base) Drain(ctx context.Context) error { return b.flight.wait(ctx) }

// Execute runs key directly on the calling goroutine; pre-processors run once.
func (b *Base) Execute(ctx context.Context, ec *execution.Context, key operation.Key, args []any, obs execution.Observer, tc execution.TimeConstraints) {
	b.dispatch(ctx, ec, key, args, obs, nil, tc)
}

// ExecuteWith pre-processes on the calling goroutine, then runs the rest of
// the request on ex. If ex rejects the task the observer gets a
// FrameworkError fault.
func (b *Base) ExecuteWith(ctx context.Context, ec *execution.Context, key operation.Key, args []any, obs execution.Observer, ex execution.Executor, tc execution.TimeConstraints) {
	b.dispatch(ctx, ec, key, args, obs, ex, tc)
}

func (b *Base) dispatch(ctx context.Context, ec *execution.Context, key operation.Key, args []any, obs execution.Observer, ex execution.Executor, tc execution.TimeConstraints) {
	b.flight.add()
	b.dispatchAdmitted(ctx, ec, key, args, obs, ex, tc)
}

// dispatchAdmitted runs a request whose in-flight slot is already taken.
// The slot is released when the result is delivered.
func (b *Base) dispatchAdmitted(ctx context.Context, ec *execution.Context, key operation.Key, args []any, obs execution.Observer, ex execution.Executor, tc execution.TimeConstraints) {
	ec = b.prepareContext(ec)
	if b.opts.requestLogger != nil {
		obs = b.opts.requestLogger.Observe(ctx, ec, key, obs)
	}

	once := intercept.NewOnceObserver(execution.ObserverFunc(func(r execution.Result) {
		defer b.flight.done()
		obs.OnResult(r)
	}), b.opts.logger)

	d, ok := b.DefinedExecutable(key)
	if !ok {
		once.OnResult(execution.Fail(fault.Newf(fault.NoSuchOperation, "no such operation %s", key)))
		return
	}
	if tc.Expired(b.opts.clock.Now()) {
		once.OnResult(execution.Fail(fault.Newf(fault.Timeout, "%s expired before dispatch", key)))
		return
	}

	if b.opts.identity != nil {
		chain, err := b.resolveIdentity(ctx, ec)
		if err != nil {
			once.OnResult(execution.Fail(identity.AsFault(err)))
			return
		}
		ec = ec.WithIdentity(chain)
	}

	inv := d.wrapper.Begin(ec, key, args, once)
	if ex == nil {
		if inv.Run(ctx, interceptor.PhaseUnqueued) {
			return
		}
		inv.Proceed(ctx, b.self, tc)
		return
	}

	if inv.Run(ctx, interceptor.PhasePreQueue) {
		return
	}
	err := ex.Execute(func() {
		if tc.Expired(b.opts.clock.Now()) {
			inv.Abort(execution.Fail(fault.Newf(fault.Timeout, "%s expired while queued", key)))
			return
		}
		if inv.Run(ctx, interceptor.PhasePreExecute) {
			return
		}
		inv.Proceed(ctx, b.self, tc)
	})
	if err != nil {
		b.opts.logger.Warn("executor rejected request", "key", key, "err", err)
		inv.Abort(execution.Fail(fault.Wrap(fault.FrameworkError, err)))
	}
}

// prepareContext copies ec, filling the request id and received time.
func (b *Base) prepareContext(ec *execution.Context) *execution.Context {
	var cp execution.Context
	if ec != nil {
		cp = *ec
	}
	if cp.RequestUUID == "" {
		cp.RequestUUID = b.opts.ids.NewID()
	}
	if cp.ReceivedTime.IsZero() {
		cp.ReceivedTime = b.opts.clock.Now()
	}
	if cp.RequestTime.IsZero() {
		cp.RequestTime = cp.ReceivedTime
	}
	return &cp
}

func (b *Base) resolveIdentity(ctx context.Context, ec *execution.Context) (chain *execution.IdentityChain, err error) {
	defer func() {
		if p := recover(); p != nil {
			b.opts.logger.Error("identity resolver panicked", "panic", p)
			chain, err = nil, fault.Newf(fault.SecurityException, "identity resolution failed: %v", p)
		}
	}()
	return b.opts.identity.Resolve(ctx, ec)
}

// Logger returns the venue logger.
func (b *Base) Logger() *log.Logger { return b.opts.logger }

// SPDX-License-Identifier: MPL-2.0

package execution

import (
	"context"
	"fmt"

	"github.com/invowk/cougar/pkg/fault"
	"github.com/invowk/cougar/pkg/operation"
)

type (
	// Venue dispatches operation invocations. Execute never returns an error
	// for domain failures: exactly one Result reaches obs.
	Venue interface {
		Execute(ctx context.Context, ec *Context, key operation.Key, args []any, obs Observer, tc TimeConstraints)

		// ExecuteWith separates queueing from execution: the request is
		// pre-processed on the caller, then run on ex.
		ExecuteWith(ctx context.Context, ec *Context, key operation.Key, args []any, obs Observer, ex Executor, tc TimeConstraints)
	}

	// Executor runs tasks, typically on a worker pool. A non-nil error
	// means the task was rejected and will never run.
	Executor interface {
		Execute(task func()) error
	}

	// ExecutorFunc adapts a function to Executor.
	ExecutorFunc func(task func()) error

	// Executable performs the work of an operation and reports exactly one
	// Result to obs, on any goroutine. ctx is cancelled when the venue has
	// stopped waiting for the result.
	Executable interface {
		Execute(ctx context.Context, ec *Context, key operation.Key, args []any, obs Observer, venue Venue, tc TimeConstraints)
	}

	// ExecutableFunc adapts a function to Executable.
	ExecutableFunc func(ctx context.Context, ec *Context, key operation.Key, args []any, obs Observer, venue Venue, tc TimeConstraints)

	// HandlerFunc is a synchronous operation body.
	HandlerFunc func(ctx context.Context, ec *Context, args []any) (any, error)

	// ExecutableResolver locates the Executable serving a key. A nil
	// return means "not resolvable here" and is not an error.
	ExecutableResolver interface {
		ResolveExecutable(key operation.Key, venue Venue) Executable
	}

	// ExecutableResolverFunc adapts a function to ExecutableResolver.
	ExecutableResolverFunc func(key operation.Key, venue Venue) Executable
)

// Execute calls f(task).
func (f ExecutorFunc) Execute(task func()) error { return f(task) }

// Execute calls f.
func (f ExecutableFunc) Execute(ctx context.Context, ec *Context, key operation.Key, args []any, obs Observer, venue Venue, tc TimeConstraints) {
	f(ctx, ec, key, args, obs, venue, tc)
}

// ResolveExecutable calls f.
func (f ExecutableResolverFunc) ResolveExecutable(key operation.Key, venue Venue) Executable {
	return f(key, venue)
}

// Sync adapts a synchronous handler to Executable. A returned error is
// classified with fault.Classify; a returned *Subscription becomes a
// subscription result; a panic becomes an unchecked fault.
func Sync(h HandlerFunc) Executable {
	return ExecutableFunc(func(ctx context.Context, ec *Context, _ operation.Key, args []any, obs Observer, _ Venue, _ TimeConstraints) {
		obs.OnResult(runHandler(ctx, ec, args, h))
	})
}

func runHandler(ctx context.Context, ec *Context, args []any, h HandlerFunc) (r Result) {
	defer func() {
		if p := recover(); p != nil {
			r = Fail(fault.FromPanic(p))
		}
	}()

	v, err := h(ctx, ec, args)
	if err != nil {
		return FaultOf(err)
	}
	if sub, ok := v.(*Subscription); ok {
		return Subscribed(sub)
	}
	return Success(v)
}

// Arg returns args[i] as T, or a ClassConversionFailure fault.
func Arg[T any](args []any, i int) (T, error) {
	var zero T
	if i < 0 || i >= len(args) {
		return zero, fault.Newf(fault.MandatoryNotDefined, "argument %d not supplied", i)
	}
	v, ok := args[i].(T)
	if !ok {
		return zero, fault.Newf(fault.ClassConversionFailure, "argument %d: expected %T, got %T", i, zero, args[i])
	}
	return v, nil
}

// String returns a short label for logs.
func (tc TimeConstraints) String() string {
	if !tc.Bounded() {
		return "unbounded"
	}
	return fmt.Sprintf("expires %s", tc.Expiry.Format("15:04:05.000"))
}

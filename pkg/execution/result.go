// SPDX-License-Identifier: MPL-2.0

package execution

import (
	"fmt"

	"github.com/invowk/cougar/pkg/fault"
)

const (
	// ResultSuccess carries a value.
	ResultSuccess ResultKind = iota
	// ResultFault carries a *fault.Fault.
	ResultFault
	// ResultSubscription carries a *Subscription.
	ResultSubscription
)

type (
	// ResultKind names the variant held by a Result.
	ResultKind int

	// Result is the outcome of one execution. It holds exactly one of a
	// success value, a fault or a subscription. Construct it with Success,
	// Fail, FaultOf or Subscribed; the zero Result is Success(nil).
	Result struct {
		kind  ResultKind
		value any
		fault *fault.Fault
		sub   *Subscription
	}

	// Observer receives the single result of an execution.
	Observer interface {
		OnResult(Result)
	}

	// ObserverFunc adapts a function to Observer.
	ObserverFunc func(Result)
)

// OnResult calls f(r).
func (f ObserverFunc) OnResult(r Result) { f(r) }

// String returns the variant name.
func (k ResultKind) String() string {
	switch k {
	case ResultSuccess:
		return "success"
	case ResultFault:
		return "fault"
	case ResultSubscription:
		return "subscription"
	default:
		return "unknown"
	}
}

// Success returns a success result carrying v.
func Success(v any) Result {
	return Result{kind: ResultSuccess, value: v}
}

// Fail returns a fault result. A nil fault is reported as a framework error.
func Fail(f *fault.Fault) Result {
	if f == nil {
		f = fault.New(fault.FrameworkError, "nil fault")
	}
	return Result{kind: ResultFault, fault: f}
}

// FaultOf classifies err and returns a fault result.
func FaultOf(err error) Result {
	if err == nil {
		return Fail(nil)
	}
	return Fail(fault.Classify(err))
}

// Subscribed returns a subscription result.
func Subscribed(s *Subscription) Result {
	if s == nil {
		return Fail(fault.New(fault.FrameworkError, "nil subscription"))
	}
	return Result{kind: ResultSubscription, sub: s}
}

// Kind returns the variant held by r.
func (r Result) Kind() ResultKind { return r.kind }

// IsSuccess reports whether r is a success.
func (r Result) IsSuccess() bool { return r.kind == ResultSuccess }

// IsFault reports whether r is a fault.
func (r Result) IsFault() bool { return r.kind == ResultFault }

// IsSubscription reports whether r is a subscription.
func (r Result) IsSubscription() bool { return r.kind == ResultSubscription }

// Value returns the success value, or nil for other variants.
func (r Result) Value() any { return r.value }

// Fault returns the fault, or nil for other variants.
func (r Result) Fault() *fault.Fault { return r.fault }

// Subscription returns the subscription, or nil for other variants.
func (r Result) Subscription() *Subscription { return r.sub }

// String renders the result for logs.
func (r Result) String() string {
	switch r.kind {
	case ResultFault:
		return "fault(" + r.fault.Error() + ")"
	case ResultSubscription:
		return "subscription(" + r.sub.ID() + ")"
	default:
		return fmt.Sprintf("success(%v)", r.value)
	}
}

// Discard closes the subscription carried by a result that will never
// reach its consumer. Other results are left alone.
func Discard(r Result) {
	if r.IsSubscription() && r.sub != nil {
		r.sub.CloseWith(CloseInternalError)
	}
}

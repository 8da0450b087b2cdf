// SPDX-License-Identifier: MPL-2.0

package fault

import (
	"errors"
	"fmt"
)

const (
	// KindFramework marks faults raised by the framework itself.
	KindFramework Kind = iota
	// KindChecked marks declared, expected service failures.
	KindChecked
	// KindUnchecked marks unexpected service failures.
	KindUnchecked
)

type (
	// Kind classifies the origin of a Fault.
	Kind int

	// Fault is a classified failure delivered to callers. It is an error.
	Fault struct {
		code    Code
		kind    Kind
		message string
		cause   error
	}
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindFramework:
		return "framework"
	case KindChecked:
		return "checked"
	case KindUnchecked:
		return "unchecked"
	default:
		return "unknown"
	}
}

// New returns a framework fault with the given code and message.
func New(code Code, message string) *Fault {
	return &Fault{code: code, kind: KindFramework, message: message}
}

// Newf is New with a format string.
func Newf(code Code, format string, args ...any) *Fault {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap returns a framework fault with the given code caused by err.
func Wrap(code Code, err error) *Fault {
	f := &Fault{code: code, kind: KindFramework, cause: err}
	if err != nil {
		f.message = err.Error()
	}
	return f
}

// Checked marks err as a declared service failure.
// The resulting fault carries ServiceCheckedException.
func Checked(err error) *Fault {
	f := Wrap(ServiceCheckedException, err)
	f.kind = KindChecked
	return f
}

// Unchecked marks err as an unexpected service failure.
// The resulting fault carries ServiceRuntimeException.
func Unchecked(err error) *Fault {
	f := Wrap(ServiceRuntimeException, err)
	f.kind = KindUnchecked
	return f
}

// FromPanic converts a recovered panic value into an unchecked fault.
func FromPanic(v any) *Fault {
	if err, ok := v.(error); ok {
		return Unchecked(fmt.Errorf("panic: %w", err))
	}
	return Unchecked(fmt.Errorf("panic: %v", v))
}

// Classify returns the Fault in err's chain if there is one, otherwise an
// unchecked fault wrapping err. A nil err yields nil.
func Classify(err error) *Fault {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return Unchecked(err)
}

// Code returns the fault code.
func (f *Fault) Code() Code { return f.code }

// Kind returns the fault kind.
func (f *Fault) Kind() Kind { return f.kind }

// Message returns the human-readable message.
func (f *Fault) Message() string { return f.message }

// Error implements the error interface.
func (f *Fault) Error() string {
	if f.message == "" {
		return fmt.Sprintf("%s (%s)", f.code, f.code.Detail())
	}
	return fmt.Sprintf("%s (%s): %s", f.code, f.code.Detail(), f.message)
}

// Unwrap returns the underlying cause.
func (f *Fault) Unwrap() error { return f.cause }

// Is matches another *Fault with the same code, so errors.Is(err, fault.New(Timeout, ""))
// tests for a code.
func (f *Fault) Is(target error) bool {
	var t *Fault
	if !errors.As(target, &t) {
		return false
	}
	return t.code == f.code
}

// HasCode reports whether err carries a Fault with the given code.
func HasCode(err error, code Code) bool {
	var f *Fault
	return errors.As(err, &f) && f.code == code
}

// SPDX-License-Identifier: MPL-2.0

package venue

import (
	"errors"
	"fmt"

	"github.com/invowk/cougar/pkg/operation"
)

var (
	// ErrDuplicateOperation is returned when a key is registered twice in one namespace.
	ErrDuplicateOperation = errors.New("operation already registered")
	// ErrUnresolvableExecutable is returned when a service resolver has no executable for an operation.
	ErrUnresolvableExecutable = errors.New("no executable for operation")
)

type (
	// DuplicateOperationError names the key registered twice.
	// It wraps ErrDuplicateOperation for errors.Is() compatibility.
	DuplicateOperationError struct {
		Key operation.Key
	}

	// UnresolvableExecutableError names the operation a resolver could not serve.
	UnresolvableExecutableError struct {
		Key operation.Key
	}
)

// Error implements the error interface.
func (e *DuplicateOperationError) Error() string {
	ns := e.Key.Namespace()
	if ns == operation.DefaultNamespace {
		ns = "default"
	}
	return fmt.Sprintf("operation %s already registered in namespace %s", e.Key.LocalKey(), ns)
}

// Unwrap returns ErrDuplicateOperation.
func (e *DuplicateOperationError) Unwrap() error { return ErrDuplicateOperation }

// Error implements the error interface.
func (e *UnresolvableExecutableError) Error() string {
	return fmt.Sprintf("no executable resolved for %s", e.Key)
}

// Unwrap returns ErrUnresolvableExecutable.
func (e *UnresolvableExecutableError) Unwrap() error { return ErrUnresolvableExecutable }

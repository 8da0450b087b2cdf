// SPDX-License-Identifier: MPL-2.0

package health

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	StatusOK   Status = "OK"
	StatusWarn Status = "WARN"
	StatusFail Status = "FAIL"
)

// ErrInvalidStatus is returned for an unknown Status.
var ErrInvalidStatus = errors.New("invalid health status")

type (
	// Status is the health of a component or of the whole venue.
	Status string

	// InvalidStatusError is returned when a Status value is not recognized.
	InvalidStatusError struct {
		Value Status
	}

	// ComponentStatus is the result of one check.
	ComponentStatus struct {
		Name    string `json:"name" yaml:"name"`
		Status  Status `json:"status" yaml:"status"`
		Message string `json:"message,omitempty" yaml:"message,omitempty"`
	}

	// Summary is the isHealthy response.
	Summary struct {
		Status Status `json:"status" yaml:"status"`
	}

	// Detail is the getDetailedHealthStatus response.
	Detail struct {
		Status     Status            `json:"status" yaml:"status"`
		CheckedAt  time.Time         `json:"checked_at" yaml:"checked_at"`
		Components []ComponentStatus `json:"components" yaml:"components"`
	}

	// Checker reports the health of one component.
	Checker interface {
		Name() string
		Check(ctx context.Context) ComponentStatus
	}

	checkerFunc struct {
		name string
		fn   func(ctx context.Context) (Status, string)
	}
)

// Validate returns an error if s is not a known status.
func (s Status) Validate() error {
	switch s {
	case StatusOK, StatusWarn, StatusFail:
		return nil
	default:
		return &InvalidStatusError{Value: s}
	}
}

func (s Status) severity() int {
	switch s {
	case StatusOK:
		return 0
	case StatusWarn:
		return 1
	default:
		return 2
	}
}

// Worst returns the more severe of a and b. Unknown values count as FAIL.
func Worst(a, b Status) Status {
	if b.severity() > a.severity() {
		return b
	}
	return a
}

// Error implements the error interface.
func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid health status %q (valid: OK, WARN, FAIL)", e.Value)
}

// Unwrap returns ErrInvalidStatus.
func (e *InvalidStatusError) Unwrap() error { return ErrInvalidStatus }

// CheckFunc adapts fn into a Checker called name.
func CheckFunc(name string, fn func(ctx context.Context) (Status, string)) Checker {
	return &checkerFunc{name: name, fn: fn}
}

func (c *checkerFunc) Name() string { return c.name }

func (c *checkerFunc) Check(ctx context.Context) ComponentStatus {
	st, msg := c.fn(ctx)
	return ComponentStatus{Name: c.name, Status: st, Message: msg}
}

// SPDX-License-Identifier: MPL-2.0

package operation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidVersion is returned when a version string cannot be parsed.
var ErrInvalidVersion = errors.New("invalid version")

type (
	// Version is the major/minor/patch triple of a service interface.
	// Only major and minor participate in the textual form unless Patch is set.
	Version struct {
		Major int
		Minor int
		Patch int
	}

	// InvalidVersionError describes a version string that failed to parse.
	// It wraps ErrInvalidVersion for errors.Is() compatibility.
	InvalidVersionError struct {
		Value  string
		Reason string
	}
)

// NewVersion returns a version with the given major and minor numbers.
func NewVersion(major, minor int) Version {
	return Version{Major: major, Minor: minor}
}

// ParseVersion parses "v1.0", "1.0" or "v1.0.3".
func ParseVersion(s string) (Version, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "v")
	parts := strings.Split(trimmed, ".")
	if len(parts) < 2 || len(parts) > 3 {
		return Version{}, &InvalidVersionError{Value: s, Reason: "expected MAJOR.MINOR[.PATCH]"}
	}

	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, &InvalidVersionError{Value: s, Reason: fmt.Sprintf("component %q is not a non-negative integer", p)}
		}
		nums[i] = n
	}

	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// String returns the canonical "vMAJOR.MINOR" form, with ".PATCH" appended when non-zero.
func (v Version) String() string {
	if v.Patch != 0 {
		return fmt.Sprintf("v%d.%d.%d", v.Major, v.Minor, v.Patch)
	}
	return fmt.Sprintf("v%d.%d", v.Major, v.Minor)
}

// Compatible reports whether a caller built against other can use v.
// Major versions must match and v must not be older than other.
func (v Version) Compatible(other Version) bool {
	if v.Major != other.Major {
		return false
	}
	return v.Minor >= other.Minor
}

// Error implements the error interface.
func (e *InvalidVersionError) Error() string {
	return fmt.Sprintf("invalid version %q: %s", e.Value, e.Reason)
}

// Unwrap returns ErrInvalidVersion for errors.Is() compatibility.
func (e *InvalidVersionError) Unwrap() error {
	return ErrInvalidVersion
}

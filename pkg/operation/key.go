// SPDX-License-Identifier: MPL-2.0

package operation

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// KindRequest is a request/response operation.
	KindRequest Kind = iota
	// KindEvent is a one-way event operation.
	KindEvent
)

const (
	// DefaultNamespace is the empty namespace used when none is given.
	DefaultNamespace = ""

	eventSuffix = "#event"
)

var (
	// ErrInvalidKind is returned when a Kind value is not recognized.
	ErrInvalidKind = errors.New("invalid operation kind")
	// ErrInvalidKey is returned when a key is incomplete or cannot be parsed.
	ErrInvalidKey = errors.New("invalid operation key")
)

type (
	// Kind distinguishes request operations from events.
	Kind int

	// Key identifies an operation. It is an immutable, comparable value.
	Key struct {
		version   Version
		service   string
		operation string
		kind      Kind
		namespace string
	}

	// InvalidKindError is returned when a Kind value is not recognized.
	InvalidKindError struct {
		Value Kind
	}

	// InvalidKeyError describes a malformed key.
	// It wraps ErrInvalidKey for errors.Is() compatibility.
	InvalidKeyError struct {
		Value  string
		Reason string
	}
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Validate returns an error wrapping ErrInvalidKind for undefined kinds.
func (k Kind) Validate() error {
	switch k {
	case KindRequest, KindEvent:
		return nil
	default:
		return &InvalidKindError{Value: k}
	}
}

// Error implements the error interface.
func (e *InvalidKindError) Error() string {
	return fmt.Sprintf("invalid operation kind %d (valid: 0=request, 1=event)", e.Value)
}

// Unwrap returns ErrInvalidKind.
func (e *InvalidKindError) Unwrap() error { return ErrInvalidKind }

// Error implements the error interface.
func (e *InvalidKeyError) Error() string {
	return fmt.Sprintf("invalid operation key %q: %s", e.Value, e.Reason)
}

// Unwrap returns ErrInvalidKey.
func (e *InvalidKeyError) Unwrap() error { return ErrInvalidKey }

// NewKey returns a request key in the default namespace.
func NewKey(version Version, service, op string) Key {
	return Key{version: version, service: service, operation: op, kind: KindRequest}
}

// NewEventKey returns an event key in the default namespace.
func NewEventKey(version Version, service, op string) Key {
	return Key{version: version, service: service, operation: op, kind: KindEvent}
}

// ParseKey parses the String form of a key: "[ns:]Service/vX.Y/op[#event]".
func ParseKey(s string) (Key, error) {
	rest := strings.TrimSpace(s)
	if rest == "" {
		return Key{}, &InvalidKeyError{Value: s, Reason: "empty"}
	}

	kind := KindRequest
	if trimmed, ok := strings.CutSuffix(rest, eventSuffix); ok {
		kind = KindEvent
		rest = trimmed
	}

	var namespace string
	if ns, tail, ok := strings.Cut(rest, ":"); ok {
		if ns == "" {
			return Key{}, &InvalidKeyError{Value: s, Reason: "empty namespace before ':'"}
		}
		namespace, rest = ns, tail
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return Key{}, &InvalidKeyError{Value: s, Reason: "expected Service/version/operation"}
	}

	version, err := ParseVersion(parts[1])
	if err != nil {
		return Key{}, &InvalidKeyError{Value: s, Reason: err.Error()}
	}

	k := Key{version: version, service: parts[0], operation: parts[2], kind: kind, namespace: namespace}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

// MustParseKey is like ParseKey but panics on error. Intended for tests and
// package-level definitions.
func MustParseKey(s string) Key {
	k, err := ParseKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

// Version returns the service interface version.
func (k Key) Version() Version { return k.version }

// Service returns the service name.
func (k Key) Service() string { return k.service }

// Operation returns the operation name.
func (k Key) Operation() string { return k.operation }

// Kind returns the operation kind.
func (k Key) Kind() Kind { return k.kind }

// Namespace returns the namespace, or DefaultNamespace.
func (k Key) Namespace() string { return k.namespace }

// IsZero reports whether k is the zero key.
func (k Key) IsZero() bool { return k == Key{} }

// WithNamespace returns a copy of k under namespace ns.
func (k Key) WithNamespace(ns string) Key {
	k.namespace = ns
	return k
}

// WithKind returns a copy of k with the given kind.
func (k Key) WithKind(kind Kind) Key {
	k.kind = kind
	return k
}

// LocalKey returns k stripped of its namespace.
func (k Key) LocalKey() Key {
	return k.WithNamespace(DefaultNamespace)
}

// ConfigKey returns the "Service/vX.Y/op" form used for per-operation
// configuration, prefixed with "namespace:" when qualified is true and the
// key has a namespace.
func (k Key) ConfigKey(qualified bool) string {
	base := k.service + "/" + k.version.String() + "/" + k.operation
	if qualified && k.namespace != "" {
		return k.namespace + ":" + base
	}
	return base
}

// String returns "[ns:]Service/vX.Y/op", suffixed with "#event" for events.
func (k Key) String() string {
	s := k.ConfigKey(true)
	if k.kind == KindEvent {
		s += eventSuffix
	}
	return s
}

// Validate checks that service and operation names are present and
// contain no separator characters.
func (k Key) Validate() error {
	if err := k.kind.Validate(); err != nil {
		return err
	}
	names := [...]struct{ label, value string }{{"service", k.service}, {"operation", k.operation}}
	for _, n := range names {
		if n.value == "" {
			return &InvalidKeyError{Value: k.String(), Reason: n.label + " name is empty"}
		}
		if strings.ContainsAny(n.value, "/:#") {
			return &InvalidKeyError{Value: k.String(), Reason: n.label + " name contains a separator"}
		}
	}
	if strings.ContainsAny(k.namespace, "/:#") {
		return &InvalidKeyError{Value: k.String(), Reason: "namespace contains a separator"}
	}
	return nil
}

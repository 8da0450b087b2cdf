// SPDX-License-Identifier: MPL-2.0

package operation

import (
	"errors"
	"fmt"
)

// ErrInvalidDefinition is returned when an operation or service definition is malformed.
var ErrInvalidDefinition = errors.New("invalid definition")

type (
	// Parameter describes one positional argument of an operation.
	Parameter struct {
		Name      string `json:"name" yaml:"name"`
		Type      string `json:"type" yaml:"type"`
		Mandatory bool   `json:"mandatory" yaml:"mandatory"`
	}

	// Definition describes a single operation: its key, parameters and return type.
	Definition struct {
		Key        Key
		Parameters []Parameter
		ReturnType string
	}

	// Service describes a service interface: a name, version and the
	// operations it declares. Operation keys must belong to the service.
	Service struct {
		Name       string
		Version    Version
		Operations []Definition
	}

	// InvalidDefinitionError describes a malformed definition.
	// It wraps ErrInvalidDefinition for errors.Is() compatibility.
	InvalidDefinitionError struct {
		Subject string
		Reason  string
	}
)

// Error implements the error interface.
func (e *InvalidDefinitionError) Error() string {
	return fmt.Sprintf("invalid definition %s: %s", e.Subject, e.Reason)
}

// Unwrap returns ErrInvalidDefinition.
func (e *InvalidDefinitionError) Unwrap() error { return ErrInvalidDefinition }

// Validate checks the key and that parameter names are unique and non-empty.
func (d Definition) Validate() error {
	if err := d.Key.Validate(); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(d.Parameters))
	for i, p := range d.Parameters {
		if p.Name == "" {
			return &InvalidDefinitionError{Subject: d.Key.String(), Reason: fmt.Sprintf("parameter %d has no name", i)}
		}
		if _, dup := seen[p.Name]; dup {
			return &InvalidDefinitionError{Subject: d.Key.String(), Reason: fmt.Sprintf("duplicate parameter %q", p.Name)}
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

// ParameterIndex returns the position of the named parameter, or -1.
func (d Definition) ParameterIndex(name string) int {
	for i, p := range d.Parameters {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// String returns "Name/vX.Y".
func (s Service) String() string {
	return s.Name + "/" + s.Version.String()
}

// Lookup returns the definition of the named operation.
func (s Service) Lookup(op string) (Definition, bool) {
	for _, d := range s.Operations {
		if d.Key.Operation() == op {
			return d, true
		}
	}
	return Definition{}, false
}

// Validate checks every operation and that each belongs to the service.
func (s Service) Validate() error {
	if s.Name == "" {
		return &InvalidDefinitionError{Subject: s.String(), Reason: "service name is empty"}
	}
	if len(s.Operations) == 0 {
		return &InvalidDefinitionError{Subject: s.String(), Reason: "service declares no operations"}
	}

	seen := make(map[Key]struct{}, len(s.Operations))
	for _, d := range s.Operations {
		if err := d.Validate(); err != nil {
			return err
		}
		k := d.Key
		if k.Service() != s.Name || k.Version() != s.Version {
			return &InvalidDefinitionError{Subject: s.String(), Reason: fmt.Sprintf("operation %s belongs to another service", k)}
		}
		if k.Namespace() != DefaultNamespace {
			return &InvalidDefinitionError{Subject: s.String(), Reason: fmt.Sprintf("operation %s must not carry a namespace", k)}
		}
		if _, dup := seen[k]; dup {
			return &InvalidDefinitionError{Subject: s.String(), Reason: fmt.Sprintf("operation %s declared twice", k)}
		}
		seen[k] = struct{}{}
	}
	return nil
}

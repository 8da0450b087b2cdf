// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/invowk/cougar/pkg/execution"
	"github.com/invowk/cougar/pkg/operation"
)

// ErrDuplicateNamespace is returned when a namespace is added to a Compound twice.
var ErrDuplicateNamespace = errors.New("namespace already has a resolver")

type (
	// Compound delegates to the resolver registered for a key's namespace.
	// A key whose namespace has no resolver, or whose delegate returns nil,
	// resolves to nil.
	Compound struct {
		mu        sync.RWMutex
		resolvers map[string]execution.ExecutableResolver
	}

	// Static resolves the operations of one service from a fixed table.
	// Bind every operation before handing it to a venue.
	Static struct {
		service operation.Service
		table   map[string]execution.Executable
	}
)

// NewCompound returns an empty Compound.
func NewCompound() *Compound {
	return &Compound{resolvers: make(map[string]execution.ExecutableResolver)}
}

// Add routes keys in namespace to r.
func (c *Compound) Add(namespace string, r execution.ExecutableResolver) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.resolvers[namespace]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateNamespace, namespace)
	}
	c.resolvers[namespace] = r
	return nil
}

// Remove drops the resolver for namespace, reporting whether one existed.
func (c *Compound) Remove(namespace string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.resolvers[namespace]
	delete(c.resolvers, namespace)
	return ok
}

// Namespaces returns the routed namespaces in sorted order.
func (c *Compound) Namespaces() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.resolvers))
	for ns := range c.resolvers {
		out = append(out, ns)
	}
	slices.Sort(out)
	return out
}

// ResolveExecutable implements execution.ExecutableResolver.
func (c *Compound) ResolveExecutable(key operation.Key, venue execution.Venue) execution.Executable {
	c.mu.RLock()
	r, ok := c.resolvers[key.Namespace()]
	c.mu.RUnlock()
	if !ok || r == nil {
		return nil
	}
	return r.ResolveExecutable(key, venue)
}

// NewStatic returns a resolver for svc with no operations bound yet.
func NewStatic(svc operation.Service) *Static {
	return &Static{service: svc, table: make(map[string]execution.Executable)}
}

// Service returns the service this resolver serves.
func (s *Static) Service() operation.Service { return s.service }

// Bind serves op with exec. op must be declared by the service.
func (s *Static) Bind(op string, exec execution.Executable) *Static {
	if _, ok := s.service.Lookup(op); !ok {
		panic(fmt.Sprintf("resolver: %s declares no operation %q", s.service, op))
	}
	s.table[op] = exec
	return s
}

// Handle serves op with a synchronous handler.
func (s *Static) Handle(op string, h execution.HandlerFunc) *Static {
	return s.Bind(op, execution.Sync(h))
}

// Unbound lists declared operations that have no executable.
func (s *Static) Unbound() []string {
	var out []string
	for _, d := range s.service.Operations {
		if _, ok := s.table[d.Key.Operation()]; !ok {
			out = append(out, d.Key.Operation())
		}
	}
	return out
}

// ResolveExecutable implements execution.ExecutableResolver. Keys of other
// services or incompatible versions resolve to nil; the namespace is ignored.
func (s *Static) ResolveExecutable(key operation.Key, _ execution.Venue) execution.Executable {
	if key.Service() != s.service.Name || !s.service.Version.Compatible(key.Version()) {
		return nil
	}
	return s.table[key.Operation()]
}

// SPDX-License-Identifier: MPL-2.0

// Package ids generates request and subscription identifiers. Generators
// are passed to the components that need them; there is no package-level
// generator.
package ids

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

type (
	// Generator returns a new unique identifier on each call.
	Generator interface {
		NewID() string
	}

	// UUID generates random version 4 UUIDs.
	UUID struct{}

	// Sequence generates "<prefix>-<n>" identifiers from a counter.
	// It is deterministic and intended for tests.
	Sequence struct {
		prefix string
		next   atomic.Uint64
	}
)

// NewID returns a random UUID string.
func (UUID) NewID() string { return uuid.NewString() }

// NewSequence returns a Sequence starting at 1.
func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

// NewID returns the next identifier.
func (s *Sequence) NewID() string {
	return fmt.Sprintf("%s-%d", s.prefix, s.next.Add(1))
}

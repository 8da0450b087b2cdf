// SPDX-License-Identifier: MPL-2.0

package execution

import (
	"time"
)

type (
	// IdentityToken is a raw credential presented by the caller, such as a
	// bearer token or an API key header value.
	IdentityToken struct {
		Name  string
		Value string
	}

	// Identity is one resolved principal.
	Identity struct {
		Principal  string
		Credential string
	}

	// IdentityChain is the ordered set of identities a request acts as.
	IdentityChain struct {
		Identities []Identity
	}

	// Context describes the caller of one execution. It is created by the
	// transport and enriched by the venue (identity resolution).
	// A Context is not safe for concurrent mutation; With* methods copy.
	Context struct {
		RequestUUID    string
		ReceivedTime   time.Time
		RequestTime    time.Time
		Location       string
		IdentityTokens []IdentityToken
		Identity       *IdentityChain

		// TraceLoggingEnabled requests verbose logging for this request.
		TraceLoggingEnabled bool
	}
)

// Principal returns the first principal in the chain, or "".
func (c *IdentityChain) Principal() string {
	if c == nil || len(c.Identities) == 0 {
		return ""
	}
	return c.Identities[0].Principal
}

// WithIdentity returns a copy of c with the resolved identity chain set.
func (c *Context) WithIdentity(chain *IdentityChain) *Context {
	cp := *c
	cp.Identity = chain
	return &cp
}

// WithRequestUUID returns a copy of c carrying id.
func (c *Context) WithRequestUUID(id string) *Context {
	cp := *c
	cp.RequestUUID = id
	return &cp
}

// TimeConstraints bounds how long a request remains worth executing.
// The zero value imposes no constraint.
type TimeConstraints struct {
	Expiry time.Time
}

// NoConstraints is the zero TimeConstraints.
var NoConstraints = TimeConstraints{}

// ExpiresIn returns constraints expiring d after now.
func ExpiresIn(now time.Time, d time.Duration) TimeConstraints {
	return TimeConstraints{Expiry: now.Add(d)}
}

// Bounded reports whether an expiry is set.
func (tc TimeConstraints) Bounded() bool { return !tc.Expiry.IsZero() }

// Expired reports whether the expiry is set and not after now.
func (tc TimeConstraints) Expired(now time.Time) bool {
	return tc.Bounded() && !tc.Expiry.After(now)
}

// Remaining returns the time left until expiry, or 0 when unbounded or expired.
func (tc TimeConstraints) Remaining(now time.Time) time.Duration {
	if !tc.Bounded() {
		return 0
	}
	if d := tc.Expiry.Sub(now); d > 0 {
		return d
	}
	return 0
}

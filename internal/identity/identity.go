// SPDX-License-Identifier: MPL-2.0

// Package identity resolves the identity tokens presented by a caller into
// an identity chain before any pre-processor runs.
package identity

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/invowk/cougar/pkg/execution"
	"github.com/invowk/cougar/pkg/fault"
)

type (
	// Resolver turns a request context into an identity chain. A returned
	// *fault.Fault keeps its code; any other error is a SecurityException.
	Resolver interface {
		Resolve(ctx context.Context, ec *execution.Context) (*execution.IdentityChain, error)
	}

	// ResolverFunc adapts a function to Resolver.
	ResolverFunc func(ctx context.Context, ec *execution.Context) (*execution.IdentityChain, error)

	// Anonymous resolves every request to an empty chain.
	Anonymous struct{}

	// Cached memoizes successful resolutions of an inner Resolver keyed by
	// location and token set. Failures are never cached.
	Cached struct {
		inner Resolver
		cache *ttlcache.Cache[string, *execution.IdentityChain]
	}

	// LocationFilter rejects requests without a location, or from a banned
	// location, before delegating to an inner Resolver.
	LocationFilter struct {
		inner           Resolver
		banned          []string
		requireLocation bool
	}
)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, ec *execution.Context) (*execution.IdentityChain, error) {
	return f(ctx, ec)
}

// Resolve returns an empty chain.
func (Anonymous) Resolve(context.Context, *execution.Context) (*execution.IdentityChain, error) {
	return &execution.IdentityChain{}, nil
}

// AsFault converts a resolver error into the fault reported to the caller.
func AsFault(err error) *fault.Fault {
	var f *fault.Fault
	if errors.As(err, &f) {
		return f
	}
	return fault.Wrap(fault.SecurityException, err)
}

// NewCached wraps inner with a cache of the given TTL and capacity
// (0 means unbounded). Call Stop to release the expiry goroutine.
func NewCached(inner Resolver, ttl time.Duration, capacity uint64) *Cached {
	opts := []ttlcache.Option[string, *execution.IdentityChain]{
		ttlcache.WithTTL[string, *execution.IdentityChain](ttl),
		ttlcache.WithDisableTouchOnHit[string, *execution.IdentityChain](),
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, *execution.IdentityChain](capacity))
	}
	cache := ttlcache.New[string, *execution.IdentityChain](opts...)
	go cache.Start()
	return &Cached{inner: inner, cache: cache}
}

// Resolve returns a cached chain or resolves and caches a new one.
// Requests without tokens bypass the cache.
func (c *Cached) Resolve(ctx context.Context, ec *execution.Context) (*execution.IdentityChain, error) {
	if len(ec.IdentityTokens) == 0 {
		return c.inner.Resolve(ctx, ec)
	}

	k := cacheKey(ec)
	if item := c.cache.Get(k); item != nil {
		return item.Value(), nil
	}

	chain, err := c.inner.Resolve(ctx, ec)
	if err != nil {
		return nil, err
	}
	c.cache.Set(k, chain, ttlcache.DefaultTTL)
	return chain, nil
}

// Len returns the number of cached chains.
func (c *Cached) Len() int { return c.cache.Len() }

// Stop stops the cache's expiry loop.
func (c *Cached) Stop() { c.cache.Stop() }

func cacheKey(ec *execution.Context) string {
	parts := make([]string, 0, len(ec.IdentityTokens))
	for _, tok := range ec.IdentityTokens {
		parts = append(parts, tok.Name+"="+tok.Value)
	}
	slices.Sort(parts)
	return ec.Location + "|" + strings.Join(parts, "\x00")
}

// NewLocationFilter returns a filter delegating to inner.
func NewLocationFilter(inner Resolver, requireLocation bool, banned ...string) *LocationFilter {
	return &LocationFilter{inner: inner, banned: slices.Clone(banned), requireLocation: requireLocation}
}

// Resolve checks the request location, then delegates.
func (f *LocationFilter) Resolve(ctx context.Context, ec *execution.Context) (*execution.IdentityChain, error) {
	if ec.Location == "" {
		if f.requireLocation {
			return nil, fault.New(fault.NoLocationSupplied, "request carries no location")
		}
	} else if slices.Contains(f.banned, ec.Location) {
		return nil, fault.Newf(fault.BannedLocation, "location %s is banned", ec.Location)
	}
	return f.inner.Resolve(ctx, ec)
}

// PrincipalTokens resolves each token whose name is listed (matched
// case-insensitively) to an identity with that token's value as principal.
// Listed tokens with an empty value are rejected as InvalidCredentials.
type PrincipalTokens []string

// Resolve builds the chain in token order.
func (p PrincipalTokens) Resolve(_ context.Context, ec *execution.Context) (*execution.IdentityChain, error) {
	chain := &execution.IdentityChain{}
	for _, tok := range ec.IdentityTokens {
		if !slices.ContainsFunc(p, func(name string) bool { return strings.EqualFold(name, tok.Name) }) {
			continue
		}
		if tok.Value == "" {
			return nil, fault.Newf(fault.InvalidCredentials, "empty %s token", tok.Name)
		}
		chain.Identities = append(chain.Identities, execution.Identity{Principal: tok.Value, Credential: tok.Name})
	}
	return chain, nil
}

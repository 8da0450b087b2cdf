// SPDX-License-Identifier: MPL-2.0

package identity

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/invowk/cougar/pkg/execution"
	"github.com/invowk/cougar/pkg/fault"
)

func countingResolver(calls *atomic.Int32) Resolver {
	return ResolverFunc(func(_ context.Context, ec *execution.Context) (*execution.IdentityChain, error) {
		calls.Add(1)
		for _, tok := range ec.IdentityTokens {
			if tok.Value == "bad" {
				return nil, errors.New("unrecognised token")
			}
		}
		return &execution.IdentityChain{Identities: []execution.Identity{{Principal: ec.IdentityTokens[0].Value}}}, nil
	})
}

func TestAsFault(t *testing.T) {
	t.Parallel()

	if f := AsFault(errors.New("nope")); f.Code() != fault.SecurityException {
		t.Errorf("plain error code = %s", f.Code())
	}
	if f := AsFault(fault.New(fault.InvalidCredentials, "")); f.Code() != fault.InvalidCredentials {
		t.Errorf("fault code = %s", f.Code())
	}
}

func TestCached(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := NewCached(countingResolver(&calls), time.Minute, 10)
	t.Cleanup(c.Stop)

	ctx := context.Background()
	ec := &execution.Context{Location: "1.2.3.4", IdentityTokens: []execution.IdentityToken{{Name: "a", Value: "alice"}, {Name: "b", Value: "x"}}}
	reordered := &execution.Context{Location: "1.2.3.4", IdentityTokens: []execution.IdentityToken{{Name: "b", Value: "x"}, {Name: "a", Value: "alice"}}}

	for _, in := range []*execution.Context{ec, ec, reordered} {
		chain, err := c.Resolve(ctx, in)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if chain.Principal() == "" {
			t.Error("expected a principal")
		}
	}
	if calls.Load() != 1 {
		t.Errorf("inner resolver called %d times, want 1", calls.Load())
	}

	bad := &execution.Context{IdentityTokens: []execution.IdentityToken{{Name: "a", Value: "bad"}}}
	for range 2 {
		if _, err := c.Resolve(ctx, bad); err == nil {
			t.Fatal("expected failure")
		}
	}
	if calls.Load() != 3 {
		t.Errorf("failures must not be cached, calls = %d", calls.Load())
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestCachedBypassWithoutTokens(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	inner := ResolverFunc(func(context.Context, *execution.Context) (*execution.IdentityChain, error) {
		calls.Add(1)
		return &execution.IdentityChain{}, nil
	})
	c := NewCached(inner, time.Minute, 0)
	t.Cleanup(c.Stop)

	for range 3 {
		if _, err := c.Resolve(context.Background(), &execution.Context{}); err != nil {
			t.Fatal(err)
		}
	}
	if calls.Load() != 3 || c.Len() != 0 {
		t.Errorf("calls = %d, len = %d", calls.Load(), c.Len())
	}
}

func TestLocationFilter(t *testing.T) {
	t.Parallel()

	f := NewLocationFilter(Anonymous{}, true, "6.6.6.6")
	ctx := context.Background()

	tests := []struct {
		location string
		wantCode fault.Code
	}{
		{"", fault.NoLocationSupplied},
		{"6.6.6.6", fault.BannedLocation},
		{"1.1.1.1", ""},
	}
	for _, tt := range tests {
		_, err := f.Resolve(ctx, &execution.Context{Location: tt.location})
		if tt.wantCode == "" {
			if err != nil {
				t.Errorf("location %q: unexpected error %v", tt.location, err)
			}
			continue
		}
		if got := AsFault(err).Code(); got != tt.wantCode {
			t.Errorf("location %q: code = %s, want %s", tt.location, got, tt.wantCode)
		}
	}

	lenient := NewLocationFilter(Anonymous{}, false)
	if _, err := lenient.Resolve(ctx, &execution.Context{}); err != nil {
		t.Errorf("lenient filter rejected empty location: %v", err)
	}
}

func TestPrincipalTokens(t *testing.T) {
	t.Parallel()

	r := PrincipalTokens{"User", "SSH-Principal"}
	ec := &execution.Context{IdentityTokens: []execution.IdentityToken{
		{Name: "Authorization", Value: "Bearer x"},
		{Name: "ssh-principal", Value: "alice"},
		{Name: "User", Value: "bob"},
	}}

	chain, err := r.Resolve(context.Background(), ec)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got := chain.Principal(); got != "alice" {
		t.Errorf("Principal() = %q, want alice", got)
	}
	if len(chain.Identities) != 2 || chain.Identities[1].Credential != "User" {
		t.Errorf("Identities = %+v", chain.Identities)
	}

	_, err = r.Resolve(context.Background(), &execution.Context{IdentityTokens: []execution.IdentityToken{{Name: "User"}}})
	if !fault.HasCode(err, fault.InvalidCredentials) {
		t.Errorf("empty token error = %v, want InvalidCredentials", err)
	}

	chain, err = r.Resolve(context.Background(), &execution.Context{})
	if err != nil || chain.Principal() != "" {
		t.Errorf("no tokens = %+v, %v", chain, err)
	}
}

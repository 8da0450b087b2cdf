// SPDX-License-Identifier: MPL-2.0

package sshcmd

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/charmbracelet/ssh"
	"github.com/jellydator/ttlcache/v3"
)

const principalKey = "cougar.principal"

type (
	// Token is a password credential bound to a principal.
	Token struct {
		Value     string
		Principal string
		ExpiresAt time.Time
	}

	tokenStore struct {
		cache *ttlcache.Cache[string, *Token]
	}
)

func newTokenStore(ttl time.Duration) *tokenStore {
	cache := ttlcache.New[string, *Token](
		ttlcache.WithTTL[string, *Token](ttl),
		ttlcache.WithDisableTouchOnHit[string, *Token](),
	)
	return &tokenStore{cache: cache}
}

// IssueToken creates a token that authenticates as principal until it
// expires.
func (s *Server) IssueToken(principal string) (*Token, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	tok := &Token{
		Value:     hex.EncodeToString(b),
		Principal: principal,
		ExpiresAt: time.Now().Add(s.cfg.TokenTTL),
	}
	s.tokens.cache.Set(tok.Value, tok, ttlcache.DefaultTTL)
	s.logger.Debug("issued token", "principal", principal)
	return tok, nil
}

// RevokeToken invalidates a token.
func (s *Server) RevokeToken(value string) {
	s.tokens.cache.Delete(value)
}

func (s *Server) passwordHandler(ctx ssh.Context, password string) bool {
	item := s.tokens.cache.Get(password)
	if item == nil || item.IsExpired() {
		if s.cfg.AllowAnonymous {
			return true
		}
		s.logger.Warn("rejected token", "user", ctx.User(), "remote", ctx.RemoteAddr())
		return false
	}
	ctx.SetValue(principalKey, item.Value().Principal)
	return true
}

// publicKeyHandler admits any key as an anonymous caller when anonymous
// access is allowed, and rejects keys otherwise.
func (s *Server) publicKeyHandler(ssh.Context, ssh.PublicKey) bool {
	return s.cfg.AllowAnonymous
}

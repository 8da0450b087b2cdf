// SPDX-License-Identifier: MPL-2.0

package sshcmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"

	"github.com/invowk/cougar/internal/core/serverbase"
	"github.com/invowk/cougar/internal/transport/jsonrpc"
	"github.com/invowk/cougar/pkg/execution"
)

type (
	// Config holds the SSH listener settings.
	Config struct {
		// Addr is the listen address; port 0 picks a free port.
		Addr string
		// HostKeyPath is a PEM host key, created if missing. Empty means an
		// ephemeral key per start.
		HostKeyPath string
		// TokenTTL is how long issued tokens stay valid.
		TokenTTL time.Duration
		// AllowAnonymous admits callers without a token.
		AllowAnonymous bool
	}

	// Server runs venue operations for SSH sessions.
	Server struct {
		*serverbase.Lifecycle

		cfg      Config
		venue    execution.Venue
		defs     jsonrpc.DefinitionSource
		executor execution.Executor
		logger   *log.Logger
		tokens   *tokenStore

		srv      *ssh.Server
		listener net.Listener
	}

	// Option configures a Server.
	Option func(*Server)
)

// DefaultConfig returns loopback settings with one-hour tokens.
func DefaultConfig() Config {
	return Config{
		Addr:     "127.0.0.1:2222",
		TokenTTL: time.Hour,
	}
}

// WithExecutor runs operations on ex.
func WithExecutor(ex execution.Executor) Option {
	return func(s *Server) { s.executor = ex }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New returns a server for v. It does not listen until Start.
func New(cfg Config, v execution.Venue, defs jsonrpc.DefinitionSource, opts ...Option) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultConfig().Addr
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultConfig().TokenTTL
	}

	s := &Server{
		cfg:    cfg,
		venue:  v,
		defs:   defs,
		logger: log.Default().WithPrefix("ssh"),
		tokens: newTokenStore(cfg.TokenTTL),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Lifecycle = serverbase.New("ssh", serverbase.WithLogger(s.logger))
	return s
}

// Start listens and serves sessions until Stop.
func (s *Server) Start(ctx context.Context) error {
	if err := s.BeginStart(ctx); err != nil {
		return err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		err = fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
		s.Fail(err)
		return err
	}

	opts := []ssh.Option{
		wish.WithAddress(s.cfg.Addr),
		wish.WithPublicKeyAuth(s.publicKeyHandler),
		wish.WithPasswordAuth(s.passwordHandler),
		wish.WithMiddleware(s.commandMiddleware()),
	}
	if s.cfg.HostKeyPath != "" {
		opts = append(opts, wish.WithHostKeyPath(s.cfg.HostKeyPath))
	}
	srv, err := wish.NewServer(opts...)
	if err != nil {
		_ = ln.Close()
		err = fmt.Errorf("create ssh server: %w", err)
		s.Fail(err)
		return err
	}
	s.srv = srv
	s.listener = ln

	s.Go(s.tokens.cache.Start)
	s.Go(func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, ssh.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
			s.logger.Error("serve failed", "err", err)
			s.SendError(err)
		}
	})
	s.MarkRunning()
	s.logger.Info("listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop ends open subscriptions, waits for running commands up to ctx and
// then closes remaining connections.
func (s *Server) Stop(ctx context.Context) error {
	if !s.BeginDrain() {
		return nil
	}

	err := s.srv.Shutdown(ctx)
	if err != nil {
		err = errors.Join(err, s.srv.Close())
	}
	s.tokens.cache.Stop()

	err = errors.Join(err, s.Wait(ctx))
	s.MarkStopped()
	if errors.Is(err, ssh.ErrServerClosed) {
		return nil
	}
	return err
}

// SPDX-License-Identifier: MPL-2.0

package sshcmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"

	"github.com/invowk/cougar/internal/transport/jsonrpc"
	"github.com/invowk/cougar/pkg/execution"
	"github.com/invowk/cougar/pkg/operation"
)

// Exit statuses reported to the client.
const (
	ExitOK    = 0
	ExitFault = 1
	ExitUsage = 2
)

// Session environment variables read into the execution context.
const (
	EnvTrace     = "COUGAR_TRACE"
	EnvTimeoutMs = "COUGAR_TIMEOUT_MS"
)

const usage = "usage: ssh <host> '<Service/vX.Y/operation>' ['<json params>']"

func (s *Server) commandMiddleware() wish.Middleware {
	return func(ssh.Handler) ssh.Handler {
		return func(sess ssh.Session) {
			_ = sess.Exit(s.run(sess))
		}
	}
}

// run executes the session's command and returns its exit status.
func (s *Server) run(sess ssh.Session) int {
	args := sess.Command()
	if len(args) == 0 || len(args) > 2 {
		fmt.Fprintln(sess.Stderr(), usage)
		return ExitUsage
	}

	key, err := operation.ParseKey(args[0])
	if err != nil {
		fmt.Fprintln(sess.Stderr(), err)
		fmt.Fprintln(sess.Stderr(), usage)
		return ExitUsage
	}

	def, ok := s.defs.OperationDefinition(key)
	if !ok {
		def = operation.Definition{Key: key}
	}
	var raw json.RawMessage
	if len(args) == 2 {
		raw = json.RawMessage(args[1])
	}
	params, err := jsonrpc.DecodeParams(def, raw)
	if err != nil {
		return s.report(sess, execution.FaultOf(err))
	}

	ec, tc := s.executionContext(sess)
	pending := jsonrpc.NewPending()
	if s.executor != nil {
		s.venue.ExecuteWith(sess.Context(), ec, key, params, pending, s.executor, tc)
	} else {
		s.venue.Execute(sess.Context(), ec, key, params, pending, tc)
	}

	select {
	case r := <-pending.Done():
		return s.report(sess, r)
	case <-sess.Context().Done():
		pending.Abandon()
		return ExitFault
	}
}

func (s *Server) report(sess ssh.Session, r execution.Result) int {
	switch r.Kind() {
	case execution.ResultSuccess:
		if err := json.NewEncoder(sess).Encode(r.Value()); err != nil {
			fmt.Fprintln(sess.Stderr(), err)
			return ExitFault
		}
		return ExitOK
	case execution.ResultSubscription:
		return s.stream(sess.Context(), sess, sess.Stderr(), r.Subscription())
	default:
		f := r.Fault()
		fmt.Fprintf(sess.Stderr(), "%s (%s): %s\n", f.Code(), f.Code().Detail(), f.Message())
		return ExitFault
	}
}

// stream writes sub's messages as JSON lines until the subscription closes,
// the client goes away or the server drains.
func (s *Server) stream(ctx context.Context, out, errOut io.Writer, sub *execution.Subscription) int {
	var draining <-chan struct{}
	if lc := s.Context(); lc != nil {
		draining = lc.Done()
	}

	enc := json.NewEncoder(out)
	for {
		select {
		case m, ok := <-sub.Messages():
			if !ok {
				_, reason := sub.Closed()
				fmt.Fprintf(errOut, "subscription closed: %s\n", reason)
				return ExitOK
			}
			if err := enc.Encode(m); err != nil {
				sub.CloseWith(execution.CloseConnectionClosed)
				return ExitFault
			}
		case <-ctx.Done():
			sub.CloseWith(execution.CloseConnectionClosed)
			return ExitOK
		case <-draining:
			sub.CloseWith(execution.CloseRequestedByPublisherAdministrator)
			fmt.Fprintf(errOut, "subscription closed: %s\n", execution.CloseRequestedByPublisherAdministrator)
			return ExitOK
		}
	}
}

func (s *Server) executionContext(sess ssh.Session) (*execution.Context, execution.TimeConstraints) {
	now := time.Now()
	ec := &execution.Context{
		ReceivedTime:   now,
		RequestTime:    now,
		Location:       remoteHost(sess.RemoteAddr()),
		IdentityTokens: []execution.IdentityToken{{Name: "SSH-User", Value: sess.User()}},
	}
	if p, ok := sess.Context().Value(principalKey).(string); ok && p != "" {
		ec.IdentityTokens = append(ec.IdentityTokens, execution.IdentityToken{Name: "SSH-Principal", Value: p})
	}

	tc := execution.NoConstraints
	for _, kv := range sess.Environ() {
		name, value, _ := strings.Cut(kv, "=")
		switch name {
		case EnvTrace:
			ec.TraceLoggingEnabled, _ = strconv.ParseBool(value)
		case EnvTimeoutMs:
			if ms, err := strconv.ParseInt(value, 10, 64); err == nil && ms > 0 {
				tc = execution.ExpiresIn(now, time.Duration(ms)*time.Millisecond)
			}
		}
	}
	return ec, tc
}

func remoteHost(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// SPDX-License-Identifier: MPL-2.0

package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/invowk/cougar/internal/clock"
	"github.com/invowk/cougar/internal/core/serverbase"
	"github.com/invowk/cougar/pkg/execution"
	"github.com/invowk/cougar/pkg/operation"
)

// Request headers mapped onto the execution context.
const (
	HeaderRequestID      = "X-Request-Id"
	HeaderTimeoutMs      = "X-Cougar-Timeout-Ms"
	HeaderTrace          = "X-Cougar-Trace"
	HeaderIdentityPrefix = "X-Cougar-Identity-"

	// MaxBodyBytes bounds a request body or websocket message.
	MaxBodyBytes = 1 << 20
)

type (
	// DefinitionSource looks up the declared parameters of an operation.
	DefinitionSource interface {
		OperationDefinition(key operation.Key) (operation.Definition, bool)
	}

	// Server serves a venue over HTTP and websocket.
	Server struct {
		*serverbase.Lifecycle

		addr     string
		venue    execution.Venue
		defs     DefinitionSource
		executor execution.Executor
		gatherer prometheus.Gatherer
		clock    clock.Clock
		logger   *log.Logger
		upgrader websocket.Upgrader

		httpServer *http.Server
		listener   net.Listener

		sessMu   sync.Mutex
		sessions map[*wsSession]struct{}
	}

	// Option configures a Server.
	Option func(*Server)

	// outcome is a venue result, or the mark of a request given up on.
	outcome struct {
		res       execution.Result
		abandoned bool
	}
)

// WithExecutor runs requests on ex instead of the connection goroutine.
func WithExecutor(ex execution.Executor) Option {
	return func(s *Server) { s.executor = ex }
}

// WithGatherer serves g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the clock used for request expiry.
func WithClock(c clock.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// New returns a server for v listening on addr once started.
func New(addr string, v execution.Venue, defs DefinitionSource, opts ...Option) *Server {
	s := &Server{
		addr:     addr,
		venue:    v,
		defs:     defs,
		clock:    clock.Real{},
		logger:   log.Default().WithPrefix("jsonrpc"),
		sessions: make(map[*wsSession]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Lifecycle = serverbase.New("jsonrpc", serverbase.WithLogger(s.logger))
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /rpc", s.handleRPC)
	mux.HandleFunc("GET /ws", s.handleWebsocket)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start listens and serves until Stop. It returns once the listener is open.
func (s *Server) Start(ctx context.Context) error {
	if err := s.BeginStart(ctx); err != nil {
		return err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		err = fmt.Errorf("listen on %s: %w", s.addr, err)
		s.Fail(err)
		return err
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.Go(func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("serve failed", "err", err)
			s.SendError(err)
		}
	})
	s.MarkRunning()
	s.logger.Info("listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop stops accepting connections, closes websocket sessions and waits for
// in-progress HTTP requests up to ctx.
func (s *Server) Stop(ctx context.Context) error {
	if !s.BeginDrain() {
		return nil
	}
	err := s.httpServer.Shutdown(ctx)

	s.sessMu.Lock()
	sessions := make([]*wsSession, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessMu.Unlock()
	for _, sess := range sessions {
		sess.close()
	}

	err = errors.Join(err, s.Wait(ctx))
	s.MarkStopped()
	return err
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, protocolError(nil, CodeInvalidRequest, err.Error()))
		return
	}
	ec, tc := s.executionContext(r)

	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(body, &batch); err != nil {
			writeJSON(w, http.StatusOK, protocolError(nil, CodeParseError, err.Error()))
			return
		}
		if len(batch) == 0 {
			writeJSON(w, http.StatusOK, protocolError(nil, CodeInvalidRequest, "empty batch"))
			return
		}
		responses := s.handleBatch(r.Context(), ec, tc, batch)
		if len(responses) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, responses)
		return
	}

	resp := s.handleMessage(r.Context(), ec, tc, body, nil)
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleBatch runs batch entries concurrently and returns responses in
// request order, omitting notifications.
func (s *Server) handleBatch(ctx context.Context, ec *execution.Context, tc execution.TimeConstraints, batch []json.RawMessage) []*Response {
	out := make([]*Response, len(batch))
	var wg sync.WaitGroup
	for i, msg := range batch {
		wg.Go(func() {
			out[i] = s.handleMessage(ctx, ec, tc, msg, nil)
		})
	}
	wg.Wait()

	responses := make([]*Response, 0, len(out))
	for _, r := range out {
		if r != nil {
			responses = append(responses, r)
		}
	}
	return responses
}

// handleMessage answers one request. Subscription results are handed to
// onSubscription; without one they are refused. It returns nil for
// notifications and abandoned requests.
func (s *Server) handleMessage(ctx context.Context, ec *execution.Context, tc execution.TimeConstraints, msg []byte, onSubscription func(*execution.Subscription)) *Response {
	var req Request
	if err := json.Unmarshal(msg, &req); err != nil {
		return protocolError(nil, CodeParseError, err.Error())
	}
	if req.JSONRPC != Version || req.Method == "" {
		return protocolError(req.ID, CodeInvalidRequest, "expected a JSON-RPC 2.0 request with a method")
	}

	key, err := operation.ParseKey(req.Method)
	if err != nil {
		return s.reply(&req, protocolError(req.ID, CodeMethodNotFound, err.Error()))
	}

	o := s.invoke(ctx, ec, key, req.Params, tc)
	if o.abandoned {
		return nil
	}

	res := o.res
	switch res.Kind() {
	case execution.ResultSuccess:
		return s.reply(&req, &Response{JSONRPC: Version, Result: res.Value(), ID: req.ID})
	case execution.ResultSubscription:
		sub := res.Subscription()
		if onSubscription == nil {
			sub.CloseWith(execution.CloseConnectionClosed)
			return s.reply(&req, protocolError(req.ID, CodeInvalidRequest, "subscriptions require the websocket endpoint"))
		}
		onSubscription(sub)
		return s.reply(&req, &Response{JSONRPC: Version, Result: SubscriptionResult{Subscription: sub.ID()}, ID: req.ID})
	default:
		return s.reply(&req, &Response{JSONRPC: Version, Error: FromFault(res.Fault()), ID: nullID(req.ID)})
	}
}

func (s *Server) reply(req *Request, resp *Response) *Response {
	if req.isNotification() {
		return nil
	}
	return resp
}

// invoke executes key and waits for its result. The request is abandoned
// if ctx ends first.
func (s *Server) invoke(ctx context.Context, ec *execution.Context, key operation.Key, params json.RawMessage, tc execution.TimeConstraints) outcome {
	def, ok := s.defs.OperationDefinition(key)
	if !ok {
		def = operation.Definition{Key: key}
	}
	args, err := DecodeParams(def, params)
	if err != nil {
		return outcome{res: execution.FaultOf(err)}
	}

	pending := NewPending()
	if s.executor != nil {
		s.venue.ExecuteWith(ctx, ec, key, args, pending, s.executor, tc)
	} else {
		s.venue.Execute(ctx, ec, key, args, pending, tc)
	}

	select {
	case r := <-pending.Done():
		return outcome{res: r}
	case <-ctx.Done():
		s.logger.Debug("request abandoned", "key", key, "err", ctx.Err())
		pending.Abandon()
		return outcome{abandoned: true}
	}
}

// executionContext derives the request context from HTTP metadata.
func (s *Server) executionContext(r *http.Request) (*execution.Context, execution.TimeConstraints) {
	now := s.clock.Now()
	ec := &execution.Context{
		RequestUUID:  r.Header.Get(HeaderRequestID),
		ReceivedTime: now,
		RequestTime:  now,
		Location:     remoteHost(r.RemoteAddr),
	}
	if v := r.Header.Get("Authorization"); v != "" {
		ec.IdentityTokens = append(ec.IdentityTokens, execution.IdentityToken{Name: "Authorization", Value: v})
	}
	for name, values := range r.Header {
		if rest, ok := strings.CutPrefix(name, HeaderIdentityPrefix); ok && len(values) > 0 {
			ec.IdentityTokens = append(ec.IdentityTokens, execution.IdentityToken{Name: rest, Value: values[0]})
		}
	}
	ec.TraceLoggingEnabled, _ = strconv.ParseBool(r.Header.Get(HeaderTrace))

	tc := execution.NoConstraints
	if ms, err := strconv.ParseInt(r.Header.Get(HeaderTimeoutMs), 10, 64); err == nil && ms > 0 {
		tc = execution.ExpiresIn(now, time.Duration(ms)*time.Millisecond)
	}
	return ec, tc
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

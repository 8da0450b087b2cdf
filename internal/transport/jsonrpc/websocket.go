// SPDX-License-Identifier: MPL-2.0

package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/invowk/cougar/internal/core/serverbase"
	"github.com/invowk/cougar/pkg/execution"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	sendBuffer = 256
)

var errSessionClosed = errors.New("websocket session closed")

type (
	// wsSession is one websocket connection. A single writer goroutine owns
	// the connection's write side; subscriptions opened on the session are
	// closed with the connection.
	wsSession struct {
		srv  *Server
		conn *websocket.Conn
		ec   *execution.Context
		tc   execution.TimeConstraints

		ctx    context.Context
		cancel context.CancelFunc

		send      chan []byte
		done      chan struct{}
		closeOnce sync.Once

		subsMu sync.Mutex
		subs   map[string]*execution.Subscription
	}

	unsubscribeParams struct {
		Subscription string `json:"subscription"`
	}
)

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if st := s.State(); st == serverbase.StateDraining || st.IsTerminal() {
		http.Error(w, "server is not accepting connections", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	ec, tc := s.executionContext(r)
	ctx, cancel := context.WithCancel(s.sessionParent())
	sess := &wsSession{
		srv:    s,
		conn:   conn,
		ec:     ec,
		tc:     tc,
		ctx:    ctx,
		cancel: cancel,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		subs:   make(map[string]*execution.Subscription),
	}

	s.sessMu.Lock()
	s.sessions[sess] = struct{}{}
	s.sessMu.Unlock()
	s.logger.Debug("websocket session opened", "remote", r.RemoteAddr)

	s.Go(sess.writePump)
	s.Go(sess.readPump)
}

// sessionParent is the server context, or Background when the handler is
// mounted without Start.
func (s *Server) sessionParent() context.Context {
	if ctx := s.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func (sess *wsSession) readPump() {
	defer sess.close()

	sess.conn.SetReadLimit(MaxBodyBytes)
	_ = sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sess.srv.logger.Warn("websocket read failed", "err", err)
			}
			return
		}
		sess.srv.Go(func() { sess.handle(msg) })
	}
}

func (sess *wsSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = sess.conn.Close()
	}()

	for {
		select {
		case msg := <-sess.send:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				sess.srv.logger.Warn("websocket write failed", "err", err)
				sess.close()
				return
			}
		case <-ticker.C:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sess.close()
				return
			}
		case <-sess.done:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = sess.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// handle answers one inbound message.
func (sess *wsSession) handle(msg []byte) {
	msg = bytes.TrimSpace(msg)
	ec := sess.requestContext()

	if len(msg) > 0 && msg[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(msg, &batch); err != nil || len(batch) == 0 {
			_ = sess.write(protocolError(nil, CodeParseError, "invalid batch"))
			return
		}
		if responses := sess.srv.handleBatch(sess.ctx, ec, sess.tc, batch); len(responses) > 0 {
			_ = sess.write(responses)
		}
		return
	}

	var req Request
	if err := json.Unmarshal(msg, &req); err == nil && req.Method == MethodUnsubscribe {
		sess.unsubscribe(&req)
		return
	}

	var opened *execution.Subscription
	resp := sess.srv.handleMessage(sess.ctx, ec, sess.tc, msg, func(sub *execution.Subscription) {
		opened = sub
	})
	if opened == nil {
		if resp != nil {
			_ = sess.write(resp)
		}
		return
	}
	if resp == nil {
		// Nobody can address a subscription opened by a notification.
		opened.Close()
		return
	}
	if !sess.track(opened) {
		opened.CloseWith(execution.CloseConnectionClosed)
		return
	}
	if err := sess.write(resp); err != nil {
		opened.CloseWith(execution.CloseConnectionClosed)
		return
	}
	sess.srv.Go(func() { sess.forward(opened) })
}

// requestContext stamps the session's execution context for one message.
func (sess *wsSession) requestContext() *execution.Context {
	ec := *sess.ec
	now := sess.srv.clock.Now()
	ec.ReceivedTime = now
	ec.RequestTime = now
	ec.RequestUUID = ""
	return &ec
}

func (sess *wsSession) unsubscribe(req *Request) {
	var p unsubscribeParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.Subscription == "" {
		_ = sess.write(sess.srv.reply(req, protocolError(req.ID, CodeInvalidParams, "expected {\"subscription\": id}")))
		return
	}

	sess.subsMu.Lock()
	sub, ok := sess.subs[p.Subscription]
	sess.subsMu.Unlock()

	closed := ok && sub.Close()
	if resp := sess.srv.reply(req, &Response{JSONRPC: Version, Result: closed, ID: req.ID}); resp != nil {
		_ = sess.write(resp)
	}
}

func (sess *wsSession) track(sub *execution.Subscription) bool {
	sess.subsMu.Lock()
	defer sess.subsMu.Unlock()
	select {
	case <-sess.done:
		return false
	default:
	}
	sess.subs[sub.ID()] = sub
	return true
}

// forward relays sub's messages as notifications until it closes, then
// reports the close reason.
func (sess *wsSession) forward(sub *execution.Subscription) {
	for m := range sub.Messages() {
		err := sess.write(&Notification{
			JSONRPC: Version,
			Method:  MethodSubscriptionMessage,
			Params:  SubscriptionMessage{Subscription: sub.ID(), Message: m},
		})
		if err != nil {
			sub.CloseWith(execution.CloseConnectionClosed)
		}
	}

	sess.subsMu.Lock()
	delete(sess.subs, sub.ID())
	sess.subsMu.Unlock()

	_, reason := sub.Closed()
	if reason == execution.CloseConnectionClosed {
		return
	}
	_ = sess.write(&Notification{
		JSONRPC: Version,
		Method:  MethodSubscriptionClosed,
		Params:  SubscriptionMessage{Subscription: sub.ID(), Reason: string(reason)},
	})
}

// write queues v for the writer goroutine.
func (sess *wsSession) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case <-sess.done:
		return errSessionClosed
	default:
	}
	select {
	case sess.send <- data:
		return nil
	case <-sess.done:
		return errSessionClosed
	}
}

// close ends the session: in-flight requests are abandoned and open
// subscriptions close with CloseConnectionClosed.
func (sess *wsSession) close() {
	sess.closeOnce.Do(func() {
		sess.subsMu.Lock()
		close(sess.done)
		subs := make([]*execution.Subscription, 0, len(sess.subs))
		for _, sub := range sess.subs {
			subs = append(subs, sub)
		}
		sess.subsMu.Unlock()

		sess.cancel()
		for _, sub := range subs {
			sub.CloseWith(execution.CloseConnectionClosed)
		}
		_ = sess.conn.SetReadDeadline(time.Now())

		sess.srv.sessMu.Lock()
		delete(sess.srv.sessions, sess)
		sess.srv.sessMu.Unlock()
		sess.srv.logger.Debug("websocket session closed")
	})
}

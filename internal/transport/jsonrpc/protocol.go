// SPDX-License-Identifier: MPL-2.0

package jsonrpc

import (
	"encoding/json"

	"github.com/invowk/cougar/pkg/fault"
)

// Version is the protocol version carried in every message.
const Version = "2.0"

// Standard and server-defined error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeTimeout         = -32001
	CodeUnauthorised    = -32002
	CodeForbidden       = -32003
	CodeUnavailable     = -32004
	CodeTooManyRequests = -32005
	CodeServiceFault    = -32010
)

// Notification methods sent over the websocket.
const (
	MethodSubscriptionMessage = "subscription.message"
	MethodSubscriptionClosed  = "subscription.closed"
	MethodUnsubscribe         = "subscription.close"
)

type (
	// Request is a JSON-RPC request; a missing ID makes it a notification.
	Request struct {
		JSONRPC string          `json:"jsonrpc"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params,omitempty"`
		ID      json.RawMessage `json:"id,omitempty"`
	}

	// Response carries either Result or Error.
	Response struct {
		JSONRPC string          `json:"jsonrpc"`
		Result  any             `json:"result,omitempty"`
		Error   *Error          `json:"error,omitempty"`
		ID      json.RawMessage `json:"id"`
	}

	// Error is a JSON-RPC error object.
	Error struct {
		Code    int        `json:"code"`
		Message string     `json:"message"`
		Data    *FaultData `json:"data,omitempty"`
	}

	// FaultData describes the venue fault behind an error.
	FaultData struct {
		Fault  fault.Code `json:"fault"`
		Detail string     `json:"detail"`
		Kind   string     `json:"kind"`
	}

	// Notification is a server-initiated message without an id.
	Notification struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
		Params  any    `json:"params"`
	}

	// SubscriptionResult is the result of an operation that opened a subscription.
	SubscriptionResult struct {
		Subscription string `json:"subscription"`
	}

	// SubscriptionMessage is the params of a subscription notification.
	SubscriptionMessage struct {
		Subscription string `json:"subscription"`
		Message      any    `json:"message,omitempty"`
		Reason       string `json:"reason,omitempty"`
	}
)

func (r *Request) isNotification() bool { return len(r.ID) == 0 }

func protocolError(id json.RawMessage, code int, msg string) *Response {
	return &Response{JSONRPC: Version, Error: &Error{Code: code, Message: msg}, ID: nullID(id)}
}

func nullID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

// FromFault converts a venue fault into a JSON-RPC error.
func FromFault(f *fault.Fault) *Error {
	return &Error{
		Code:    ErrorCode(f),
		Message: f.Error(),
		Data:    &FaultData{Fault: f.Code(), Detail: f.Code().Detail(), Kind: f.Kind().String()},
	}
}

// ErrorCode maps a fault to a JSON-RPC error code by its category; faults
// raised by the service itself share CodeServiceFault.
func ErrorCode(f *fault.Fault) int {
	switch f.Code() {
	case fault.NoSuchOperation, fault.NoSuchService:
		return CodeMethodNotFound
	case fault.ServiceCheckedException, fault.ServiceRuntimeException:
		return CodeServiceFault
	}
	switch f.Code().Category() {
	case fault.CategoryBadRequest:
		return CodeInvalidParams
	case fault.CategoryTimeout:
		return CodeTimeout
	case fault.CategoryUnauthorised:
		return CodeUnauthorised
	case fault.CategoryForbidden:
		return CodeForbidden
	case fault.CategoryUnavailable:
		return CodeUnavailable
	case fault.CategoryTooManyRequests:
		return CodeTooManyRequests
	case fault.CategoryNotFound:
		return CodeMethodNotFound
	default:
		return CodeInternalError
	}
}

// SPDX-License-Identifier: MPL-2.0

// Package jsonrpc exposes a venue over JSON-RPC 2.0.
//
// POST /rpc takes a single request or a batch. The method is an operation
// key such as "Baseline/v1.0/echo"; params are positional or named after
// the operation's declared parameters. GET /ws upgrades to a websocket that
// accepts the same requests and streams subscription messages as
// notifications. GET /metrics serves Prometheus metrics when a gatherer is
// configured.
package jsonrpc

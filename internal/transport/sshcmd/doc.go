// SPDX-License-Identifier: MPL-2.0

// Package sshcmd exposes a venue as SSH commands, one invocation per
// session:
//
//	ssh -p 2222 cougar@host 'Chat/v1.0/echo' '["hi"]'
//
// The first argument is an operation key and the optional second argument
// holds JSON params (an array or an object). Results are written to stdout
// as JSON; faults go to stderr with exit status 1. Subscriptions stream one
// JSON message per line until they close or the client disconnects.
//
// Clients authenticate with a password token issued by the server.
package sshcmd

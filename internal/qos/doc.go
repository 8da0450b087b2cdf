// SPDX-License-Identifier: MPL-2.0

// Package qos provides a rate-limiting pre-processor. It runs at every
// opportunity, so a queued request is gated both before queueing and
// again before execution.
package qos

// SPDX-License-Identifier: MPL-2.0

// Package interceptor defines pre- and post-processing hooks around an
// executable and the tri-state Result they return.
//
// A pre-processor declares a Requirement that decides at which pipeline
// phases it runs when queueing is separated from execution.
package interceptor

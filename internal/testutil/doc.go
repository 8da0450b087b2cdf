// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helpers shared by venue, transport and service
// tests: a recording observer that counts deliveries, canned executables and
// resource cleanup helpers that fail the test on error.
package testutil

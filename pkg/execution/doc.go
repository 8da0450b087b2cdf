// SPDX-License-Identifier: MPL-2.0

// Package execution holds the contracts shared by the venue, its executables
// and its callers: the single-shot Observer, the closed Result union, the
// per-request Context, and long-lived Subscription handles.
package execution

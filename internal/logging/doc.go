// SPDX-License-Identifier: MPL-2.0

// Package logging builds the process loggers and the per-request logging
// hook installed on the venue.
package logging

// SPDX-License-Identifier: MPL-2.0

// Package resolver maps operation keys to executables. Static serves the
// operations of one service from a table of handlers; Compound routes by
// namespace to other resolvers.
package resolver

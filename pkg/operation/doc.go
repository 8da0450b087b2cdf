// SPDX-License-Identifier: MPL-2.0

// Package operation defines the identity of an invocable unit of work.
//
// A Key names an operation by service, version, operation name, kind and an
// optional namespace. Keys are comparable values and are used directly as map
// keys by the venue registry: two keys that differ only in namespace are
// distinct registry entries for the same logical operation.
package operation

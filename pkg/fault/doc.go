// SPDX-License-Identifier: MPL-2.0

// Package fault defines the server fault codes reported to callers and the
// Fault error type that carries them.
//
// Every Fault is tagged with a Kind. Checked faults are declared,
// expected business failures raised by service code; Unchecked faults are
// unexpected failures. The kind is set by whoever constructs the fault and
// is never inferred from the dynamic type of an error.
package fault

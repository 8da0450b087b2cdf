// SPDX-License-Identifier: MPL-2.0

// Package venue implements the execution venue: the registry that maps
// operation keys to executables and the dispatcher that runs them.
//
// The layers build on each other:
//
//   - Base holds the registry and executes requests through the
//     interceptor chain with a deadline watchdog.
//   - ServiceVenue registers whole services under a namespace and resolves
//     per-operation timeouts from configuration.
//   - Container adds a start/stop lifecycle: services deployed before
//     Start are registered on Start, and Stop drains in-flight requests.
//
// Execute never returns an error. Lookup misses, identity failures,
// interceptor faults and timeouts all reach the observer as a Fault.
package venue

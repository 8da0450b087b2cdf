// SPDX-License-Identifier: MPL-2.0

// Package intercept composes an executable with ordered pre- and
// post-processor chains and guarantees that each request's observer is
// called exactly once.
//
// A Wrapper is immutable and shared by all requests for one operation.
// Each request gets its own Invocation, which walks the stages
// PreProcessing, then either ForcedResult/ForcedException or
// Executing and PostProcessing, and finally Complete.
package intercept

// SPDX-License-Identifier: MPL-2.0

// Package timing records how long executions take and how they end.
//
// Each registered operation owns one Recorder. Stats keeps in-process
// counters for the CLI and tests; Prometheus exports histograms.
package timing

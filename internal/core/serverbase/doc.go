// SPDX-License-Identifier: MPL-2.0

// Package serverbase provides the lifecycle state machine shared by the
// container venue and the network transports.
//
// State reads are atomic; transitions are compare-and-swap so that
// concurrent Start and Stop calls resolve to a single winner. Goroutines
// started through Go are tracked so Stop can wait for them.
package serverbase

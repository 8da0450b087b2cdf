// SPDX-License-Identifier: MPL-2.0

// Package health implements HealthService/v3.0, the built-in service every
// venue deploys so that callers and load balancers can probe it.
package health

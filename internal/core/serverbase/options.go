// SPDX-License-Identifier: MPL-2.0

package serverbase

import "github.com/charmbracelet/log"

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithErrorChannel sets the async error channel buffer size. Default is 1.
func WithErrorChannel(size int) Option {
	return func(l *Lifecycle) {
		l.errCh = make(chan error, size)
	}
}

// WithLogger sets the logger used to report transitions.
func WithLogger(logger *log.Logger) Option {
	return func(l *Lifecycle) {
		l.logger = logger
	}
}

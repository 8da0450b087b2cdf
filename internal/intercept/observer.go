// SPDX-License-Identifier: MPL-2.0

package intercept

import (
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/invowk/cougar/pkg/execution"
)

// OnceObserver forwards the first result it receives and drops the rest.
// A panic raised by the delegate is recovered and logged.
type OnceObserver struct {
	delegate  execution.Observer
	logger    *log.Logger
	delivered atomic.Bool
}

// NewOnceObserver guards obs. A nil logger uses the package default.
func NewOnceObserver(obs execution.Observer, logger *log.Logger) *OnceObserver {
	if logger == nil {
		logger = log.Default()
	}
	return &OnceObserver{delegate: obs, logger: logger}
}

// OnResult delivers r if nothing has been delivered yet.
func (o *OnceObserver) OnResult(r execution.Result) {
	if !o.delivered.CompareAndSwap(false, true) {
		o.logger.Debug("dropping duplicate result", "result", r)
		execution.Discard(r)
		return
	}
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("observer panicked", "panic", p, "result", r)
		}
	}()
	o.delegate.OnResult(r)
}

// Delivered reports whether a result has been forwarded.
func (o *OnceObserver) Delivered() bool {
	return o.delivered.Load()
}

// SPDX-License-Identifier: MPL-2.0

package health

import (
	"context"
	"fmt"

	"github.com/invowk/cougar/internal/core/serverbase"
)

type (
	lifecycle interface {
		Name() string
		State() serverbase.State
	}

	queue interface {
		Queued() int
		Capacity() int
	}
)

// LifecycleCheck fails unless l is running.
func LifecycleCheck(l lifecycle) Checker {
	return CheckFunc(l.Name(), func(context.Context) (Status, string) {
		st := l.State()
		switch st {
		case serverbase.StateRunning:
			return StatusOK, ""
		case serverbase.StateStarting, serverbase.StateDraining:
			return StatusWarn, st.String()
		default:
			return StatusFail, st.String()
		}
	})
}

// QueueCheck warns once q is more than warnRatio full and fails when it is full.
func QueueCheck(name string, q queue, warnRatio float64) Checker {
	return CheckFunc(name, func(context.Context) (Status, string) {
		queued, capacity := q.Queued(), q.Capacity()
		msg := fmt.Sprintf("%d/%d queued", queued, capacity)
		switch {
		case capacity > 0 && queued >= capacity:
			return StatusFail, msg
		case capacity > 0 && float64(queued) > warnRatio*float64(capacity):
			return StatusWarn, msg
		default:
			return StatusOK, msg
		}
	})
}

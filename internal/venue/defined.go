// SPDX-License-Identifier: MPL-2.0

package venue

import (
	"time"

	"github.com/invowk/cougar/internal/intercept"
	"github.com/invowk/cougar/internal/timing"
	"github.com/invowk/cougar/pkg/execution"
	"github.com/invowk/cougar/pkg/operation"
)

// DefinedExecutable is a registry entry: one executable, its timing
// statistics and its maximum execution time. It is immutable once
// registered.
type DefinedExecutable struct {
	definition       operation.Definition
	key              operation.Key
	executable       execution.Executable
	recorder         timing.Recorder
	stats            *timing.Stats
	maxExecutionTime time.Duration
	wrapper          *intercept.Wrapper
}

// Key returns the namespaced key the entry is registered under.
func (d *DefinedExecutable) Key() operation.Key { return d.key }

// Definition returns the operation definition. Its key carries no namespace.
func (d *DefinedExecutable) Definition() operation.Definition { return d.definition }

// Executable returns the registered executable, without interceptors.
func (d *DefinedExecutable) Executable() execution.Executable { return d.executable }

// Recorder returns the recorder observing this operation.
func (d *DefinedExecutable) Recorder() timing.Recorder { return d.recorder }

// Stats returns the operation's execution statistics.
func (d *DefinedExecutable) Stats() timing.Snapshot { return d.stats.Snapshot() }

// MaxExecutionTime returns the watchdog budget; zero means unlimited.
func (d *DefinedExecutable) MaxExecutionTime() time.Duration { return d.maxExecutionTime }

// SPDX-License-Identifier: MPL-2.0

package intercept

const (
	// StagePreProcessing is the initial stage: pre-processors are running.
	StagePreProcessing Stage = iota
	// StageForcedResult means a pre-processor forced a success value.
	StageForcedResult
	// StageForcedException means a pre-processor forced a fault.
	StageForcedException
	// StageExecuting means the executable has been invoked.
	StageExecuting
	// StagePostProcessing means the executable reported and post-processors are running.
	StagePostProcessing
	// StageComplete is terminal: the observer has been handed a result.
	StageComplete
)

// Stage is the position of one request in the interception pipeline.
type Stage int32

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StagePreProcessing:
		return "PRE_PROCESSING"
	case StageForcedResult:
		return "FORCED_RESULT"
	case StageForcedException:
		return "FORCED_EXCEPTION"
	case StageExecuting:
		return "EXECUTING"
	case StagePostProcessing:
		return "POST_PROCESSING"
	case StageComplete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether s is StageComplete.
func (s Stage) IsTerminal() bool { return s == StageComplete }

// internal/agent/errors.go
package agent

import "errors"

// FailureReason is a structured failure class reported on OnTaskFailed.
// Using a custom type ensures only predefined constants can be used where a
// FailureReason is expected.
type FailureReason string

const (
	// ReasonDependencyNotReady means a required collaborator was missing at
	// start; StartTask fails synchronously.
	ReasonDependencyNotReady FailureReason = "DEPENDENCY_NOT_READY"
	// ReasonCaptureFailure means screenshot capture kept failing past its
	// retry budget.
	ReasonCaptureFailure FailureReason = "CAPTURE_FAILURE"
	// ReasonStreamFailure means the model transport kept failing past its
	// retry budget.
	ReasonStreamFailure FailureReason = "STREAM_FAILURE"
	// ReasonActionParseFailure means the model never produced a parseable
	// action within the re-prompt budget.
	ReasonActionParseFailure FailureReason = "ACTION_PARSE_FAILURE"
	// ReasonDispatchFailure means the executor reported a fatal failure or
	// exhausted its transient-retry budget.
	ReasonDispatchFailure FailureReason = "DISPATCH_FAILURE"
	// ReasonStepBudgetExceeded means the step budget ran out without a
	// finish action. Not an error of any subsystem.
	ReasonStepBudgetExceeded FailureReason = "STEP_BUDGET_EXCEEDED"
)

var (
	// ErrCancelled is returned from suspension points once cancellation has
	// been requested.
	ErrCancelled = errors.New("task cancelled")
	// ErrNoActionSection indicates a model response without a recognizable
	// action section.
	ErrNoActionSection = errors.New("response contains no action section")
	// ErrEmptyAction indicates an action marker with no command after it.
	ErrEmptyAction = errors.New("action section is empty")
)

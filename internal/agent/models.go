// internal/agent/models.go
package agent

import (
	"context"
	"time"

	"github.com/droidpilot-ai/droidpilot-cli/internal/action"
)

// AgentState is the lifecycle state of the task state machine. Exactly one
// task is associated with any state other than StateIdle.
type AgentState string

const (
	StateIdle      AgentState = "IDLE"      // No task; initial and post-reset state.
	StateRunning   AgentState = "RUNNING"   // The perceive/decide/act loop is executing.
	StatePaused    AgentState = "PAUSED"    // The loop is parked at a suspension point.
	StateCompleted AgentState = "COMPLETED" // The model issued a finish action.
	StateFailed    AgentState = "FAILED"    // A terminal error or the step budget ended the task.
	StateCancelled AgentState = "CANCELLED" // The operator cancelled the task.
)

// Terminal reports whether the state ends a task (reset required before the
// next start).
func (s AgentState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Task is one natural-language objective. Immutable once created; a single
// task is active per orchestrator instance.
type Task struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// DispatchOutcome classifies the result of executing one action.
type DispatchOutcome string

const (
	OutcomeSuccess          DispatchOutcome = "SUCCESS"
	OutcomeTransientFailure DispatchOutcome = "TRANSIENT_FAILURE"
	OutcomeFatalFailure     DispatchOutcome = "FATAL_FAILURE"
)

// DispatchResult is the dispatch coordinator's verdict for one action,
// consumed by the orchestrator to decide continue vs. abort.
type DispatchResult struct {
	Outcome  DispatchOutcome `json:"outcome"`
	Detail   string          `json:"detail,omitempty"`
	Attempts int             `json:"attempts"`
}

// Step records one completed loop iteration. Steps are immutable once
// appended; the history is append-only and never mutated retroactively.
type Step struct {
	Index         int             `json:"index"` // 1-based, monotonic
	ScreenshotRef string          `json:"screenshot_ref"`
	RawResponse   string          `json:"raw_response"`
	ThinkingText  string          `json:"thinking_text"`
	ActionText    string          `json:"action_text"`
	Action        action.Command  `json:"action"`
	Dispatch      DispatchResult  `json:"dispatch"`
	Timestamp     time.Time       `json:"timestamp"`
}

// HistorySink persists finished tasks with their step history. Calls are
// fire-and-forget from the orchestrator's point of view: failures are logged
// and never reach the loop.
type HistorySink interface {
	Record(ctx context.Context, task Task, steps []Step) error
}

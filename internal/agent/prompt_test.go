package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/droidpilot-ai/droidpilot-cli/internal/action"
)

func TestObservationTextFirstStep(t *testing.T) {
	got := observationText(1, nil)
	assert.Contains(t, got, "Step 1")
	assert.NotContains(t, got, "Previous action")
}

func TestObservationTextEmbedsPreviousOutcome(t *testing.T) {
	prev := &Step{
		Index:    3,
		Action:   action.Command{Kind: action.KindTap, X: 10, Y: 20},
		Dispatch: DispatchResult{Outcome: OutcomeSuccess},
	}
	got := observationText(4, prev)
	assert.Contains(t, got, "Step 4")
	assert.Contains(t, got, `"action":"tap(10, 20)"`)
	assert.Contains(t, got, `"outcome":"SUCCESS"`)
}

func TestObservationTextIncludesFailureDetail(t *testing.T) {
	prev := &Step{
		Action:   action.Command{Kind: action.KindLaunchApp, AppName: "Ghost"},
		Dispatch: DispatchResult{Outcome: OutcomeFatalFailure, Detail: "app not installed"},
	}
	got := observationText(2, prev)
	assert.Contains(t, got, "app not installed")
	assert.Contains(t, got, `"outcome":"FATAL_FAILURE"`)
}

func TestCorrectiveTextNamesTheProblem(t *testing.T) {
	got := correctiveText(`unknown command "pinch"`)
	assert.Contains(t, got, `unknown command "pinch"`)
	assert.Contains(t, got, "Action:")
}

func TestSystemPromptStatesConvention(t *testing.T) {
	assert.Contains(t, systemPrompt, ActionMarker)
	assert.Contains(t, systemPrompt, "1000x1000")
	for _, name := range []string{"tap(", "swipe(", "long_press(", "double_tap(", "type(", "launch(", "key(", "wait(", "finish("} {
		assert.Contains(t, systemPrompt, name)
	}
}

// internal/agent/prompt.go
package agent

import (
	"fmt"

	json "github.com/json-iterator/go"
)

// systemPrompt is the fixed instruction set for the driving model. It states
// the action vocabulary, the normalized coordinate grid, and response
// convention v1 (reasoning, then a single line starting with "Action:").
const systemPrompt = `You are the control mind of 'droidpilot', an autonomous agent that operates a touchscreen device to accomplish a user's task.

Each turn you receive a screenshot of the current screen plus the outcome of your previous action. Decide the single next action that makes progress toward the task.

Coordinates are normalized to a 1000x1000 virtual grid: (0,0) is the top-left corner of the screen, (1000,1000) the bottom-right, regardless of the device's real resolution.

Available actions (exact syntax, one per response):
    - tap(x, y): Tap the screen at the given point.
    - double_tap(x, y): Two quick taps at the given point.
    - long_press(x, y, durationMs): Press and hold. durationMs is optional (default 800).
    - swipe(x1, y1, x2, y2, durationMs): Drag from start to end. durationMs is optional (default 300).
    - type("text"): Type text into the currently focused input field. Tap the field first.
    - launch("App Name"): Open an application by its visible name.
    - key(code): Press a hardware/navigation key. Accepts a numeric keycode or one of: "back", "home", "enter", "delete", "app_switch", "volume_up", "volume_down", "power".
    - wait(ms): Do nothing for the given time, e.g. while content loads. Max 60000.
    - finish("message"): The task is complete. The message summarizes the result.

Response format (convention v1, mandatory):
First write your reasoning about the screen and the task as plain text.
Then end your response with exactly one line of the form:
Action: <one action from the list above>

Anything before the "Action:" line is treated as your reasoning; the line itself carries the command. A response without an "Action:" line is rejected and re-requested, so never omit it. Use finish only when the task is verifiably done on screen.`

// stepOutcome is the compact JSON record of the previous action embedded in
// the next observation turn, so the model sees exactly what happened.
type stepOutcome struct {
	Action  string `json:"action"`
	Outcome string `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
}

// observationText renders the text part of an observation turn for the given
// step. prev is nil for the first step.
func observationText(stepIndex int, prev *Step) string {
	if prev == nil {
		return fmt.Sprintf("Step %d. This is the current screen. Decide the next action.", stepIndex)
	}

	out := stepOutcome{
		Action:  prev.Action.Display(),
		Outcome: string(prev.Dispatch.Outcome),
		Detail:  prev.Dispatch.Detail,
	}
	encoded, err := json.MarshalToString(out)
	if err != nil {
		encoded = fmt.Sprintf(`{"action":%q,"outcome":%q}`, out.Action, out.Outcome)
	}
	return fmt.Sprintf("Step %d. Previous action result: %s\nThis is the current screen. Decide the next action.", stepIndex, encoded)
}

// correctiveText is the ephemeral instruction appended when the previous
// response could not be parsed. It is sent once per retry and never stored
// in the conversation context.
func correctiveText(reason string) string {
	return fmt.Sprintf("Your previous response was rejected: %s. Reply again following convention v1: reasoning first, then a final line of the form 'Action: <command>' using only the documented actions.", reason)
}

// internal/action/action.go
package action

import (
	"fmt"
	"strconv"
	"strings"
)

// The virtual screen resolution all coordinates are normalized to. Mapping to
// physical device pixels is the executor's responsibility.
const (
	VirtualWidth  = 1000
	VirtualHeight = 1000
)

// Default durations applied when the optional trailing durationMs argument is
// omitted.
const (
	DefaultSwipeDurationMs     = 300
	DefaultLongPressDurationMs = 800
)

// MaxWaitMs caps the duration of a wait command.
const MaxWaitMs = 60000

// Kind is the variant tag of a Command. Exactly one kind applies per
// instance.
type Kind string

const (
	KindTap       Kind = "TAP"
	KindSwipe     Kind = "SWIPE"
	KindLongPress Kind = "LONG_PRESS"
	KindDoubleTap Kind = "DOUBLE_TAP"
	KindTypeText  Kind = "TYPE_TEXT"
	KindLaunchApp Kind = "LAUNCH_APP"
	KindKeyPress  Kind = "KEY_PRESS"
	KindWait      Kind = "WAIT"
	KindFinish    Kind = "FINISH"
	KindInvalid   Kind = "INVALID"
)

// Command is a single decided device action. It is pure data: the parser
// produces it, the dispatch coordinator consumes it. Only the fields relevant
// to Kind are populated.
type Command struct {
	Kind Kind

	// Tap, Swipe (start), LongPress, DoubleTap
	X int
	Y int
	// Swipe end point
	X2 int
	Y2 int
	// Swipe, LongPress, Wait duration
	DurationMs int

	// TypeText
	Text string
	// LaunchApp
	AppName string
	// KeyPress
	KeyCode int
	// Finish
	Message string
	// Invalid
	Reason string
}

// Terminal reports whether the command ends the task loop.
func (c Command) Terminal() bool { return c.Kind == KindFinish }

// Display renders the command in its canonical textual form, suitable for
// observer events and step records.
func (c Command) Display() string {
	switch c.Kind {
	case KindTap:
		return fmt.Sprintf("tap(%d, %d)", c.X, c.Y)
	case KindSwipe:
		return fmt.Sprintf("swipe(%d, %d, %d, %d, %d)", c.X, c.Y, c.X2, c.Y2, c.DurationMs)
	case KindLongPress:
		return fmt.Sprintf("long_press(%d, %d, %d)", c.X, c.Y, c.DurationMs)
	case KindDoubleTap:
		return fmt.Sprintf("double_tap(%d, %d)", c.X, c.Y)
	case KindTypeText:
		return fmt.Sprintf("type(%s)", strconv.Quote(c.Text))
	case KindLaunchApp:
		return fmt.Sprintf("launch(%s)", strconv.Quote(c.AppName))
	case KindKeyPress:
		return fmt.Sprintf("key(%d)", c.KeyCode)
	case KindWait:
		return fmt.Sprintf("wait(%d)", c.DurationMs)
	case KindFinish:
		return fmt.Sprintf("finish(%s)", strconv.Quote(c.Message))
	case KindInvalid:
		return fmt.Sprintf("invalid: %s", c.Reason)
	default:
		return string(c.Kind)
	}
}

// Invalid builds the failure variant. The reason is meant for the model's
// corrective re-prompt, so it should name what was wrong.
func Invalid(format string, args ...interface{}) Command {
	return Command{Kind: KindInvalid, Reason: fmt.Sprintf(format, args...)}
}

// keyNames maps the accepted symbolic key names to Android keycodes. The set
// is fixed; anything else must be given numerically.
var keyNames = map[string]int{
	"back":        4,
	"home":        3,
	"enter":       66,
	"delete":      67,
	"app_switch":  187,
	"volume_up":   24,
	"volume_down": 25,
	"power":       26,
}

// KeyCodeForName resolves a symbolic key name (case-insensitive). The second
// return is false for unknown names.
func KeyCodeForName(name string) (int, bool) {
	code, ok := keyNames[strings.ToLower(name)]
	return code, ok
}

// internal/agent/assembler.go
package agent

import (
	"strings"
)

// ActionMarker separates the model's reasoning from its action command
// (response convention v1): everything before the first line beginning with
// the marker is thinking; the remainder of that line, plus any lines after
// it, is the action text. The system prompt states this convention verbatim;
// any response that deviates is a parse failure, never a guess.
const ActionMarker = "Action:"

// Assembler incrementally splits one streamed model response into its
// thinking and action sections. An assembler lives for exactly one step; no
// partial state survives across steps, so create a fresh one per request.
type Assembler struct {
	raw      strings.Builder
	thinking strings.Builder
	act      strings.Builder
	pending  string // trailing partial line, held until completed or finalized
	inAction bool
}

// NewAssembler returns an empty assembler for one step's response.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// Feed consumes the next stream fragment and returns the incremental
// thinking text it completed, if any. Fragments may split lines, including
// the action marker itself, at arbitrary byte positions; only fully received
// lines are classified, so a partially streamed marker is never misreported
// as thinking.
func (a *Assembler) Feed(fragment string) string {
	if fragment == "" {
		return ""
	}
	a.raw.WriteString(fragment)
	a.pending += fragment

	var delta strings.Builder
	for {
		nl := strings.IndexByte(a.pending, '\n')
		if nl < 0 {
			break
		}
		line := a.pending[:nl+1]
		a.pending = a.pending[nl+1:]
		a.consumeLine(line, &delta)
	}
	return delta.String()
}

// consumeLine routes one complete line to the thinking or action section.
func (a *Assembler) consumeLine(line string, delta *strings.Builder) {
	if a.inAction {
		a.act.WriteString(line)
		return
	}

	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, ActionMarker) {
		a.inAction = true
		a.act.WriteString(strings.TrimSpace(strings.TrimPrefix(trimmed, ActionMarker)))
		a.act.WriteString("\n")
		return
	}

	a.thinking.WriteString(line)
	if delta != nil {
		delta.WriteString(line)
	}
}

// Finalize ends the stream and returns the finalized (thinking, action)
// pair. It fails when the response never contained an action section, or the
// marker carried no command.
func (a *Assembler) Finalize() (thinking, actionText string, err error) {
	if a.pending != "" {
		a.consumeLine(a.pending+"\n", nil)
		a.pending = ""
	}

	thinking = strings.TrimSpace(a.thinking.String())
	if !a.inAction {
		return thinking, "", ErrNoActionSection
	}

	// A single action command may be streamed across lines; rejoin it.
	lines := strings.Split(a.act.String(), "\n")
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		if t := strings.TrimSpace(l); t != "" {
			parts = append(parts, t)
		}
	}
	actionText = strings.Join(parts, " ")
	if actionText == "" {
		return thinking, "", ErrEmptyAction
	}
	return thinking, actionText, nil
}

// Raw returns everything fed so far, for step records and debugging.
func (a *Assembler) Raw() string {
	return a.raw.String()
}

package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssemblerSingleFragment(t *testing.T) {
	a := NewAssembler()
	delta := a.Feed("I should tap the icon.\nAction: tap(540, 120)\n")
	assert.Equal(t, "I should tap the icon.\n", delta)

	thinking, actionText, err := a.Finalize()
	require.NoError(t, err)
	assert.Equal(t, "I should tap the icon.", thinking)
	assert.Equal(t, "tap(540, 120)", actionText)
}

func TestAssemblerMarkerSplitAcrossFragments(t *testing.T) {
	a := NewAssembler()
	var deltas strings.Builder
	for _, frag := range []string{"thinking ", "here\nAct", "ion: tap(1,", " 2)"} {
		deltas.WriteString(a.Feed(frag))
	}

	// The partially streamed marker must never surface as thinking.
	assert.Equal(t, "thinking here\n", deltas.String())

	thinking, actionText, err := a.Finalize()
	require.NoError(t, err)
	assert.Equal(t, "thinking here", thinking)
	assert.Equal(t, "tap(1, 2)", actionText)
}

func TestAssemblerHoldsPartialLines(t *testing.T) {
	a := NewAssembler()
	assert.Empty(t, a.Feed("thinking abo"))
	assert.Equal(t, "thinking about it\n", a.Feed("ut it\nmore"))
	assert.Equal(t, "more thought\n", a.Feed(" thought\n"))
}

func TestAssemblerNoActionSection(t *testing.T) {
	a := NewAssembler()
	a.Feed("just rambling\nwith no command\n")
	thinking, _, err := a.Finalize()
	assert.ErrorIs(t, err, ErrNoActionSection)
	assert.Equal(t, "just rambling\nwith no command", thinking)
}

func TestAssemblerEmptyAction(t *testing.T) {
	a := NewAssembler()
	a.Feed("hmm\nAction:\n")
	_, _, err := a.Finalize()
	assert.ErrorIs(t, err, ErrEmptyAction)
}

func TestAssemblerActionWithoutTrailingNewline(t *testing.T) {
	a := NewAssembler()
	a.Feed("done deliberating\nAction: finish(\"ok\")")
	thinking, actionText, err := a.Finalize()
	require.NoError(t, err)
	assert.Equal(t, "done deliberating", thinking)
	assert.Equal(t, `finish("ok")`, actionText)
}

func TestAssemblerActionSpanningLines(t *testing.T) {
	a := NewAssembler()
	a.Feed("x\nAction: swipe(500, 800,\n500, 200)\n")
	_, actionText, err := a.Finalize()
	require.NoError(t, err)
	assert.Equal(t, "swipe(500, 800, 500, 200)", actionText)
}

func TestAssemblerIndentedMarker(t *testing.T) {
	a := NewAssembler()
	a.Feed("reasoning\n   Action: tap(3, 4)\n")
	_, actionText, err := a.Finalize()
	require.NoError(t, err)
	assert.Equal(t, "tap(3, 4)", actionText)
}

func TestAssemblerSecondMarkerStaysInAction(t *testing.T) {
	a := NewAssembler()
	a.Feed("t\nAction: tap(1, 2)\nAction: tap(3, 4)\n")
	thinking, actionText, err := a.Finalize()
	require.NoError(t, err)
	assert.Equal(t, "t", thinking)
	// Everything after the first marker belongs to the action section.
	assert.Equal(t, "tap(1, 2) Action: tap(3, 4)", actionText)
}

func TestAssemblerRawPreservesEverything(t *testing.T) {
	a := NewAssembler()
	full := "part one"
	a.Feed("part ")
	a.Feed("one")
	assert.Equal(t, full, a.Raw())
}

func TestAssemblerEmptyResponse(t *testing.T) {
	a := NewAssembler()
	thinking, _, err := a.Finalize()
	assert.ErrorIs(t, err, ErrNoActionSection)
	assert.Empty(t, thinking)
}

// internal/agent/context.go
package agent

import (
	"fmt"

	"github.com/droidpilot-ai/droidpilot-cli/api/schemas"
)

// Context maintains the ordered multi-turn conversation for one task. The
// task description is pinned as the first turn and never evicted; history
// beyond it is kept as (observation, reply) exchange pairs and evicted
// oldest-first once the exchange budget is exceeded.
//
// The context is owned exclusively by the orchestrator and rebuilt per task.
type Context struct {
	description  string
	turns        []schemas.ChatTurn // exchange history, always an even count
	maxExchanges int
}

// NewContext creates a context bounded to maxExchanges retained exchanges.
func NewContext(maxExchanges int) *Context {
	if maxExchanges <= 0 {
		maxExchanges = 1
	}
	return &Context{maxExchanges: maxExchanges}
}

// Seed pins the task description and clears any prior history.
func (c *Context) Seed(description string) {
	c.description = description
	c.turns = nil
}

// Description returns the pinned task description.
func (c *Context) Description() string {
	return c.description
}

// Exchanges returns the number of retained exchange pairs.
func (c *Context) Exchanges() int {
	return len(c.turns) / 2
}

// AppendExchange records one completed step: the observation turn that was
// sent (screenshot plus prior outcome) and the model's reply. The oldest
// exchange is dropped once the budget is exceeded; the pinned description is
// untouchable.
func (c *Context) AppendExchange(observation, reply schemas.ChatTurn) {
	c.turns = append(c.turns, observation, reply)
	for len(c.turns)/2 > c.maxExchanges {
		c.turns = c.turns[2:]
	}
}

// BuildRequest assembles the next model request: system prompt, the pinned
// task turn, the retained history, and the fresh observation turn. The
// returned slice is a copy; mutating it does not affect the context.
func (c *Context) BuildRequest(system string, observation schemas.ChatTurn) schemas.ChatRequest {
	turns := make([]schemas.ChatTurn, 0, len(c.turns)+2)
	turns = append(turns, schemas.ChatTurn{
		Role: schemas.RoleUser,
		Text: fmt.Sprintf("Task: %s", c.description),
	})
	turns = append(turns, c.turns...)
	turns = append(turns, observation)
	return schemas.ChatRequest{System: system, Turns: turns}
}

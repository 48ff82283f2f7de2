package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/droidpilot-ai/droidpilot-cli/api/schemas"
	"github.com/droidpilot-ai/droidpilot-cli/internal/config"
)

// testAgentConfig returns a loop configuration with budgets small enough for
// fast tests.
func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{
		MaxSteps:        10,
		MaxContextTurns: 4,
		CaptureRetries:  1,
		CaptureDelay:    time.Millisecond,
		StreamRetries:   1,
		ParseRetries:    1,
		DispatchRetries: 1,
		DispatchBackoff: time.Millisecond,
		StepTimeout:     time.Second,
		CancelGrace:     50 * time.Millisecond,
	}
}

// recordingObserver captures every callback as a printable entry, in order.
type recordingObserver struct {
	mu      sync.Mutex
	entries []string
}

func (r *recordingObserver) add(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, fmt.Sprintf(format, args...))
}

func (r *recordingObserver) Entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *recordingObserver) Count(prefix string) int {
	n := 0
	for _, e := range r.Entries() {
		if len(e) >= len(prefix) && e[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func (r *recordingObserver) OnTaskStarted(description string) { r.add("started:%s", description) }
func (r *recordingObserver) OnStepStarted(stepIndex int)      { r.add("step:%d", stepIndex) }
func (r *recordingObserver) OnThinkingUpdate(partial string)  { r.add("thinking:%s", partial) }
func (r *recordingObserver) OnActionExecuted(display string)  { r.add("action:%s", display) }
func (r *recordingObserver) OnTaskPaused(stepIndex int)       { r.add("paused:%d", stepIndex) }
func (r *recordingObserver) OnTaskResumed(stepIndex int)      { r.add("resumed:%d", stepIndex) }
func (r *recordingObserver) OnTaskCompleted(success bool, message string, stepCount int) {
	r.add("completed:%t:%s:%d", success, message, stepCount)
}
func (r *recordingObserver) OnTaskFailed(reason string, stepCount int) {
	r.add("failed:%s:%d", reason, stepCount)
}
func (r *recordingObserver) OnStatusChanged(status AgentState) { r.add("status:%s", status) }

// scriptedModel is a ModelTransport that replays canned responses, split into
// small fragments to exercise the assembler. The last response repeats once
// the script runs out.
type scriptedModel struct {
	mu        sync.Mutex
	responses []string
	requests  []schemas.ChatRequest
	// proceed, when non-nil, gates each call: StreamChat waits for one token
	// before streaming.
	proceed chan struct{}
	// block makes every call hang until the context is cancelled.
	block bool
}

func (m *scriptedModel) Requests() []schemas.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schemas.ChatRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *scriptedModel) StreamChat(ctx context.Context, req schemas.ChatRequest) (<-chan schemas.StreamChunk, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	idx := len(m.requests) - 1
	var resp string
	if idx < len(m.responses) {
		resp = m.responses[idx]
	} else if len(m.responses) > 0 {
		resp = m.responses[len(m.responses)-1]
	}
	block := m.block
	proceed := m.proceed
	m.mu.Unlock()

	out := make(chan schemas.StreamChunk)
	go func() {
		defer close(out)
		if block {
			<-ctx.Done()
			select {
			case out <- schemas.StreamChunk{Err: ctx.Err()}:
			default:
			}
			return
		}
		if proceed != nil {
			select {
			case <-proceed:
			case <-ctx.Done():
				return
			}
		}
		for _, frag := range splitFragments(resp, 7) {
			select {
			case out <- schemas.StreamChunk{Text: frag}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func splitFragments(s string, size int) []string {
	var out []string
	for len(s) > size {
		out = append(out, s[:size])
		s = s[size:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

// captureSink records how many steps the orchestrator handed it and whether
// the handoff context carried a deadline.
type captureSink struct {
	recorded    chan int
	hadDeadline bool
}

func (c *captureSink) Record(ctx context.Context, _ Task, steps []Step) error {
	_, c.hadDeadline = ctx.Deadline()
	c.recorded <- len(steps)
	return nil
}

// failingModel fails StreamChat synchronously a set number of times before
// delegating to the wrapped transport.
type failingModel struct {
	mu       sync.Mutex
	failures int
	err      error
	inner    schemas.ModelTransport
}

func (m *failingModel) StreamChat(ctx context.Context, req schemas.ChatRequest) (<-chan schemas.StreamChunk, error) {
	m.mu.Lock()
	if m.failures > 0 {
		m.failures--
		m.mu.Unlock()
		return nil, m.err
	}
	m.mu.Unlock()
	return m.inner.StreamChat(ctx, req)
}

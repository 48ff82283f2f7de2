// internal/agent/orchestrator.go
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/droidpilot-ai/droidpilot-cli/api/schemas"
	"github.com/droidpilot-ai/droidpilot-cli/internal/action"
	"github.com/droidpilot-ai/droidpilot-cli/internal/config"
)

// historyRecordGrace bounds the whole fire-and-forget history handoff,
// including connection setup; the sink's own RecordTimeout applies per write
// inside it.
const historyRecordGrace = 15 * time.Second

// Orchestrator is the task state machine. It owns the Task, the AgentState,
// the step history, and the conversation context for the lifetime of one run,
// and drives the perceive/decide/act loop on its own goroutine.
//
// All collaborators are injected at construction; the orchestrator reaches
// into no ambient global state.
type Orchestrator struct {
	logger     *zap.Logger
	cfg        config.AgentConfig
	screen     schemas.ScreenProvider
	model      schemas.ModelTransport
	dispatcher *Dispatcher
	events     *EventBus
	history    HistorySink

	mu             sync.Mutex
	cond           *sync.Cond
	state          AgentState
	task           *Task
	steps          []Step
	convo          *Context
	pauseRequested bool
	cancelFn       context.CancelFunc
	done           chan struct{}
}

// New constructs an orchestrator. Screen provider, model transport,
// dispatcher, and event bus are required; the history sink may be nil.
func New(
	cfg config.AgentConfig,
	screen schemas.ScreenProvider,
	model schemas.ModelTransport,
	dispatcher *Dispatcher,
	events *EventBus,
	history HistorySink,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if screen == nil || model == nil || dispatcher == nil || events == nil {
		return nil, fmt.Errorf("orchestrator requires screen provider, model transport, dispatcher, and event bus")
	}
	o := &Orchestrator{
		logger:     logger.Named("orchestrator"),
		cfg:        cfg,
		screen:     screen,
		model:      model,
		dispatcher: dispatcher,
		events:     events,
		history:    history,
		state:      StateIdle,
	}
	o.cond = sync.NewCond(&o.mu)
	return o, nil
}

// StartTask begins a new task. It returns false when a task is already
// active or the description is empty; on success the loop runs asynchronously
// and progress is reported through the event bus.
func (o *Orchestrator) StartTask(description string) bool {
	if strings.TrimSpace(description) == "" {
		o.logger.Warn("Rejecting task with empty description.")
		return false
	}

	o.mu.Lock()
	if o.state == StateRunning || o.state == StatePaused {
		o.mu.Unlock()
		o.logger.Warn("Rejecting task start: a task is already active.", zap.String("state", string(o.state)))
		return false
	}

	task := &Task{
		ID:          uuid.NewString(),
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	o.task = task
	o.steps = nil
	o.pauseRequested = false
	o.convo = NewContext(o.cfg.MaxContextTurns)
	o.convo.Seed(description)

	ctx, cancel := context.WithCancel(context.Background())
	o.cancelFn = cancel
	o.done = make(chan struct{})
	done := o.done
	o.state = StateRunning

	o.events.TaskStarted(description)
	o.events.StatusChanged(StateRunning)
	o.mu.Unlock()

	o.logger.Info("Task started.", zap.String("task_id", task.ID), zap.String("description", description))
	go o.run(ctx, done)
	return true
}

// PauseTask requests a pause. Valid only while Running; the loop parks at its
// next suspension point.
func (o *Orchestrator) PauseTask() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateRunning || o.pauseRequested {
		return false
	}
	o.pauseRequested = true
	return true
}

// ResumeTask clears a pause. Valid while Paused, or while a pause is
// requested but the loop has not parked yet.
func (o *Orchestrator) ResumeTask() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.pauseRequested && o.state != StatePaused {
		return false
	}
	o.pauseRequested = false
	o.cond.Broadcast()
	return true
}

// CancelTask requests cooperative cancellation. Idempotent; a no-op unless a
// task is active. The state becomes Cancelled once the in-flight operation
// unwinds; operations that outlive the grace period are abandoned.
func (o *Orchestrator) CancelTask() {
	o.mu.Lock()
	if o.state != StateRunning && o.state != StatePaused {
		o.mu.Unlock()
		return
	}
	cancel := o.cancelFn
	done := o.done
	o.mu.Unlock()

	o.logger.Info("Task cancellation requested.")
	if cancel != nil {
		cancel()
	}

	// Wake a parked pause wait only after the context is cancelled, so it
	// observes the cancellation instead of resuming.
	o.mu.Lock()
	o.pauseRequested = false
	o.cond.Broadcast()
	o.mu.Unlock()

	if grace := o.cfg.CancelGrace; grace > 0 && done != nil {
		go func() {
			select {
			case <-done:
			case <-time.After(grace):
				o.logger.Warn("In-flight operation did not unwind within the cancel grace period; abandoning.",
					zap.Duration("grace", grace))
			}
		}()
	}
}

// IsTaskRunning reports whether a task is active (Running or Paused).
func (o *Orchestrator) IsTaskRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state == StateRunning || o.state == StatePaused
}

// State returns the current, fully-applied state.
func (o *Orchestrator) State() AgentState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// CurrentTask returns a copy of the active (or last) task, or nil.
func (o *Orchestrator) CurrentTask() *Task {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.task == nil {
		return nil
	}
	t := *o.task
	return &t
}

// Steps returns a copy of the step history recorded so far.
func (o *Orchestrator) Steps() []Step {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Step, len(o.steps))
	copy(out, o.steps)
	return out
}

// Reset returns a terminal machine to Idle, clearing the task and its step
// history. Returns false unless the state is terminal.
func (o *Orchestrator) Reset() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.state.Terminal() {
		return false
	}
	o.state = StateIdle
	o.task = nil
	o.steps = nil
	o.convo = nil
	o.events.StatusChanged(StateIdle)
	return true
}

// Done returns a channel closed when the current run's loop has fully
// unwound. Nil before the first start.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}

// loopResult carries the terminal verdict out of the loop.
type loopResult struct {
	state   AgentState
	reason  FailureReason
	detail  string
	message string
}

func failedResult(reason FailureReason, detail string) loopResult {
	return loopResult{state: StateFailed, reason: reason, detail: detail}
}

// run executes the loop and converges every outcome onto the event surface:
// finish to OnTaskCompleted, everything else terminal to OnTaskFailed or a
// Cancelled status change.
func (o *Orchestrator) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	res := o.loop(ctx)

	o.mu.Lock()
	o.state = res.state
	task := *o.task
	steps := make([]Step, len(o.steps))
	copy(steps, o.steps)

	switch res.state {
	case StateCompleted:
		o.events.TaskCompleted(true, res.message, len(steps))
	case StateFailed:
		o.events.TaskFailed(fmt.Sprintf("%s: %s", res.reason, res.detail), len(steps))
	}
	o.events.StatusChanged(res.state)
	o.mu.Unlock()

	o.logger.Info("Task finished.",
		zap.String("task_id", task.ID),
		zap.String("state", string(res.state)),
		zap.Int("steps", len(steps)))

	o.recordHistory(task, steps)
}

// loop is the perceive/decide/act cycle. Suspension points (checkpoint,
// capture, stream, dispatch, wait) are the only places pause and cancel take
// effect, bounding their latency to one in-flight external call.
func (o *Orchestrator) loop(ctx context.Context) loopResult {
	var prev *Step

	for index := 1; ; index++ {
		if err := o.checkpoint(ctx, index); err != nil {
			return loopResult{state: StateCancelled}
		}
		o.events.StepStarted(index)

		shot, err := o.capture(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return loopResult{state: StateCancelled}
			}
			o.appendStep(Step{
				Index:     index,
				Timestamp: time.Now().UTC(),
				Dispatch:  DispatchResult{Outcome: OutcomeTransientFailure, Detail: err.Error()},
			})
			return failedResult(ReasonCaptureFailure, err.Error())
		}

		observation := schemas.ChatTurn{
			Role:       schemas.RoleUser,
			Text:       observationText(index, prev),
			Screenshot: shot,
		}

		dec, err := o.decide(ctx, observation)
		if err != nil {
			if ctx.Err() != nil {
				return loopResult{state: StateCancelled}
			}
			o.appendStep(Step{
				Index:         index,
				ScreenshotRef: shot.Ref(),
				RawResponse:   dec.raw,
				ThinkingText:  dec.thinking,
				ActionText:    dec.actionText,
				Timestamp:     time.Now().UTC(),
				Dispatch:      DispatchResult{Outcome: OutcomeFatalFailure, Detail: err.Error()},
			})
			reason := ReasonStreamFailure
			if dec.parseFailure {
				reason = ReasonActionParseFailure
			}
			return failedResult(reason, err.Error())
		}

		step := Step{
			Index:         index,
			ScreenshotRef: shot.Ref(),
			RawResponse:   dec.raw,
			ThinkingText:  dec.thinking,
			ActionText:    dec.actionText,
			Action:        dec.cmd,
			Timestamp:     time.Now().UTC(),
		}

		if dec.cmd.Kind == action.KindFinish {
			// Finish bypasses the executor entirely.
			step.Dispatch = DispatchResult{Outcome: OutcomeSuccess, Detail: "handled by orchestrator"}
		} else {
			step.Dispatch = o.dispatcher.Dispatch(ctx, dec.cmd)
		}

		o.appendStep(step)
		o.events.ActionExecuted(dec.cmd.Display())
		o.convo.AppendExchange(observation, schemas.ChatTurn{Role: schemas.RoleModel, Text: dec.raw})
		prev = &step

		if dec.cmd.Kind == action.KindFinish {
			return loopResult{state: StateCompleted, message: dec.cmd.Message}
		}
		if ctx.Err() != nil {
			return loopResult{state: StateCancelled}
		}
		if step.Dispatch.Outcome == OutcomeFatalFailure {
			return failedResult(ReasonDispatchFailure, step.Dispatch.Detail)
		}
		if index >= o.cfg.MaxSteps {
			return failedResult(ReasonStepBudgetExceeded,
				fmt.Sprintf("step budget of %d exhausted without a finish action", o.cfg.MaxSteps))
		}
	}
}

// checkpoint is the pause/cancel suspension point at the top of each
// iteration. A requested pause parks the loop here until resumed or
// cancelled.
func (o *Orchestrator) checkpoint(ctx context.Context, stepIndex int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if ctx.Err() != nil {
		return ErrCancelled
	}
	if !o.pauseRequested {
		return nil
	}

	o.state = StatePaused
	o.events.TaskPaused(stepIndex)
	o.events.StatusChanged(StatePaused)
	o.logger.Info("Task paused.", zap.Int("step", stepIndex))

	for o.pauseRequested && ctx.Err() == nil {
		o.cond.Wait()
	}
	if ctx.Err() != nil {
		return ErrCancelled
	}

	o.state = StateRunning
	o.events.TaskResumed(stepIndex)
	o.events.StatusChanged(StateRunning)
	o.logger.Info("Task resumed.", zap.Int("step", stepIndex))
	return nil
}

// capture obtains a screenshot with a bounded retry budget.
func (o *Orchestrator) capture(ctx context.Context) (*schemas.Screenshot, error) {
	var lastErr error
	for attempt := 0; attempt <= o.cfg.CaptureRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(o.cfg.CaptureDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		shot, err := o.screen.Capture(ctx)
		if err == nil {
			return shot, nil
		}
		lastErr = err
		o.logger.Warn("Screenshot capture failed.", zap.Int("attempt", attempt+1), zap.Error(err))
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("screenshot capture failed after %d attempts: %w", o.cfg.CaptureRetries+1, lastErr)
}

// decision is the outcome of one decide call: the assembled response and the
// parsed command, or the partial material recorded with a failed step.
type decision struct {
	raw          string
	thinking     string
	actionText   string
	cmd          action.Command
	parseFailure bool
}

// decide streams the next model response through a fresh assembler, parses
// the action, and retries within its bounded budgets: stream faults re-issue
// the request, unparseable responses re-prompt with an ephemeral corrective
// note. The corrective note is never persisted into the conversation.
func (o *Orchestrator) decide(ctx context.Context, observation schemas.ChatTurn) (decision, error) {
	var last decision
	streamFailures := 0
	parseFailures := 0
	note := ""

	for {
		if ctx.Err() != nil {
			return last, ErrCancelled
		}

		obs := observation
		if note != "" {
			obs.Text = obs.Text + "\n\n" + correctiveText(note)
		}
		req := o.convo.BuildRequest(systemPrompt, obs)

		asm := NewAssembler()
		ch, err := o.model.StreamChat(ctx, req)
		if err != nil {
			streamFailures++
			last.parseFailure = false
			o.logger.Warn("Model stream request failed.", zap.Int("attempt", streamFailures), zap.Error(err))
			if streamFailures > o.cfg.StreamRetries {
				return last, fmt.Errorf("model stream failed after %d attempts: %w", streamFailures, err)
			}
			continue
		}

		var streamErr error
		for chunk := range ch {
			if chunk.Err != nil {
				streamErr = chunk.Err
				continue
			}
			if delta := asm.Feed(chunk.Text); delta != "" {
				o.events.ThinkingUpdate(delta)
			}
		}
		if streamErr != nil {
			streamFailures++
			last.parseFailure = false
			o.logger.Warn("Model stream broke mid-response.", zap.Int("attempt", streamFailures), zap.Error(streamErr))
			if streamFailures > o.cfg.StreamRetries {
				return last, fmt.Errorf("model stream failed after %d attempts: %w", streamFailures, streamErr)
			}
			continue
		}

		last.raw = asm.Raw()
		thinking, actionText, err := asm.Finalize()
		last.thinking = thinking
		last.actionText = actionText
		if err != nil {
			parseFailures++
			last.parseFailure = true
			o.logger.Warn("Model response had no usable action section.", zap.Int("attempt", parseFailures), zap.Error(err))
			if parseFailures > o.cfg.ParseRetries {
				return last, fmt.Errorf("unparseable model response after %d attempts: %w", parseFailures, err)
			}
			note = err.Error()
			continue
		}

		cmd := action.Parse(actionText)
		if cmd.Kind == action.KindInvalid {
			parseFailures++
			last.parseFailure = true
			o.logger.Warn("Model produced an invalid action.", zap.Int("attempt", parseFailures), zap.String("reason", cmd.Reason))
			if parseFailures > o.cfg.ParseRetries {
				return last, fmt.Errorf("invalid action after %d attempts: %s", parseFailures, cmd.Reason)
			}
			note = cmd.Reason
			continue
		}

		last.cmd = cmd
		last.parseFailure = false
		return last, nil
	}
}

// appendStep appends to the immutable step history.
func (o *Orchestrator) appendStep(step Step) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.steps = append(o.steps, step)
}

// recordHistory hands the finished task to the history sink without letting
// any sink failure or panic near the loop.
func (o *Orchestrator) recordHistory(task Task, steps []Step) {
	if o.history == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				o.logger.Warn("History sink panicked.", zap.Any("panic_value", r))
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), historyRecordGrace)
		defer cancel()
		if err := o.history.Record(ctx, task, steps); err != nil {
			o.logger.Warn("History sink rejected the task record.", zap.Error(err))
		}
	}()
}

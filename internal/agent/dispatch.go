// internal/agent/dispatch.go
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/droidpilot-ai/droidpilot-cli/api/schemas"
	"github.com/droidpilot-ai/droidpilot-cli/internal/action"
)

// DispatcherConfig bounds the dispatch retry policy.
type DispatcherConfig struct {
	// Retries is the number of additional attempts after a transient failure.
	Retries int
	// InitialBackoff seeds the exponential backoff between attempts.
	InitialBackoff time.Duration
	// AttemptTimeout is the deadline for a single executor call.
	AttemptTimeout time.Duration
}

// Dispatcher maps actions onto the device executor, applying per-attempt
// timeouts and bounded exponential-backoff retries for transient failures.
// Wait actions are handled locally without touching the executor; finish and
// invalid actions never reach Dispatch at all.
type Dispatcher struct {
	exec   schemas.Executor
	cfg    DispatcherConfig
	logger *zap.Logger
}

// NewDispatcher creates the coordinator.
func NewDispatcher(exec schemas.Executor, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 250 * time.Millisecond
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 20 * time.Second
	}
	return &Dispatcher{
		exec:   exec,
		cfg:    cfg,
		logger: logger.Named("dispatch"),
	}
}

// Dispatch executes one action and classifies the result. It never returns a
// raw error: every failure mode is folded into the DispatchResult consumed by
// the orchestrator.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd action.Command) DispatchResult {
	switch cmd.Kind {
	case action.KindWait:
		return d.wait(ctx, cmd)
	case action.KindFinish, action.KindInvalid:
		// The orchestrator handles these before dispatch; reaching here is a
		// programming error, not an executor fault.
		return DispatchResult{
			Outcome: OutcomeFatalFailure,
			Detail:  fmt.Sprintf("action %s must not be dispatched", cmd.Kind),
		}
	}

	attempts := 0
	operation := func() error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
		defer cancel()

		err := d.call(attemptCtx, cmd)
		if err == nil {
			return nil
		}
		if schemas.IsTransient(err) {
			d.logger.Warn("Transient executor failure, will retry.",
				zap.String("action", cmd.Display()),
				zap.Int("attempt", attempts),
				zap.Error(err))
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.InitialBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(d.cfg.Retries)), ctx)

	err := backoff.Retry(operation, policy)
	if err == nil {
		return DispatchResult{Outcome: OutcomeSuccess, Attempts: attempts}
	}

	if ctx.Err() != nil {
		// The loop context was cancelled mid-dispatch; the orchestrator
		// observes cancellation itself, this result is just bookkeeping.
		return DispatchResult{
			Outcome:  OutcomeTransientFailure,
			Detail:   fmt.Sprintf("dispatch interrupted: %v", ctx.Err()),
			Attempts: attempts,
		}
	}

	detail := err.Error()
	if schemas.IsTransient(err) {
		detail = fmt.Sprintf("transient failure persisted after %d attempts: %v", attempts, err)
	}
	return DispatchResult{Outcome: OutcomeFatalFailure, Detail: detail, Attempts: attempts}
}

// call maps one action variant to exactly one executor method.
func (d *Dispatcher) call(ctx context.Context, cmd action.Command) error {
	switch cmd.Kind {
	case action.KindTap:
		return d.exec.Tap(ctx, cmd.X, cmd.Y)
	case action.KindSwipe:
		return d.exec.Swipe(ctx, cmd.X, cmd.Y, cmd.X2, cmd.Y2, cmd.DurationMs)
	case action.KindLongPress:
		return d.exec.LongPress(ctx, cmd.X, cmd.Y, cmd.DurationMs)
	case action.KindDoubleTap:
		return d.exec.DoubleTap(ctx, cmd.X, cmd.Y)
	case action.KindTypeText:
		return d.exec.TypeText(ctx, cmd.Text)
	case action.KindLaunchApp:
		return d.exec.LaunchApp(ctx, cmd.AppName)
	case action.KindKeyPress:
		return d.exec.KeyPress(ctx, cmd.KeyCode)
	default:
		return fmt.Errorf("no executor call for action kind %s", cmd.Kind)
	}
}

// wait suspends for the requested duration, still honoring cancellation.
func (d *Dispatcher) wait(ctx context.Context, cmd action.Command) DispatchResult {
	timer := time.NewTimer(time.Duration(cmd.DurationMs) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C:
		return DispatchResult{Outcome: OutcomeSuccess, Attempts: 1}
	case <-ctx.Done():
		return DispatchResult{
			Outcome:  OutcomeTransientFailure,
			Detail:   fmt.Sprintf("wait interrupted: %v", ctx.Err()),
			Attempts: 1,
		}
	}
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/droidpilot-ai/droidpilot-cli/internal/agent"
	"github.com/droidpilot-ai/droidpilot-cli/internal/config"
	"github.com/droidpilot-ai/droidpilot-cli/internal/device"
	"github.com/droidpilot-ai/droidpilot-cli/internal/history"
	"github.com/droidpilot-ai/droidpilot-cli/internal/llmclient"
	"github.com/droidpilot-ai/droidpilot-cli/internal/observability"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run \"task description\"",
		Short: "Runs one task against the device until it finishes, fails, or is interrupted",
		Args:  cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind each flag to its own key so command-line overrides win over
			// config file and env. The --history bool must land on
			// history.enabled, not on the "history" config section.
			if err := viper.BindPFlag("agent.max_steps", cmd.Flags().Lookup("max-steps")); err != nil {
				return err
			}
			if err := viper.BindPFlag("history.enabled", cmd.Flags().Lookup("history")); err != nil {
				return err
			}
			return viper.BindPFlag("loopback", cmd.Flags().Lookup("loopback"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()

			var cfg config.Config
			if err := viper.Unmarshal(&cfg); err != nil {
				return fmt.Errorf("failed to unmarshal config with flag overrides: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			description := strings.TrimSpace(strings.Join(args, " "))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runTask(ctx, &cfg, description, logger)
		},
	}

	runCmd.Flags().Int("max-steps", 0, "Step budget for this run. (Overrides config/env)")
	runCmd.Flags().Bool("history", false, "Record the finished run to the history database. (Overrides config/env)")
	runCmd.Flags().Bool("loopback", false, "Drive the in-process loopback device instead of real hardware.")

	return runCmd
}

func runTask(ctx context.Context, cfg *config.Config, description string, logger *zap.Logger) error {
	// Device. Only the loopback backend ships in-tree; a real device backend
	// plugs in through the same two interfaces.
	if !viper.GetBool("loopback") {
		return fmt.Errorf("no device backend configured; pass --loopback to drive the in-process device")
	}
	dev := device.NewLoopback(logger)

	transport, err := llmclient.NewTransport(cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize model transport: %w", err)
	}

	var sink agent.HistorySink = history.Noop{}
	if cfg.History.Enabled {
		pool, err := pgxpool.New(ctx, cfg.History.DSN)
		if err != nil {
			return fmt.Errorf("failed to connect to history database: %w", err)
		}
		defer pool.Close()
		store, err := history.New(ctx, pool, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize history store: %w", err)
		}
		sink = history.NewRecorder(store, cfg.History.RecordTimeout)
	}

	bus := agent.NewEventBus(logger)
	defer bus.Close()

	console := newConsoleObserver(os.Stdout)
	unsubscribe := bus.Subscribe(console)

	dispatcher := agent.NewDispatcher(dev, agent.DispatcherConfig{
		Retries:        cfg.Agent.DispatchRetries,
		InitialBackoff: cfg.Agent.DispatchBackoff,
		AttemptTimeout: cfg.Agent.StepTimeout,
	}, logger)

	orch, err := agent.New(cfg.Agent, dev, transport, dispatcher, bus, sink, logger)
	if err != nil {
		return err
	}

	if !orch.StartTask(description) {
		return fmt.Errorf("failed to start task")
	}
	done := orch.Done()

	var g errgroup.Group
	g.Go(func() error {
		select {
		case <-ctx.Done():
			logger.Warn("Interrupt received, cancelling task.")
			orch.CancelTask()
		case <-done:
		}
		return nil
	})
	g.Go(func() error {
		<-done
		return nil
	})
	_ = g.Wait()

	// Drain the console queue before printing the summary.
	unsubscribe()

	state := orch.State()
	steps := orch.Steps()
	fmt.Printf("\nTask %s after %d step(s).\n", strings.ToLower(string(state)), len(steps))
	if state != agent.StateCompleted {
		return fmt.Errorf("task ended in state %s", state)
	}
	return nil
}

// consoleObserver renders task progress as a live terminal transcript.
type consoleObserver struct {
	out io.Writer
}

func newConsoleObserver(out io.Writer) *consoleObserver {
	return &consoleObserver{out: out}
}

func (c *consoleObserver) OnTaskStarted(description string) {
	fmt.Fprintf(c.out, "Task: %s\n", description)
}

func (c *consoleObserver) OnStepStarted(stepIndex int) {
	fmt.Fprintf(c.out, "\n--- step %d ---\n", stepIndex)
}

func (c *consoleObserver) OnThinkingUpdate(partialText string) {
	fmt.Fprint(c.out, partialText)
}

func (c *consoleObserver) OnActionExecuted(actionDisplayText string) {
	fmt.Fprintf(c.out, ">> %s\n", actionDisplayText)
}

func (c *consoleObserver) OnTaskPaused(stepIndex int) {
	fmt.Fprintf(c.out, "[paused before step %d]\n", stepIndex)
}

func (c *consoleObserver) OnTaskResumed(stepIndex int) {
	fmt.Fprintf(c.out, "[resumed at step %d]\n", stepIndex)
}

func (c *consoleObserver) OnTaskCompleted(success bool, message string, stepCount int) {
	fmt.Fprintf(c.out, "\nCompleted in %d step(s): %s\n", stepCount, message)
}

func (c *consoleObserver) OnTaskFailed(reason string, stepCount int) {
	fmt.Fprintf(c.out, "\nFailed after %d step(s): %s\n", stepCount, reason)
}

func (c *consoleObserver) OnStatusChanged(status agent.AgentState) {}

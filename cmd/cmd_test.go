package cmd

import (
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droidpilot-ai/droidpilot-cli/internal/agent"
	"github.com/droidpilot-ai/droidpilot-cli/internal/config"
	"github.com/droidpilot-ai/droidpilot-cli/internal/observability"
)

// resetForTest clears the process-global state shared through Viper and the
// logger so each test starts clean.
func resetForTest(t *testing.T) {
	t.Helper()
	viper.Reset()
	viper.SetConfigName("a-config-file-that-does-not-exist")
	cfgFile = ""
	observability.ResetForTest()
	observability.InitializeLogger(config.LoggerConfig{Level: "fatal", Format: "console", ServiceName: "test"})
}

func TestRunCommandRequiresDeviceBackend(t *testing.T) {
	resetForTest(t)

	rootCmd.SetArgs([]string{"run", "open settings"})
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no device backend")
}

func TestRunCommandLoopbackNeedsAPIKey(t *testing.T) {
	resetForTest(t)

	rootCmd.SetArgs([]string{"run", "--loopback", "open settings"})
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API Key")
}

func TestRunCommandRejectsMissingTask(t *testing.T) {
	resetForTest(t)

	rootCmd.SetArgs([]string{"run"})
	err := rootCmd.Execute()
	require.Error(t, err)
}

func TestMaxStepsFlagOverridesConfig(t *testing.T) {
	resetForTest(t)

	rootCmd.SetArgs([]string{"run", "--max-steps", "3", "anything"})
	_ = rootCmd.Execute() // fails later for lack of a device; the binding happened in PreRunE

	assert.Equal(t, 3, viper.GetInt("agent.max_steps"))
}

func TestEnvOverrides(t *testing.T) {
	resetForTest(t)
	t.Setenv("DROIDPILOT_LLM_MODEL", "gemini-exp")

	rootCmd.SetArgs([]string{"run", "anything"})
	_ = rootCmd.Execute()

	assert.Equal(t, "gemini-exp", viper.GetString("llm.model"))
}

func TestHistoryFlagEnablesRecording(t *testing.T) {
	resetForTest(t)

	rootCmd.SetArgs([]string{"run", "--history", "open settings"})
	err := rootCmd.Execute()
	require.Error(t, err)
	// Decoding succeeded and the flag landed on history.enabled; the run
	// stops at validation because no DSN is configured.
	assert.Contains(t, err.Error(), "history.dsn is required")
	assert.True(t, viper.GetBool("history.enabled"))

	var cfg config.Config
	require.NoError(t, viper.Unmarshal(&cfg))
	assert.True(t, cfg.History.Enabled)
}

func TestConsoleObserverRendering(t *testing.T) {
	var b strings.Builder
	obs := newConsoleObserver(&b)

	obs.OnTaskStarted("open settings")
	obs.OnStepStarted(1)
	obs.OnThinkingUpdate("thinking...\n")
	obs.OnActionExecuted(`launch("Settings")`)
	obs.OnTaskPaused(2)
	obs.OnTaskResumed(2)
	obs.OnTaskCompleted(true, "done", 2)
	obs.OnStatusChanged(agent.StateCompleted)

	out := b.String()
	assert.Contains(t, out, "Task: open settings")
	assert.Contains(t, out, "--- step 1 ---")
	assert.Contains(t, out, "thinking...")
	assert.Contains(t, out, `>> launch("Settings")`)
	assert.Contains(t, out, "[paused before step 2]")
	assert.Contains(t, out, "[resumed at step 2]")
	assert.Contains(t, out, "Completed in 2 step(s): done")
}

func TestConsoleObserverFailure(t *testing.T) {
	var b strings.Builder
	obs := newConsoleObserver(&b)
	obs.OnTaskFailed("DISPATCH_FAILURE: app not installed", 4)
	assert.Contains(t, b.String(), "Failed after 4 step(s): DISPATCH_FAILURE: app not installed")
}

func TestVersionTemplate(t *testing.T) {
	resetForTest(t)

	var b strings.Builder
	rootCmd.SetOut(&b)
	rootCmd.SetArgs([]string{"--version"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, Version+"\n", b.String())
}

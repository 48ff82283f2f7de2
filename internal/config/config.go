// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent"`
	LLM     LLMConfig     `mapstructure:"llm" yaml:"llm"`
	History HistoryConfig `mapstructure:"history" yaml:"history"`
}

// LoggerConfig controls the global zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "console" or "json"
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// AgentConfig bounds the task execution loop. Every retry budget here is a
// hard upper limit; exhausting one fails the task instead of hanging.
type AgentConfig struct {
	// MaxSteps is the step budget; reaching it without a finish action fails
	// the task.
	MaxSteps int `mapstructure:"max_steps" yaml:"max_steps"`
	// MaxContextTurns bounds the conversation history (exchanges, not
	// counting the pinned task description).
	MaxContextTurns int `mapstructure:"max_context_turns" yaml:"max_context_turns"`
	// CaptureRetries is the number of additional screenshot attempts after a
	// failed capture, within one step.
	CaptureRetries int           `mapstructure:"capture_retries" yaml:"capture_retries"`
	CaptureDelay   time.Duration `mapstructure:"capture_delay" yaml:"capture_delay"`
	// StreamRetries bounds re-requests after a model stream failure.
	StreamRetries int `mapstructure:"stream_retries" yaml:"stream_retries"`
	// ParseRetries bounds re-prompts after an unparseable model response.
	ParseRetries int `mapstructure:"parse_retries" yaml:"parse_retries"`
	// DispatchRetries bounds transient executor failures per action.
	DispatchRetries int           `mapstructure:"dispatch_retries" yaml:"dispatch_retries"`
	DispatchBackoff time.Duration `mapstructure:"dispatch_backoff" yaml:"dispatch_backoff"`
	// StepTimeout is the per-attempt deadline for a single executor call.
	StepTimeout time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
	// CancelGrace is how long in-flight work gets to unwind after a cancel
	// before it is abandoned.
	CancelGrace time.Duration `mapstructure:"cancel_grace" yaml:"cancel_grace"`
}

// LLMConfig configures the model transport.
type LLMConfig struct {
	Provider          string        `mapstructure:"provider" yaml:"provider"`
	Model             string        `mapstructure:"model" yaml:"model"`
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout        time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature       float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// HistoryConfig configures the optional task history sink.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
	// RecordTimeout bounds each fire-and-forget write.
	RecordTimeout time.Duration `mapstructure:"record_timeout" yaml:"record_timeout"`
}

// Validate rejects configurations the agent cannot run with.
func (c *Config) Validate() error {
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be positive, got %d", c.Agent.MaxSteps)
	}
	if c.Agent.MaxContextTurns <= 0 {
		return fmt.Errorf("agent.max_context_turns must be positive, got %d", c.Agent.MaxContextTurns)
	}
	if c.History.Enabled && c.History.DSN == "" {
		return fmt.Errorf("history.dsn is required when history is enabled")
	}
	return nil
}

// NewDefaultConfig returns a Config populated entirely from defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Unmarshal of pure defaults cannot fail; ignore the error deliberately.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "droidpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// Agent defaults
	v.SetDefault("agent.max_steps", 30)
	v.SetDefault("agent.max_context_turns", 12)
	v.SetDefault("agent.capture_retries", 2)
	v.SetDefault("agent.capture_delay", "500ms")
	v.SetDefault("agent.stream_retries", 2)
	v.SetDefault("agent.parse_retries", 2)
	v.SetDefault("agent.dispatch_retries", 2)
	v.SetDefault("agent.dispatch_backoff", "250ms")
	v.SetDefault("agent.step_timeout", "20s")
	v.SetDefault("agent.cancel_grace", "5s")

	// LLM defaults
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("llm.api_timeout", "90s")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.requests_per_minute", 30)

	// History defaults
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.record_timeout", "10s")
}

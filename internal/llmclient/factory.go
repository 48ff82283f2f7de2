// internal/llmclient/factory.go
package llmclient

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/droidpilot-ai/droidpilot-cli/api/schemas"
	"github.com/droidpilot-ai/droidpilot-cli/internal/config"
)

// ProviderGemini is the only model provider currently wired.
const ProviderGemini = "gemini"

// NewTransport creates the ModelTransport selected by the configuration.
func NewTransport(cfg config.LLMConfig, logger *zap.Logger) (schemas.ModelTransport, error) {
	switch cfg.Provider {
	case ProviderGemini:
		return NewGeminiClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s]", cfg.Provider, ProviderGemini)
	}
}

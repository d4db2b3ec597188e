package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/tracking-engine/pkg/config"
)

// Provider names accepted in configuration.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

const defaultOpenAIEndpoint = "https://api.openai.com/v1"

// NewFromConfig builds the client for the configured provider.
// Returns ErrNotConfigured when the LLM section is incomplete.
func NewFromConfig(cfg *config.LLMConfig, logger *zap.Logger) (ToolClient, error) {
	if cfg == nil || !cfg.IsAvailable() {
		return nil, ErrNotConfigured
	}

	clientCfg := &Config{
		Endpoint:          cfg.Endpoint,
		Model:             cfg.Model,
		APIKey:            cfg.APIKey,
		MaxToolIterations: cfg.MaxToolIterations,
	}

	switch cfg.Provider {
	case ProviderAnthropic:
		if clientCfg.Endpoint == defaultOpenAIEndpoint {
			clientCfg.Endpoint = ""
		}
		return NewAnthropicClient(clientCfg, logger)
	case ProviderOpenAI, "":
		if clientCfg.Endpoint == "" {
			clientCfg.Endpoint = defaultOpenAIEndpoint
		}
		return NewClient(clientCfg, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

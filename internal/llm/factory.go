package llm

import (
	"fmt"
	"log/slog"
	"strings"
)

// ProviderType represents the type of LLM provider.
type ProviderType string

const (
	ProviderOpenAI    ProviderType = "openai"
	ProviderAnthropic ProviderType = "anthropic"
	ProviderOllama    ProviderType = "ollama"
)

// NewProvider creates a new LLM provider based on the configuration.
func NewProvider(cfg ProviderConfig, logger *slog.Logger) (Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	providerType := ProviderType(strings.ToLower(cfg.Provider))

	logger.Info("creating LLM provider",
		"provider", providerType,
		"model", cfg.Model,
	)

	switch providerType {
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("API key is required for OpenAI provider")
		}
		return NewOpenAICompatProvider(cfg, logger)

	case ProviderAnthropic:
		return NewAnthropicProvider(cfg, logger)

	case ProviderOllama:
		if cfg.BaseURL == "" {
			cfg.BaseURL = "http://localhost:11434/v1"
		}
		return NewOpenAICompatProvider(cfg, logger)

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

// ValidateProviderConfig validates the provider configuration.
func ValidateProviderConfig(cfg ProviderConfig) error {
	providerType := ProviderType(strings.ToLower(cfg.Provider))

	switch providerType {
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return fmt.Errorf("API key is required for OpenAI provider")
		}

	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return fmt.Errorf("API key is required for Anthropic provider")
		}

	case ProviderOllama:
		// Base URL is optional (defaults are used), no API key required

	default:
		return fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}

	return nil
}

// GetDefaultModel returns the default model for a given provider.
func GetDefaultModel(provider string) string {
	switch ProviderType(strings.ToLower(provider)) {
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderAnthropic:
		return "claude-sonnet-4-20250514"
	case ProviderOllama:
		return "llama3.2"
	default:
		return ""
	}
}

// Package llm provides a unified interface for interacting with various LLM providers.
package llm

import (
	"context"
)

// Provider defines the interface that all LLM providers must implement.
type Provider interface {
	// Chat sends a chat request to the LLM and returns the response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Name returns the provider name (e.g., "openai", "anthropic", "ollama").
	Name() string

	// Model returns the model name being used.
	Model() string
}

// StopReason indicates why the model stopped generating.
type StopReason string

const (
	StopReasonEndTurn   StopReason = "end_turn"
	StopReasonMaxTokens StopReason = "max_tokens"
	StopReasonStop      StopReason = "stop"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message represents a message in the conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewUserMessage creates a new user message.
func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}

// ChatRequest represents a request to the LLM.
type ChatRequest struct {
	// Messages is the conversation history.
	Messages []Message `json:"messages"`

	// SystemPrompt is the system prompt for the conversation.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// MaxTokens is the maximum number of tokens to generate.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness in the response.
	Temperature float64 `json:"temperature,omitempty"`

	// StopSequences are sequences that will stop generation.
	StopSequences []string `json:"stop_sequences,omitempty"`
}

// ChatResponse represents a response from the LLM.
type ChatResponse struct {
	// Text is the generated response text.
	Text string `json:"text"`

	// StopReason indicates why the model stopped generating.
	StopReason StopReason `json:"stop_reason"`

	// Usage contains token usage information.
	Usage Usage `json:"usage"`

	// Model is the model that generated the response.
	Model string `json:"model"`
}

// Usage contains token usage information.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// TotalTokens returns the total number of tokens used.
func (u Usage) TotalTokens() int {
	return u.InputTokens + u.OutputTokens
}

// ProviderConfig holds common configuration for LLM providers.
type ProviderConfig struct {
	// Provider is the provider name (openai, anthropic, ollama).
	Provider string `json:"provider"`

	// Model is the model to use.
	Model string `json:"model"`

	// APIKey is the API key for authentication.
	APIKey string `json:"api_key,omitempty"`

	// BaseURL is the base URL for the API (for Ollama and other compatible servers).
	BaseURL string `json:"base_url,omitempty"`

	// MaxTokens is the default maximum tokens to generate.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature is the default temperature.
	Temperature float64 `json:"temperature,omitempty"`
}

// DefaultProviderConfig returns the default provider configuration.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Provider:    "openai",
		Model:       "gpt-4o-mini",
		MaxTokens:   4096,
		Temperature: 0.3,
	}
}

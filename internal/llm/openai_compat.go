package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"
)

// OpenAICompatProvider implements the Provider interface for the OpenAI API
// and OpenAI-compatible servers such as Ollama and LM Studio.
type OpenAICompatProvider struct {
	client       *openai.Client
	model        string
	providerName string
	logger       *slog.Logger
	config       ProviderConfig
}

// NewOpenAICompatProvider creates a new OpenAI-compatible provider.
func NewOpenAICompatProvider(cfg ProviderConfig, logger *slog.Logger) (*OpenAICompatProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Local servers like Ollama don't require API keys
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "not-needed"
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	client := openai.NewClientWithConfig(clientConfig)

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	providerName := cfg.Provider
	if providerName == "" {
		providerName = "openai"
	}

	return &OpenAICompatProvider{
		client:       client,
		model:        model,
		providerName: providerName,
		logger:       logger.With("component", "openai_compat_provider", "provider", providerName),
		config:       cfg,
	}, nil
}

// NewOllamaProvider creates a new Ollama provider with default settings.
func NewOllamaProvider(baseURL, model string, logger *slog.Logger) (*OpenAICompatProvider, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}
	if model == "" {
		model = "llama3.2"
	}

	return NewOpenAICompatProvider(ProviderConfig{
		Provider: "ollama",
		BaseURL:  baseURL,
		Model:    model,
	}, logger)
}

// Chat sends a chat request and returns the response.
func (p *OpenAICompatProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	messages := p.convertMessages(req)

	chatReq := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: messages,
	}

	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}
	if len(req.StopSequences) > 0 {
		chatReq.Stop = req.StopSequences
	}

	p.logger.Debug("sending chat request",
		"model", p.model,
		"message_count", len(messages),
	)

	response, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		p.logger.Error("chat completion failed", "error", err)
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}

	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned from API")
	}

	choice := response.Choices[0]

	return &ChatResponse{
		Text:       choice.Message.Content,
		StopReason: convertFinishReason(choice.FinishReason),
		Usage: Usage{
			InputTokens:  response.Usage.PromptTokens,
			OutputTokens: response.Usage.CompletionTokens,
		},
		Model: response.Model,
	}, nil
}

// Name returns the provider name.
func (p *OpenAICompatProvider) Name() string {
	return p.providerName
}

// Model returns the model name.
func (p *OpenAICompatProvider) Model() string {
	return p.model
}

// convertMessages converts our Message format to OpenAI's format.
func (p *OpenAICompatProvider) convertMessages(req ChatRequest) []openai.ChatCompletionMessage {
	var result []openai.ChatCompletionMessage

	if req.SystemPrompt != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}

	for _, msg := range req.Messages {
		role := openai.ChatMessageRoleUser
		switch msg.Role {
		case RoleSystem:
			role = openai.ChatMessageRoleSystem
		case RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}

		result = append(result, openai.ChatCompletionMessage{
			Role:    role,
			Content: msg.Content,
		})
	}

	return result
}

// convertFinishReason converts OpenAI's finish reason to our StopReason type.
func convertFinishReason(reason openai.FinishReason) StopReason {
	switch reason {
	case openai.FinishReasonStop:
		return StopReasonEndTurn
	case openai.FinishReasonLength:
		return StopReasonMaxTokens
	default:
		return StopReasonEndTurn
	}
}

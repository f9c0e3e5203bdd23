package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements the Provider interface for Anthropic's Claude models.
type AnthropicProvider struct {
	client *anthropic.Client
	model  string
	logger *slog.Logger
	config ProviderConfig
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(cfg ProviderConfig, logger *slog.Logger) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required")
	}

	if logger == nil {
		logger = slog.Default()
	}

	client := anthropic.NewClient(
		option.WithAPIKey(cfg.APIKey),
	)

	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}

	return &AnthropicProvider{
		client: &client,
		model:  model,
		logger: logger.With("component", "anthropic_provider"),
		config: cfg,
	}, nil
}

// Chat sends a chat request to Claude and returns the response.
func (p *AnthropicProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	messages := p.convertMessages(req.Messages)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}

	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.SystemPrompt},
		}
	}

	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	if len(req.StopSequences) > 0 {
		params.StopSequences = req.StopSequences
	}

	p.logger.Debug("sending request to Anthropic",
		"model", p.model,
		"message_count", len(messages),
	)

	response, err := p.client.Messages.New(ctx, params)
	if err != nil {
		p.logger.Error("Anthropic API call failed", "error", err)
		return nil, fmt.Errorf("Anthropic API call failed: %w", err)
	}

	return p.convertResponse(response), nil
}

// Name returns the provider name.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Model returns the model name.
func (p *AnthropicProvider) Model() string {
	return p.model
}

// convertMessages converts our Message format to Anthropic's format.
func (p *AnthropicProvider) convertMessages(messages []Message) []anthropic.MessageParam {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == RoleSystem {
			// System messages are handled separately in Anthropic
			continue
		}

		content := []anthropic.ContentBlockParamUnion{
			{
				OfText: &anthropic.TextBlockParam{
					Type: "text",
					Text: msg.Content,
				},
			},
		}

		result = append(result, anthropic.MessageParam{
			Role:    anthropic.MessageParamRole(msg.Role),
			Content: content,
		})
	}

	return result
}

// convertResponse converts Anthropic's response to our ChatResponse format.
func (p *AnthropicProvider) convertResponse(resp *anthropic.Message) *ChatResponse {
	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &ChatResponse{
		Text:       text,
		StopReason: p.convertStopReason(resp.StopReason),
		Usage: Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
		Model: string(resp.Model),
	}
}

// convertStopReason converts Anthropic's stop reason to our StopReason type.
func (p *AnthropicProvider) convertStopReason(reason anthropic.StopReason) StopReason {
	switch reason {
	case "max_tokens":
		return StopReasonMaxTokens
	case "stop_sequence":
		return StopReasonStop
	default:
		return StopReasonEndTurn
	}
}

package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/docstackhq/docstack/internal/llm"
)

const answerSystemPrompt = `You answer questions about the user's uploaded documents. ` +
	`Use only the numbered sources provided in the context. Cite sources inline ` +
	`as [1], [2] and so on. If the context does not contain the answer, say so ` +
	`plainly instead of guessing.`

// AnswererConfig holds configuration for the answer service.
type AnswererConfig struct {
	TopK           int
	MinScore       float64
	SearchType     SearchType
	MaxTokens      int
	Temperature    float64
	ContextBudget  int
	ResponseBuffer int
}

// DefaultAnswererConfig returns a default configuration.
func DefaultAnswererConfig() AnswererConfig {
	return AnswererConfig{
		TopK:           8,
		MinScore:       0.5,
		SearchType:     SearchTypeHybrid,
		MaxTokens:      1024,
		Temperature:    0.3,
		ContextBudget:  3000,
		ResponseBuffer: 1024,
	}
}

// Answer is the result of a question over the document corpus.
type Answer struct {
	Text       string     `json:"text"`
	Citations  []Citation `json:"citations"`
	Model      string     `json:"model"`
	TokensUsed int        `json:"tokens_used"`
	DurationMs int64      `json:"duration_ms"`
}

// Answerer composes retrieval, context assembly and generation into a
// question answering pipeline.
type Answerer struct {
	retriever *Retriever
	builder   *ContextBuilder
	provider  llm.Provider
	config    AnswererConfig
	logger    *slog.Logger
}

// NewAnswerer creates an Answerer.
func NewAnswerer(
	retriever *Retriever,
	builder *ContextBuilder,
	provider llm.Provider,
	cfg AnswererConfig,
	logger *slog.Logger,
) (*Answerer, error) {
	if retriever == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if builder == nil {
		return nil, fmt.Errorf("context builder is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultAnswererConfig().TopK
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultAnswererConfig().MaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Answerer{
		retriever: retriever,
		builder:   builder,
		provider:  provider,
		config:    cfg,
		logger:    logger.With("component", "answerer"),
	}, nil
}

// Ask answers a question grounded in retrieved chunks. When nothing
// relevant is found it returns an answer saying so, with no citations.
func (a *Answerer) Ask(ctx context.Context, question string) (*Answer, error) {
	start := time.Now()

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question is empty")
	}

	retrieval, err := a.retriever.Retrieve(ctx, question, RetrievalOptions{
		TopK:       a.config.TopK,
		MinScore:   a.config.MinScore,
		SearchType: a.config.SearchType,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}

	if len(retrieval.Chunks) == 0 {
		a.logger.Info("no relevant chunks for question", "question", question)
		return &Answer{
			Text:       "I could not find anything relevant to that question in the uploaded documents.",
			Citations:  []Citation{},
			Model:      a.provider.Model(),
			DurationMs: time.Since(start).Milliseconds(),
		}, nil
	}

	built, err := a.builder.Build(retrieval.Chunks, ContextOptions{
		MaxTokens:      a.config.ContextBudget,
		ResponseBuffer: a.config.ResponseBuffer,
	})
	if err != nil {
		return nil, fmt.Errorf("context assembly failed: %w", err)
	}

	prompt := a.builder.BuildPrompt(built, question, "")

	resp, err := a.provider.Chat(ctx, llm.ChatRequest{
		SystemPrompt: answerSystemPrompt,
		Messages:     []llm.Message{llm.NewUserMessage(prompt)},
		MaxTokens:    a.config.MaxTokens,
		Temperature:  a.config.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}

	answer := &Answer{
		Text:       strings.TrimSpace(resp.Text),
		Citations:  built.Citations,
		Model:      resp.Model,
		TokensUsed: resp.Usage.TotalTokens(),
		DurationMs: time.Since(start).Milliseconds(),
	}

	a.logger.Info("question answered",
		"sources", len(built.Citations),
		"tokens", answer.TokensUsed,
		"duration_ms", answer.DurationMs,
	)

	return answer, nil
}

package llm

import (
	"context"
	"fmt"
	"log/slog"
)

// FallbackProvider tries a primary provider first and falls back to a
// secondary provider when the primary fails. Useful for running OpenAI
// as the main provider with Anthropic as a backup (or vice versa).
type FallbackProvider struct {
	primary   Provider
	secondary Provider
	logger    *slog.Logger
}

// NewFallbackProvider creates a provider chain of primary and secondary.
func NewFallbackProvider(primary, secondary Provider, logger *slog.Logger) *FallbackProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackProvider{
		primary:   primary,
		secondary: secondary,
		logger:    logger.With("component", "fallback_provider"),
	}
}

// Chat sends the request to the primary provider and retries against the
// secondary when the primary returns an error. Context cancellation is not
// retried.
func (p *FallbackProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	resp, err := p.primary.Chat(ctx, req)
	if err == nil {
		return resp, nil
	}

	if ctx.Err() != nil {
		return nil, err
	}

	if p.secondary == nil {
		return nil, err
	}

	p.logger.Warn("primary provider failed, trying fallback",
		"primary", p.primary.Name(),
		"fallback", p.secondary.Name(),
		"error", err,
	)

	resp, fbErr := p.secondary.Chat(ctx, req)
	if fbErr != nil {
		return nil, fmt.Errorf("primary failed (%v), fallback failed: %w", err, fbErr)
	}

	return resp, nil
}

// Name returns the provider chain name.
func (p *FallbackProvider) Name() string {
	if p.secondary == nil {
		return p.primary.Name()
	}
	return p.primary.Name() + "+" + p.secondary.Name()
}

// Model returns the primary provider's model.
func (p *FallbackProvider) Model() string {
	return p.primary.Model()
}

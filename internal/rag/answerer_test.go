package rag

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/docstackhq/docstack/internal/llm"
	"github.com/docstackhq/docstack/internal/storage"
)

type scriptedProvider struct {
	reply    string
	requests []llm.ChatRequest
}

func (p *scriptedProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	p.requests = append(p.requests, req)
	return &llm.ChatResponse{
		Text:  p.reply,
		Model: "scripted-model",
		Usage: llm.Usage{InputTokens: 100, OutputTokens: 20},
	}, nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Model() string { return "scripted-model" }

func (p *scriptedProvider) Health(ctx context.Context) error { return nil }

func answerChunk(content, title string, similarity float64) storage.RetrievedChunk {
	return storage.RetrievedChunk{
		DocumentChunk: storage.DocumentChunk{
			ID:          uuid.New(),
			DocumentID:  uuid.New(),
			Content:     content,
			Granularity: "rag",
			PageNumber:  1,
		},
		Similarity:    similarity,
		DocumentTitle: title,
	}
}

func newTestAnswerer(t *testing.T, store *MockVectorStore, provider llm.Provider) *Answerer {
	t.Helper()

	embedder := &MockEmbedder{embedding: []float32{0.1, 0.2, 0.3}}
	retriever := NewRetriever(store, embedder, nil, nil, DefaultRetrieverConfig())

	builder := NewContextBuilder(nil, DefaultContextBuilderConfig(), nil)

	cfg := DefaultAnswererConfig()
	cfg.SearchType = SearchTypeSemantic

	answerer, err := NewAnswerer(retriever, builder, provider, cfg, nil)
	if err != nil {
		t.Fatalf("NewAnswerer failed: %v", err)
	}
	return answerer
}

func TestAnswererAsk(t *testing.T) {
	store := &MockVectorStore{
		searchResults: []storage.RetrievedChunk{
			answerChunk("Revenue grew 12% year over year.", "Annual Report", 0.92),
			answerChunk("Operating margin held at 18%.", "Annual Report", 0.85),
		},
	}
	provider := &scriptedProvider{reply: "Revenue grew 12% [1]."}

	answerer := newTestAnswerer(t, store, provider)

	answer, err := answerer.Ask(context.Background(), "How did revenue change?")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}

	if answer.Text != "Revenue grew 12% [1]." {
		t.Errorf("unexpected answer text: %q", answer.Text)
	}
	if len(answer.Citations) != 2 {
		t.Errorf("expected 2 citations, got %d", len(answer.Citations))
	}
	if answer.Model != "scripted-model" {
		t.Errorf("unexpected model: %q", answer.Model)
	}
	if answer.TokensUsed != 120 {
		t.Errorf("expected 120 tokens used, got %d", answer.TokensUsed)
	}

	if len(provider.requests) != 1 {
		t.Fatalf("expected 1 chat request, got %d", len(provider.requests))
	}
	req := provider.requests[0]
	if req.SystemPrompt == "" {
		t.Error("expected a system prompt")
	}
	if len(req.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(req.Messages))
	}
	prompt := req.Messages[0].Content
	if !strings.Contains(prompt, "Revenue grew 12%") {
		t.Error("prompt should contain retrieved content")
	}
	if !strings.Contains(prompt, "How did revenue change?") {
		t.Error("prompt should contain the question")
	}
}

func TestAnswererAskNoResults(t *testing.T) {
	store := &MockVectorStore{searchResults: nil}
	provider := &scriptedProvider{reply: "should not be called"}

	answerer := newTestAnswerer(t, store, provider)

	answer, err := answerer.Ask(context.Background(), "Anything about llamas?")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}

	if len(provider.requests) != 0 {
		t.Errorf("provider should not be called when nothing is retrieved")
	}
	if len(answer.Citations) != 0 {
		t.Errorf("expected no citations, got %d", len(answer.Citations))
	}
	if !strings.Contains(answer.Text, "could not find") {
		t.Errorf("unexpected fallback text: %q", answer.Text)
	}
}

func TestAnswererAskEmptyQuestion(t *testing.T) {
	answerer := newTestAnswerer(t, &MockVectorStore{}, &scriptedProvider{})

	if _, err := answerer.Ask(context.Background(), "   "); err == nil {
		t.Error("expected error for empty question")
	}
}

// Package summarizer produces document summaries via a map-reduce
// pipeline over an LLM provider.
package summarizer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/docstackhq/docstack/internal/chunker"
	"github.com/docstackhq/docstack/internal/llm"
)

const mapPrompt = `You are summarizing one section of a longer document. ` +
	`Write a dense, factual summary of the section below. Preserve key facts, ` +
	`figures, names and conclusions. Do not add commentary or headers.`

const reducePrompt = `You are combining section summaries of a single document ` +
	`into one coherent summary. Merge the sections below into a well-structured ` +
	`summary that reads as a single piece. Remove redundancy, keep all important ` +
	`facts, and preserve the document's overall argument and ordering.`

const singlePassPrompt = `Write a dense, factual summary of the document below. ` +
	`Preserve key facts, figures, names and conclusions. Do not add commentary.`

// Stage names reported through ProgressFunc.
const (
	StageMap    = "map"
	StageReduce = "reduce"
)

// ProgressFunc is called as the pipeline advances. done counts completed
// map chunks; during the reduce stage done equals total.
type ProgressFunc func(stage string, done, total int)

// Config holds summarizer tuning parameters.
type Config struct {
	MapWorkers      int
	MapMaxTokens    int
	ReduceMaxTokens int
	Temperature     float64
}

// DefaultConfig returns the default summarizer configuration.
func DefaultConfig() Config {
	return Config{
		MapWorkers:      4,
		MapMaxTokens:    1024,
		ReduceMaxTokens: 2048,
		Temperature:     0.3,
	}
}

// Summarizer runs map-reduce summarization over large documents.
type Summarizer struct {
	provider llm.Provider
	chunker  *chunker.Chunker
	config   Config
	logger   *slog.Logger
}

// New creates a Summarizer. The chunker should use a summary-granularity
// profile so each map chunk fits comfortably in the provider's context.
func New(provider llm.Provider, ck *chunker.Chunker, cfg Config, logger *slog.Logger) (*Summarizer, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if ck == nil {
		return nil, fmt.Errorf("chunker is required")
	}
	if cfg.MapWorkers <= 0 {
		cfg.MapWorkers = DefaultConfig().MapWorkers
	}
	if cfg.MapMaxTokens <= 0 {
		cfg.MapMaxTokens = DefaultConfig().MapMaxTokens
	}
	if cfg.ReduceMaxTokens <= 0 {
		cfg.ReduceMaxTokens = DefaultConfig().ReduceMaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Summarizer{
		provider: provider,
		chunker:  ck,
		config:   cfg,
		logger:   logger.With("component", "summarizer"),
	}, nil
}

// Result holds the output of a summarization run.
type Result struct {
	Summary     string
	ChunksTotal int
	Duration    time.Duration
}

// Summarize produces a summary of text. Short documents are summarized
// in a single pass; longer ones are split, mapped in parallel and reduced.
func (s *Summarizer) Summarize(ctx context.Context, text string, progress ProgressFunc) (*Result, error) {
	start := time.Now()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("document text is empty")
	}
	if progress == nil {
		progress = func(string, int, int) {}
	}

	chunks := s.chunker.Chunk(text, chunker.ChunkMetadata{})
	if len(chunks) == 0 {
		return nil, fmt.Errorf("document produced no chunks")
	}

	s.logger.Debug("starting summarization",
		"chunks", len(chunks),
		"workers", s.config.MapWorkers,
		"provider", s.provider.Name(),
	)

	var summary string
	var err error
	if len(chunks) == 1 {
		progress(StageMap, 0, 1)
		summary, err = s.summarizeChunk(ctx, singlePassPrompt, chunks[0].Content, s.config.ReduceMaxTokens)
		if err != nil {
			return nil, fmt.Errorf("single-pass summary failed: %w", err)
		}
		progress(StageMap, 1, 1)
	} else {
		partials, mapErr := s.mapChunks(ctx, chunks, progress)
		if mapErr != nil {
			return nil, mapErr
		}
		progress(StageReduce, len(chunks), len(chunks))
		summary, err = s.reduce(ctx, partials)
		if err != nil {
			return nil, fmt.Errorf("reduce failed: %w", err)
		}
	}

	duration := time.Since(start)
	s.logger.Info("summarization complete",
		"chunks", len(chunks),
		"summary_chars", len(summary),
		"duration_ms", duration.Milliseconds(),
	)

	return &Result{
		Summary:     summary,
		ChunksTotal: len(chunks),
		Duration:    duration,
	}, nil
}

// mapChunks summarizes each chunk in parallel, preserving chunk order
// in the returned slice.
func (s *Summarizer) mapChunks(ctx context.Context, chunks []chunker.Chunk, progress ProgressFunc) ([]string, error) {
	type job struct {
		index   int
		content string
	}
	type outcome struct {
		index   int
		summary string
		err     error
	}

	jobs := make(chan job)
	outcomes := make(chan outcome, len(chunks))

	workers := s.config.MapWorkers
	if workers > len(chunks) {
		workers = len(chunks)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				summary, err := s.summarizeChunk(ctx, mapPrompt, j.content, s.config.MapMaxTokens)
				select {
				case outcomes <- outcome{index: j.index, summary: summary, err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, c := range chunks {
			select {
			case jobs <- job{index: i, content: c.Content}:
			case <-ctx.Done():
				return
			}
		}
	}()

	partials := make([]string, len(chunks))
	done := 0
	progress(StageMap, 0, len(chunks))
	for done < len(chunks) {
		select {
		case out := <-outcomes:
			if out.err != nil {
				cancel()
				wg.Wait()
				return nil, fmt.Errorf("map chunk %d failed: %w", out.index, out.err)
			}
			partials[out.index] = out.summary
			done++
			progress(StageMap, done, len(chunks))
		case <-ctx.Done():
			wg.Wait()
			return nil, ctx.Err()
		}
	}
	wg.Wait()

	return partials, nil
}

// reduce combines ordered partial summaries into the final summary.
func (s *Summarizer) reduce(ctx context.Context, partials []string) (string, error) {
	var b strings.Builder
	for i, p := range partials {
		fmt.Fprintf(&b, "--- Section %d ---\n%s\n\n", i+1, strings.TrimSpace(p))
	}
	return s.summarizeChunk(ctx, reducePrompt, b.String(), s.config.ReduceMaxTokens)
}

func (s *Summarizer) summarizeChunk(ctx context.Context, systemPrompt, content string, maxTokens int) (string, error) {
	resp, err := s.provider.Chat(ctx, llm.ChatRequest{
		SystemPrompt: systemPrompt,
		Messages:     []llm.Message{llm.NewUserMessage(content)},
		MaxTokens:    maxTokens,
		Temperature:  s.config.Temperature,
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("provider returned empty summary")
	}
	return text, nil
}

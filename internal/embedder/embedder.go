// Package embedder provides embedding generation services for text-to-vector conversion.
package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/docstackhq/docstack/pkg/logger"
)

// Embedder defines the interface for embedding generation.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding dimension.
	Dimension() int

	// ModelName returns the model name.
	ModelName() string
}

// Config holds configuration for the embedder.
type Config struct {
	APIKey         string
	BaseURL        string // Optional OpenAI-compatible endpoint
	Model          string
	MaxBatchSize   int           // Max texts per batch (default: 100)
	MaxRetries     int           // Max retry attempts
	RetryDelay     time.Duration // Initial retry delay
	RateLimitRPS   int           // Requests per second
	EnableCache    bool          // Enable embedding caching
	CacheSize      int           // Max cache entries
	RequestTimeout time.Duration // Timeout per request
}

// DefaultConfig returns default configuration.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:         apiKey,
		Model:          "text-embedding-3-small",
		MaxBatchSize:   100,
		MaxRetries:     3,
		RetryDelay:     time.Second,
		RateLimitRPS:   50,
		EnableCache:    true,
		CacheSize:      10000,
		RequestTimeout: 60 * time.Second,
	}
}

// OpenAIEmbedder implements embedding generation using the OpenAI API.
type OpenAIEmbedder struct {
	client      *openai.Client
	config      Config
	rateLimiter *rate.Limiter
	cache       *embeddingCache
	log         *logger.Logger
	stats       *Stats
	statsMu     sync.RWMutex
}

// Stats tracks embedding usage statistics.
type Stats struct {
	TotalRequests    int64   `json:"total_requests"`
	TotalTokens      int64   `json:"total_tokens"`
	TotalTexts       int64   `json:"total_texts"`
	CacheHits        int64   `json:"cache_hits"`
	CacheMisses      int64   `json:"cache_misses"`
	Errors           int64   `json:"errors"`
	AvgLatencyMs     float64 `json:"avg_latency_ms"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// embeddingCache provides a simple LRU cache for embeddings.
type embeddingCache struct {
	entries map[string]*cacheEntry
	order   []string
	maxSize int
	mu      sync.RWMutex
}

type cacheEntry struct {
	embedding []float32
	createdAt time.Time
}

// NewOpenAIEmbedder creates a new OpenAI embedder.
func NewOpenAIEmbedder(cfg Config, log *logger.Logger) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	if log == nil {
		log = logger.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	client := openai.NewClientWithConfig(clientCfg)

	var cache *embeddingCache
	if cfg.EnableCache {
		cache = &embeddingCache{
			entries: make(map[string]*cacheEntry),
			order:   make([]string, 0, cfg.CacheSize),
			maxSize: cfg.CacheSize,
		}
	}

	return &OpenAIEmbedder{
		client:      client,
		config:      cfg,
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitRPS),
		cache:       cache,
		log:         log.WithComponent("embedder"),
		stats:       &Stats{},
	}, nil
}

// Embed generates an embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	startTime := time.Now()
	e.log.Debug("embedding batch", "count", len(texts))

	// Check cache for existing embeddings
	results := make([][]float32, len(texts))
	textsToEmbed := make([]string, 0, len(texts))
	textIndices := make([]int, 0, len(texts))

	if e.cache != nil {
		for i, text := range texts {
			if emb := e.cache.get(text); emb != nil {
				results[i] = emb
				e.incrementCacheHit()
			} else {
				textsToEmbed = append(textsToEmbed, text)
				textIndices = append(textIndices, i)
				e.incrementCacheMiss()
			}
		}
	} else {
		textsToEmbed = texts
		for i := range texts {
			textIndices = append(textIndices, i)
		}
	}

	if len(textsToEmbed) == 0 {
		e.log.Debug("all embeddings from cache", "count", len(texts))
		return results, nil
	}

	// Process in batches
	for i := 0; i < len(textsToEmbed); i += e.config.MaxBatchSize {
		end := i + e.config.MaxBatchSize
		if end > len(textsToEmbed) {
			end = len(textsToEmbed)
		}

		batchTexts := textsToEmbed[i:end]
		batchIndices := textIndices[i:end]

		embeddings, tokens, err := e.embedBatchWithRetry(ctx, batchTexts)
		if err != nil {
			e.incrementError()
			return nil, fmt.Errorf("batch embedding failed: %w", err)
		}

		for j, emb := range embeddings {
			results[batchIndices[j]] = emb
			if e.cache != nil {
				e.cache.set(batchTexts[j], emb)
			}
		}

		e.updateStats(len(batchTexts), tokens, time.Since(startTime))
	}

	e.log.Info("batch embedding complete",
		"total_texts", len(texts),
		"from_cache", len(texts)-len(textsToEmbed),
		"from_api", len(textsToEmbed),
		"duration_ms", time.Since(startTime).Milliseconds(),
	)

	return results, nil
}

// embedBatchWithRetry performs the actual embedding call with retries.
func (e *OpenAIEmbedder) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, int, error) {
	var lastErr error
	delay := e.config.RetryDelay

	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			e.log.Debug("retrying embedding request", "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2 // Exponential backoff
		}

		if err := e.rateLimiter.Wait(ctx); err != nil {
			return nil, 0, fmt.Errorf("rate limiter error: %w", err)
		}

		embeddings, tokens, err := e.doEmbedBatch(ctx, texts)
		if err == nil {
			return embeddings, tokens, nil
		}

		lastErr = err
		e.log.WithError(err).Warn("embedding request failed", "attempt", attempt)
	}

	return nil, 0, fmt.Errorf("all retries failed: %w", lastErr)
}

// doEmbedBatch performs a single embedding API call.
func (e *OpenAIEmbedder) doEmbedBatch(ctx context.Context, texts []string) ([][]float32, int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.config.RequestTimeout)
	defer cancel()

	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.config.Model),
	}

	resp, err := e.client.CreateEmbeddings(reqCtx, req)
	if err != nil {
		return nil, 0, fmt.Errorf("OpenAI API error: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, 0, fmt.Errorf("unexpected response: got %d embeddings for %d texts", len(resp.Data), len(texts))
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		embeddings[i] = data.Embedding
	}

	return embeddings, resp.Usage.TotalTokens, nil
}

// Dimension returns the embedding dimension for the model.
func (e *OpenAIEmbedder) Dimension() int {
	switch e.config.Model {
	case "text-embedding-3-large":
		return 3072
	default:
		// text-embedding-3-small, text-embedding-ada-002
		return 1536
	}
}

// ModelName returns the model name.
func (e *OpenAIEmbedder) ModelName() string {
	return e.config.Model
}

// GetStats returns current embedding statistics.
func (e *OpenAIEmbedder) GetStats() Stats {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()
	return *e.stats
}

// ResetStats resets the statistics.
func (e *OpenAIEmbedder) ResetStats() {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.stats = &Stats{}
}

func (e *OpenAIEmbedder) updateStats(textCount, tokens int, latency time.Duration) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	e.stats.TotalRequests++
	e.stats.TotalTokens += int64(tokens)
	e.stats.TotalTexts += int64(textCount)

	totalLatency := e.stats.AvgLatencyMs * float64(e.stats.TotalRequests-1)
	e.stats.AvgLatencyMs = (totalLatency + float64(latency.Milliseconds())) / float64(e.stats.TotalRequests)

	// $0.02 per 1M tokens for text-embedding-3-small
	e.stats.EstimatedCostUSD = float64(e.stats.TotalTokens) * 0.00000002
}

func (e *OpenAIEmbedder) incrementCacheHit() {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.stats.CacheHits++
}

func (e *OpenAIEmbedder) incrementCacheMiss() {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.stats.CacheMisses++
}

func (e *OpenAIEmbedder) incrementError() {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.stats.Errors++
}

// Cache methods

func (c *embeddingCache) get(text string) []float32 {
	if c == nil {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[hashText(text)]
	if !ok {
		return nil
	}
	return entry.embedding
}

func (c *embeddingCache) set(text string, embedding []float32) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := hashText(text)
	if _, exists := c.entries[key]; exists {
		return
	}

	// Evict oldest if at capacity
	if len(c.entries) >= c.maxSize && c.maxSize > 0 && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[key] = &cacheEntry{
		embedding: embedding,
		createdAt: time.Now(),
	}
	c.order = append(c.order, key)
}

// hashText generates a hash key for caching.
func hashText(text string) string {
	hash := sha256.Sum256([]byte(text))
	return hex.EncodeToString(hash[:16])
}

// MockEmbedder provides a deterministic embedder for testing.
type MockEmbedder struct {
	dimension int
}

// NewMockEmbedder creates a new mock embedder.
func NewMockEmbedder(dimension int) *MockEmbedder {
	return &MockEmbedder{dimension: dimension}
}

// Embed generates a deterministic embedding based on the text hash.
func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	hash := sha256.Sum256([]byte(text))
	embedding := make([]float32, m.dimension)
	for i := 0; i < m.dimension; i++ {
		embedding[i] = float32(hash[i%32]) / 255.0
	}
	return embedding, nil
}

// EmbedBatch generates mock embeddings for multiple texts.
func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimension returns the mock embedding dimension.
func (m *MockEmbedder) Dimension() int {
	return m.dimension
}

// ModelName returns the mock model name.
func (m *MockEmbedder) ModelName() string {
	return "mock-embedder"
}

// CosineSimilarity calculates cosine similarity between two embeddings.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return float32(dotProduct / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// NormalizeEmbedding normalizes an embedding to unit length.
func NormalizeEmbedding(embedding []float32) []float32 {
	var norm float64
	for _, v := range embedding {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)

	if norm == 0 {
		return embedding
	}

	result := make([]float32, len(embedding))
	for i, v := range embedding {
		result[i] = float32(float64(v) / norm)
	}
	return result
}

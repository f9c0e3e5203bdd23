// Package rag provides retrieval components over the chunk store.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/docstackhq/docstack/internal/chunker"
	"github.com/docstackhq/docstack/internal/storage"
)

// Embedder defines the interface for generating embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// CacheManager defines the interface for caching operations.
type CacheManager interface {
	GetEmbedding(ctx context.Context, query string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, query string, embedding []float32) error
	GetRetrieval(ctx context.Context, key string) ([]storage.RetrievedChunk, bool, error)
	SetRetrieval(ctx context.Context, key string, chunks []storage.RetrievedChunk) error
	BuildRetrievalKey(query string, granularity string, topK int) string
}

// Retriever searches the chunk store with semantic, keyword or hybrid search.
// Retrieval always targets retrieval-granularity chunks; summary chunks are
// never mixed into search results.
type Retriever struct {
	vectorStore storage.VectorStore
	embedder    Embedder
	cache       CacheManager
	logger      *slog.Logger
	config      RetrieverConfig
}

// RetrieverConfig holds configuration for the retriever.
type RetrieverConfig struct {
	DefaultTopK        int
	DefaultMinScore    float64
	RRFConstant        int     // k constant for RRF (default: 60)
	SemanticWeight     float64 // Weight for semantic search results (0-1)
	KeywordWeight      float64 // Weight for keyword search results (0-1)
	EnableHybridSearch bool
	CacheEnabled       bool
}

// DefaultRetrieverConfig returns a default configuration.
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		DefaultTopK:        10,
		DefaultMinScore:    0.5,
		RRFConstant:        60,
		SemanticWeight:     0.7,
		KeywordWeight:      0.3,
		EnableHybridSearch: true,
		CacheEnabled:       true,
	}
}

// RetrievalOptions represents options for retrieval.
type RetrievalOptions struct {
	TopK        int
	MinScore    float64
	SearchType  SearchType
	DocumentIDs []string
}

// SearchType defines the type of search to perform.
type SearchType string

const (
	SearchTypeSemantic SearchType = "semantic"
	SearchTypeKeyword  SearchType = "keyword"
	SearchTypeHybrid   SearchType = "hybrid"
)

// RetrievalResult represents the result of a retrieval operation.
type RetrievalResult struct {
	Chunks     []storage.RetrievedChunk `json:"chunks"`
	Query      string                   `json:"query"`
	SearchType SearchType               `json:"search_type"`
	Timing     RetrievalTiming          `json:"timing"`
	CacheHit   bool                     `json:"cache_hit"`
}

// RetrievalTiming tracks timing information for retrieval.
type RetrievalTiming struct {
	EmbeddingMs int64 `json:"embedding_ms"`
	SemanticMs  int64 `json:"semantic_ms"`
	KeywordMs   int64 `json:"keyword_ms"`
	FusionMs    int64 `json:"fusion_ms"`
	TotalMs     int64 `json:"total_ms"`
}

// NewRetriever creates a new Retriever instance.
func NewRetriever(
	vectorStore storage.VectorStore,
	embedder Embedder,
	cache CacheManager,
	logger *slog.Logger,
	config RetrieverConfig,
) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}

	// Apply defaults if zero values
	if config.DefaultTopK == 0 {
		config.DefaultTopK = 10
	}
	if config.DefaultMinScore == 0 {
		config.DefaultMinScore = 0.5
	}
	if config.RRFConstant == 0 {
		config.RRFConstant = 60
	}
	if config.SemanticWeight == 0 {
		config.SemanticWeight = 0.7
	}
	if config.KeywordWeight == 0 {
		config.KeywordWeight = 0.3
	}

	return &Retriever{
		vectorStore: vectorStore,
		embedder:    embedder,
		cache:       cache,
		logger:      logger.With("component", "retriever"),
		config:      config,
	}
}

// Retrieve performs retrieval using the specified search type.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts RetrievalOptions) (*RetrievalResult, error) {
	startTotal := time.Now()

	// Apply defaults
	if opts.TopK <= 0 {
		opts.TopK = r.config.DefaultTopK
	}
	if opts.MinScore <= 0 {
		opts.MinScore = r.config.DefaultMinScore
	}
	if opts.SearchType == "" {
		if r.config.EnableHybridSearch {
			opts.SearchType = SearchTypeHybrid
		} else {
			opts.SearchType = SearchTypeSemantic
		}
	}

	r.logger.Debug("starting retrieval",
		"query", query,
		"search_type", opts.SearchType,
		"top_k", opts.TopK,
	)

	// Cached result short-circuits the whole pipeline.
	cacheKey := ""
	if r.cacheUsable(opts) {
		cacheKey = r.cache.BuildRetrievalKey(query, string(chunker.GranularityRAG), opts.TopK)
		if chunks, hit, err := r.cache.GetRetrieval(ctx, cacheKey); err == nil && hit {
			return &RetrievalResult{
				Chunks:     chunks,
				Query:      query,
				SearchType: opts.SearchType,
				CacheHit:   true,
				Timing:     RetrievalTiming{TotalMs: time.Since(startTotal).Milliseconds()},
			}, nil
		}
	}

	var result *RetrievalResult
	var timing RetrievalTiming

	switch opts.SearchType {
	case SearchTypeSemantic:
		result, timing = r.semanticSearch(ctx, query, opts)
	case SearchTypeKeyword:
		result, timing = r.keywordSearch(ctx, query, opts)
	default:
		result, timing = r.hybridSearch(ctx, query, opts)
	}

	timing.TotalMs = time.Since(startTotal).Milliseconds()
	result.Timing = timing
	result.Query = query
	result.SearchType = opts.SearchType

	if cacheKey != "" && len(result.Chunks) > 0 {
		if err := r.cache.SetRetrieval(ctx, cacheKey, result.Chunks); err != nil {
			r.logger.Warn("failed to cache retrieval", "error", err)
		}
	}

	r.logger.Info("retrieval completed",
		"query", query,
		"search_type", opts.SearchType,
		"results", len(result.Chunks),
		"total_ms", timing.TotalMs,
	)

	return result, nil
}

// cacheUsable reports whether the retrieval-result cache applies. Filtered
// queries are not cached; the key only encodes query, granularity and depth.
func (r *Retriever) cacheUsable(opts RetrievalOptions) bool {
	return r.config.CacheEnabled && r.cache != nil && len(opts.DocumentIDs) == 0
}

// semanticSearch performs pure semantic vector search.
func (r *Retriever) semanticSearch(ctx context.Context, query string, opts RetrievalOptions) (*RetrievalResult, RetrievalTiming) {
	timing := RetrievalTiming{}
	result := &RetrievalResult{}

	embedding, embeddingMs := r.getQueryEmbedding(ctx, query)
	timing.EmbeddingMs = embeddingMs

	if embedding == nil {
		r.logger.Error("failed to get query embedding", "query", query)
		return result, timing
	}

	startSemantic := time.Now()
	chunks, err := r.vectorStore.Search(ctx, storage.SearchQuery{
		Embedding: embedding,
		TopK:      opts.TopK,
		MinScore:  opts.MinScore,
		Filters: storage.SearchFilters{
			Granularity: string(chunker.GranularityRAG),
			DocumentIDs: opts.DocumentIDs,
		},
	})
	timing.SemanticMs = time.Since(startSemantic).Milliseconds()

	if err != nil {
		r.logger.Error("semantic search failed", "error", err)
		return result, timing
	}

	result.Chunks = chunks
	return result, timing
}

// keywordSearch performs pure full-text search.
func (r *Retriever) keywordSearch(ctx context.Context, query string, opts RetrievalOptions) (*RetrievalResult, RetrievalTiming) {
	timing := RetrievalTiming{}
	result := &RetrievalResult{}

	startKeyword := time.Now()
	chunks, err := r.vectorStore.KeywordSearch(ctx, query, storage.KeywordSearchOptions{
		TopK:        opts.TopK,
		Granularity: string(chunker.GranularityRAG),
	})
	timing.KeywordMs = time.Since(startKeyword).Milliseconds()

	if err != nil {
		r.logger.Error("keyword search failed", "error", err)
		return result, timing
	}

	result.Chunks = chunks
	return result, timing
}

// hybridSearch combines semantic and keyword search using RRF.
func (r *Retriever) hybridSearch(ctx context.Context, query string, opts RetrievalOptions) (*RetrievalResult, RetrievalTiming) {
	timing := RetrievalTiming{}
	result := &RetrievalResult{}

	embedding, embeddingMs := r.getQueryEmbedding(ctx, query)
	timing.EmbeddingMs = embeddingMs

	if embedding == nil {
		r.logger.Error("failed to get query embedding, falling back to keyword search", "query", query)
		return r.keywordSearch(ctx, query, opts)
	}

	// Fetch extra candidates from both sides for fusion.
	startSemantic := time.Now()
	semanticChunks, err := r.vectorStore.Search(ctx, storage.SearchQuery{
		Embedding: embedding,
		TopK:      opts.TopK * 2,
		MinScore:  opts.MinScore * 0.8,
		Filters: storage.SearchFilters{
			Granularity: string(chunker.GranularityRAG),
			DocumentIDs: opts.DocumentIDs,
		},
	})
	timing.SemanticMs = time.Since(startSemantic).Milliseconds()

	if err != nil {
		r.logger.Error("semantic search failed in hybrid", "error", err)
	}

	startKeyword := time.Now()
	keywordChunks, err := r.vectorStore.KeywordSearch(ctx, query, storage.KeywordSearchOptions{
		TopK:        opts.TopK * 2,
		Granularity: string(chunker.GranularityRAG),
	})
	timing.KeywordMs = time.Since(startKeyword).Milliseconds()

	if err != nil {
		r.logger.Error("keyword search failed in hybrid", "error", err)
	}

	startFusion := time.Now()
	result.Chunks = r.reciprocalRankFusion(semanticChunks, keywordChunks, opts.TopK)
	timing.FusionMs = time.Since(startFusion).Milliseconds()

	return result, timing
}

// reciprocalRankFusion combines results from semantic and keyword search.
// RRF score = sum( weight / (k + rank) ) where k is a constant (default: 60)
func (r *Retriever) reciprocalRankFusion(semantic, keyword []storage.RetrievedChunk, topK int) []storage.RetrievedChunk {
	type rrfItem struct {
		chunk storage.RetrievedChunk
		score float64
	}

	scores := make(map[uuid.UUID]*rrfItem)
	k := float64(r.config.RRFConstant)

	for rank, chunk := range semantic {
		rrfScore := r.config.SemanticWeight * (1.0 / (k + float64(rank+1)))
		if existing, ok := scores[chunk.ID]; ok {
			existing.score += rrfScore
		} else {
			scores[chunk.ID] = &rrfItem{chunk: chunk, score: rrfScore}
		}
	}

	for rank, chunk := range keyword {
		rrfScore := r.config.KeywordWeight * (1.0 / (k + float64(rank+1)))
		if existing, ok := scores[chunk.ID]; ok {
			existing.score += rrfScore
			// Keep the higher similarity score
			if chunk.Similarity > existing.chunk.Similarity {
				existing.chunk.Similarity = chunk.Similarity
			}
		} else {
			scores[chunk.ID] = &rrfItem{chunk: chunk, score: rrfScore}
		}
	}

	results := make([]rrfItem, 0, len(scores))
	for _, item := range scores {
		results = append(results, *item)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})

	finalResults := make([]storage.RetrievedChunk, 0, topK)
	for i := 0; i < len(results) && i < topK; i++ {
		finalResults = append(finalResults, results[i].chunk)
	}

	return finalResults
}

// getQueryEmbedding retrieves or generates an embedding for the query.
func (r *Retriever) getQueryEmbedding(ctx context.Context, query string) ([]float32, int64) {
	start := time.Now()

	if r.config.CacheEnabled && r.cache != nil {
		cached, hit, err := r.cache.GetEmbedding(ctx, query)
		if err == nil && hit {
			r.logger.Debug("embedding cache hit", "query", query)
			return cached, time.Since(start).Milliseconds()
		}
	}

	if r.embedder == nil {
		r.logger.Error("embedder not configured")
		return nil, time.Since(start).Milliseconds()
	}

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.logger.Error("failed to generate embedding", "error", err)
		return nil, time.Since(start).Milliseconds()
	}

	if r.config.CacheEnabled && r.cache != nil {
		if err := r.cache.SetEmbedding(ctx, query, embedding); err != nil {
			r.logger.Warn("failed to cache embedding", "error", err)
		}
	}

	return embedding, time.Since(start).Milliseconds()
}

// RetrieveSimilar finds chunks similar to a given chunk, excluding it
// from the results.
func (r *Retriever) RetrieveSimilar(ctx context.Context, chunkID string, topK int) (*RetrievalResult, error) {
	startTotal := time.Now()
	result := &RetrievalResult{SearchType: SearchTypeSemantic}
	timing := RetrievalTiming{}

	chunk, err := r.vectorStore.GetByID(ctx, chunkID)
	if err != nil {
		return nil, err
	}
	if chunk == nil {
		return result, nil
	}

	embedding, embeddingMs := r.getQueryEmbedding(ctx, chunk.Content)
	timing.EmbeddingMs = embeddingMs
	if embedding == nil {
		return result, nil
	}

	startSemantic := time.Now()
	chunks, err := r.vectorStore.Search(ctx, storage.SearchQuery{
		Embedding: embedding,
		TopK:      topK + 1, // one extra to drop the source chunk
		MinScore:  r.config.DefaultMinScore,
		Filters: storage.SearchFilters{
			Granularity: string(chunker.GranularityRAG),
		},
	})
	timing.SemanticMs = time.Since(startSemantic).Milliseconds()
	if err != nil {
		return result, err
	}

	filtered := make([]storage.RetrievedChunk, 0, topK)
	for _, c := range chunks {
		if c.ID.String() != chunkID {
			filtered = append(filtered, c)
			if len(filtered) >= topK {
				break
			}
		}
	}

	timing.TotalMs = time.Since(startTotal).Milliseconds()
	result.Chunks = filtered
	result.Timing = timing

	return result, nil
}

// ScoredRetriever exposes the retriever through the ranked-chunk-ID
// contract used by the metrics runner, and enumerates the store's IDs so
// dataset/store identifier mismatches surface before a run.
type ScoredRetriever struct {
	retriever  *Retriever
	searchType SearchType
	minScore   float64
}

// NewScoredRetriever wraps a Retriever for evaluation runs.
func NewScoredRetriever(retriever *Retriever, searchType SearchType, minScore float64) *ScoredRetriever {
	if searchType == "" {
		searchType = SearchTypeSemantic
	}
	return &ScoredRetriever{
		retriever:  retriever,
		searchType: searchType,
		minScore:   minScore,
	}
}

// Retrieve returns chunk IDs ordered best-first for the query.
func (sr *ScoredRetriever) Retrieve(ctx context.Context, query string, topK int) ([]string, error) {
	result, err := sr.retriever.Retrieve(ctx, query, RetrievalOptions{
		TopK:       topK,
		MinScore:   sr.minScore,
		SearchType: sr.searchType,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}

	ids := make([]string, 0, len(result.Chunks))
	for _, c := range result.Chunks {
		ids = append(ids, c.ID.String())
	}
	return ids, nil
}

// KnownChunkIDs enumerates retrieval-granularity chunk IDs in the store.
func (sr *ScoredRetriever) KnownChunkIDs(ctx context.Context) (map[string]bool, error) {
	ids, err := sr.retriever.vectorStore.ListChunkIDs(ctx, string(chunker.GranularityRAG))
	if err != nil {
		return nil, fmt.Errorf("failed to list chunk IDs: %w", err)
	}

	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	return known, nil
}

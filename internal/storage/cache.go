// Package storage provides Redis caching layer for retrieval operations.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"
)

// RedisClient defines the Redis operations the cache layer needs.
// Kept narrow so tests can substitute a fake client.
type RedisClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig holds configuration for the cache manager.
type CacheConfig struct {
	Prefix              string
	EmbeddingTTL        time.Duration
	RetrievalTTL        time.Duration
	EnableMetrics       bool
	GracefulDegradation bool // Serve without cache if Redis is unavailable
}

// DefaultCacheConfig returns a default cache configuration. Embeddings are
// stable per query text so they keep a long TTL; retrieval results go stale
// whenever the corpus changes, so their TTL stays short.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Prefix:              "docstack",
		EmbeddingTTL:        1 * time.Hour,
		RetrievalTTL:        5 * time.Minute,
		EnableMetrics:       true,
		GracefulDegradation: true,
	}
}

// CacheMetrics tracks cache hit/miss statistics.
type CacheMetrics struct {
	EmbeddingHits   uint64
	EmbeddingMisses uint64
	RetrievalHits   uint64
	RetrievalMisses uint64
	Errors          uint64
}

// CacheManager is the read-side cache for retrieval: query embeddings and
// ranked chunk lists. Invalidation on document change is handled by the
// realtime package, which owns the write side of the cache keyspace.
type CacheManager struct {
	client  RedisClient
	config  CacheConfig
	logger  *slog.Logger
	metrics *CacheMetrics
	healthy bool
}

// NewCacheManager creates a new CacheManager instance.
func NewCacheManager(client RedisClient, logger *slog.Logger, config CacheConfig) *CacheManager {
	if logger == nil {
		logger = slog.Default()
	}

	cm := &CacheManager{
		client:  client,
		config:  config,
		logger:  logger.With("component", "cache_manager"),
		metrics: &CacheMetrics{},
		healthy: true,
	}

	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx); err != nil {
			cm.logger.Warn("Redis connection failed, cache will be disabled", "error", err)
			cm.healthy = false
		}
	} else {
		cm.healthy = false
	}

	return cm
}

// IsHealthy returns whether the cache is operational.
func (cm *CacheManager) IsHealthy() bool {
	return cm.healthy && cm.client != nil
}

// GetMetrics returns current cache metrics.
func (cm *CacheManager) GetMetrics() CacheMetrics {
	return CacheMetrics{
		EmbeddingHits:   atomic.LoadUint64(&cm.metrics.EmbeddingHits),
		EmbeddingMisses: atomic.LoadUint64(&cm.metrics.EmbeddingMisses),
		RetrievalHits:   atomic.LoadUint64(&cm.metrics.RetrievalHits),
		RetrievalMisses: atomic.LoadUint64(&cm.metrics.RetrievalMisses),
		Errors:          atomic.LoadUint64(&cm.metrics.Errors),
	}
}

// GetEmbedding retrieves a cached embedding for a query.
func (cm *CacheManager) GetEmbedding(ctx context.Context, query string) ([]float32, bool, error) {
	if !cm.IsHealthy() {
		return nil, false, nil
	}

	key := cm.embeddingKey(query)
	start := time.Now()

	data, err := cm.client.Get(ctx, key)
	if err != nil {
		if cm.config.EnableMetrics {
			atomic.AddUint64(&cm.metrics.EmbeddingMisses, 1)
		}
		cm.logger.Debug("embedding cache miss",
			"query_hash", hashQuery(query),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, false, nil
	}

	embedding, err := decodeEmbedding([]byte(data))
	if err != nil {
		cm.logger.Error("failed to decode cached embedding", "error", err)
		atomic.AddUint64(&cm.metrics.Errors, 1)
		return nil, false, err
	}

	if cm.config.EnableMetrics {
		atomic.AddUint64(&cm.metrics.EmbeddingHits, 1)
	}

	cm.logger.Debug("embedding cache hit",
		"query_hash", hashQuery(query),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return embedding, true, nil
}

// SetEmbedding caches an embedding for a query.
func (cm *CacheManager) SetEmbedding(ctx context.Context, query string, embedding []float32) error {
	if !cm.IsHealthy() {
		return nil
	}

	key := cm.embeddingKey(query)
	data := encodeEmbedding(embedding)

	if err := cm.client.Set(ctx, key, data, cm.config.EmbeddingTTL); err != nil {
		cm.logger.Error("failed to cache embedding", "error", err)
		atomic.AddUint64(&cm.metrics.Errors, 1)
		if cm.config.GracefulDegradation {
			return nil
		}
		return err
	}

	cm.logger.Debug("embedding cached",
		"query_hash", hashQuery(query),
		"ttl", cm.config.EmbeddingTTL,
	)

	return nil
}

// GetRetrieval retrieves cached retrieval results for a key built by
// BuildRetrievalKey.
func (cm *CacheManager) GetRetrieval(ctx context.Context, key string) ([]RetrievedChunk, bool, error) {
	if !cm.IsHealthy() {
		return nil, false, nil
	}

	cacheKey := cm.retrievalKey(key)
	start := time.Now()

	data, err := cm.client.Get(ctx, cacheKey)
	if err != nil {
		if cm.config.EnableMetrics {
			atomic.AddUint64(&cm.metrics.RetrievalMisses, 1)
		}
		cm.logger.Debug("retrieval cache miss",
			"key", key,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, false, nil
	}

	var chunks []RetrievedChunk
	if err := json.Unmarshal([]byte(data), &chunks); err != nil {
		cm.logger.Error("failed to decode cached retrieval", "error", err)
		atomic.AddUint64(&cm.metrics.Errors, 1)
		return nil, false, err
	}

	if cm.config.EnableMetrics {
		atomic.AddUint64(&cm.metrics.RetrievalHits, 1)
	}

	cm.logger.Debug("retrieval cache hit",
		"key", key,
		"chunks", len(chunks),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return chunks, true, nil
}

// SetRetrieval caches retrieval results.
func (cm *CacheManager) SetRetrieval(ctx context.Context, key string, chunks []RetrievedChunk) error {
	if !cm.IsHealthy() {
		return nil
	}

	cacheKey := cm.retrievalKey(key)

	data, err := json.Marshal(chunks)
	if err != nil {
		cm.logger.Error("failed to encode retrieval for cache", "error", err)
		return err
	}

	if err := cm.client.Set(ctx, cacheKey, data, cm.config.RetrievalTTL); err != nil {
		cm.logger.Error("failed to cache retrieval", "error", err)
		atomic.AddUint64(&cm.metrics.Errors, 1)
		if cm.config.GracefulDegradation {
			return nil
		}
		return err
	}

	cm.logger.Debug("retrieval cached",
		"key", key,
		"chunks", len(chunks),
		"ttl", cm.config.RetrievalTTL,
	)

	return nil
}

// BuildRetrievalKey builds a cache key for retrieval results. The key
// includes granularity and top-k so different retrieval shapes of the same
// query never collide.
func (cm *CacheManager) BuildRetrievalKey(query string, granularity string, topK int) string {
	return fmt.Sprintf("%s:%s:%d", hashQuery(query), granularity, topK)
}

// Close closes the cache manager.
func (cm *CacheManager) Close() error {
	if cm.client != nil {
		return cm.client.Close()
	}
	return nil
}

func (cm *CacheManager) embeddingKey(query string) string {
	return fmt.Sprintf("%s:embed:%s", cm.config.Prefix, hashQuery(query))
}

func (cm *CacheManager) retrievalKey(key string) string {
	return fmt.Sprintf("%s:retrieve:%s", cm.config.Prefix, key)
}

// hashQuery derives a fixed-length cache key component from query text.
// First 16 bytes of the digest keep keys short.
func hashQuery(query string) string {
	h := sha256.Sum256([]byte(query))
	return hex.EncodeToString(h[:16])
}

// encodeEmbedding packs a float32 slice as little-endian bytes. Raw binary
// is roughly a quarter the size of the JSON form for 1536-dim vectors.
func encodeEmbedding(embedding []float32) []byte {
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeEmbedding converts bytes back to a float32 slice.
func decodeEmbedding(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding data length: %d", len(data))
	}

	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return embedding, nil
}

// NullCacheManager is a no-op cache manager for when caching is disabled.
type NullCacheManager struct{}

// NewNullCacheManager creates a no-op cache manager.
func NewNullCacheManager() *NullCacheManager {
	return &NullCacheManager{}
}

// GetEmbedding always returns a cache miss.
func (n *NullCacheManager) GetEmbedding(ctx context.Context, query string) ([]float32, bool, error) {
	return nil, false, nil
}

// SetEmbedding does nothing.
func (n *NullCacheManager) SetEmbedding(ctx context.Context, query string, embedding []float32) error {
	return nil
}

// GetRetrieval always returns a cache miss.
func (n *NullCacheManager) GetRetrieval(ctx context.Context, key string) ([]RetrievedChunk, bool, error) {
	return nil, false, nil
}

// SetRetrieval does nothing.
func (n *NullCacheManager) SetRetrieval(ctx context.Context, key string, chunks []RetrievedChunk) error {
	return nil
}

// BuildRetrievalKey mirrors CacheManager key construction so callers can
// swap implementations without changing key semantics.
func (n *NullCacheManager) BuildRetrievalKey(query string, granularity string, topK int) string {
	return fmt.Sprintf("%s:%s:%d", hashQuery(query), granularity, topK)
}

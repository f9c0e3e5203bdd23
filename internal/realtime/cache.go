package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// CacheInvalidatorConfig holds configuration for the cache invalidator.
type CacheInvalidatorConfig struct {
	KeyPrefix           string
	BatchSize           int
	ScanCount           int64
	InvalidationTimeout time.Duration
	PublishChannel      string
	MaxKeysPerPattern   int
}

// DefaultCacheInvalidatorConfig returns sensible defaults.
func DefaultCacheInvalidatorConfig() CacheInvalidatorConfig {
	return CacheInvalidatorConfig{
		KeyPrefix:           "docstack",
		BatchSize:           100,
		ScanCount:           1000,
		InvalidationTimeout: 5 * time.Second,
		PublishChannel:      "cache:invalidated",
		MaxKeysPerPattern:   10000,
	}
}

// CacheInvalidator drops stale Redis entries when documents are
// reindexed. Retrieval results are query-scoped, so any new document
// can change what an existing query should return.
type CacheInvalidator struct {
	redis   *redis.Client
	nats    *NATSClient
	config  CacheInvalidatorConfig
	logger  *slog.Logger
	subs    []*nats.Subscription
	metrics *CacheMetrics
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// CacheMetrics holds metrics for cache invalidation.
type CacheMetrics struct {
	KeysInvalidated    atomic.Int64
	PatternsProcessed  atomic.Int64
	InvalidationEvents atomic.Int64
	InvalidationErrors atomic.Int64
	LastInvalidationAt atomic.Value // time.Time
}

// NewCacheMetrics creates a new CacheMetrics instance.
func NewCacheMetrics() *CacheMetrics {
	m := &CacheMetrics{}
	m.LastInvalidationAt.Store(time.Time{})
	return m
}

// InvalidationResult represents the result of a cache invalidation operation.
type InvalidationResult struct {
	KeysDeleted     int64    `json:"keys_deleted"`
	PatternsMatched int      `json:"patterns_matched"`
	Duration        int64    `json:"duration_ms"`
	Errors          []string `json:"errors,omitempty"`
}

// NewCacheInvalidator creates a new cache invalidator.
func NewCacheInvalidator(
	redisClient *redis.Client,
	natsClient *NATSClient,
	cfg CacheInvalidatorConfig,
	logger *slog.Logger,
) *CacheInvalidator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultCacheInvalidatorConfig().KeyPrefix
	}

	return &CacheInvalidator{
		redis:   redisClient,
		nats:    natsClient,
		config:  cfg,
		logger:  logger.With("component", "cache_invalidator"),
		subs:    make([]*nats.Subscription, 0),
		metrics: NewCacheMetrics(),
	}
}

// Start subscribes to document processed events.
func (c *CacheInvalidator) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	c.logger.Info("starting cache invalidator")

	sub, err := c.nats.JetStream().Subscribe(
		SubjectDocumentProcessed,
		func(msg *nats.Msg) {
			c.handleDocumentProcessed(ctx, msg)
		},
		nats.Durable("cache-invalidator"),
		nats.ManualAck(),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to document processed: %w", err)
	}
	c.subs = append(c.subs, sub)

	c.logger.Info("cache invalidator started")
	return nil
}

// Stop gracefully stops the cache invalidator.
func (c *CacheInvalidator) Stop(ctx context.Context) error {
	c.logger.Info("stopping cache invalidator")

	if c.cancel != nil {
		c.cancel()
	}

	for _, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.logger.Warn("failed to drain subscription", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("cache invalidator stopped")
	case <-ctx.Done():
		c.logger.Warn("cache invalidator stop timed out")
		return ctx.Err()
	}

	return nil
}

// handleDocumentProcessed drops caches made stale by a reindexed document.
func (c *CacheInvalidator) handleDocumentProcessed(ctx context.Context, msg *nats.Msg) {
	var event DocumentProcessedEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		c.logger.Error("failed to unmarshal event", "error", err)
		msg.Term()
		return
	}

	result, err := c.InvalidateForDocument(ctx, event.DocumentID)
	if err != nil {
		c.logger.Error("failed to invalidate cache",
			"event_id", event.EventID,
			"document_id", event.DocumentID,
			"error", err,
		)
		msg.Nak()
		c.metrics.InvalidationErrors.Add(1)
		return
	}

	c.logger.Info("cache invalidation completed",
		"event_id", event.EventID,
		"document_id", event.DocumentID,
		"keys_deleted", result.KeysDeleted,
		"duration_ms", result.Duration,
	)

	msg.Ack()
}

// InvalidateForDocument drops all cached retrieval results. Retrieval
// rankings can reference any document, so a single document change stales
// the whole retrieval keyspace.
func (c *CacheInvalidator) InvalidateForDocument(ctx context.Context, documentID string) (*InvalidationResult, error) {
	start := time.Now()
	result := &InvalidationResult{Errors: make([]string, 0)}

	c.metrics.InvalidationEvents.Add(1)
	c.wg.Add(1)
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(ctx, c.config.InvalidationTimeout)
	defer cancel()

	retrievePattern := fmt.Sprintf("%s:retrieve:*", c.config.KeyPrefix)
	deleted, err := c.invalidateByPattern(ctx, retrievePattern)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("pattern %s: %v", retrievePattern, err))
	}
	result.KeysDeleted += deleted
	result.PatternsMatched++
	c.metrics.PatternsProcessed.Add(1)

	if err := c.publishInvalidation(ctx, documentID, result.KeysDeleted); err != nil {
		c.logger.Warn("failed to publish invalidation notification", "error", err)
	}

	result.Duration = time.Since(start).Milliseconds()
	c.metrics.KeysInvalidated.Add(result.KeysDeleted)
	c.metrics.LastInvalidationAt.Store(time.Now())

	if len(result.Errors) > 0 {
		return result, fmt.Errorf("partial invalidation with %d errors", len(result.Errors))
	}

	return result, nil
}

// InvalidateAll clears all cache entries under our prefix.
func (c *CacheInvalidator) InvalidateAll(ctx context.Context) error {
	c.logger.Warn("invalidating all cache entries")

	deleted, err := c.invalidateByPattern(ctx, c.config.KeyPrefix+":*")
	if err != nil {
		return fmt.Errorf("failed to invalidate prefix %s: %w", c.config.KeyPrefix, err)
	}

	c.logger.Info("all cache entries invalidated", "keys_deleted", deleted)
	return nil
}

// deleteKeys deletes specific keys from Redis in batches.
func (c *CacheInvalidator) deleteKeys(ctx context.Context, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	var totalDeleted int64
	for i := 0; i < len(keys); i += c.config.BatchSize {
		end := i + c.config.BatchSize
		if end > len(keys) {
			end = len(keys)
		}

		batch := keys[i:end]
		deleted, err := c.redis.Del(ctx, batch...).Result()
		if err != nil {
			return totalDeleted, fmt.Errorf("failed to delete batch: %w", err)
		}
		totalDeleted += deleted
	}

	return totalDeleted, nil
}

// invalidateByPattern invalidates keys matching a pattern via SCAN.
func (c *CacheInvalidator) invalidateByPattern(ctx context.Context, pattern string) (int64, error) {
	var totalDeleted int64
	var cursor uint64
	var keysProcessed int

	for {
		keys, nextCursor, err := c.redis.Scan(ctx, cursor, pattern, c.config.ScanCount).Result()
		if err != nil {
			return totalDeleted, fmt.Errorf("scan failed: %w", err)
		}

		if len(keys) > 0 {
			deleted, err := c.deleteKeys(ctx, keys)
			if err != nil {
				return totalDeleted, err
			}
			totalDeleted += deleted
			keysProcessed += len(keys)
		}

		if keysProcessed >= c.config.MaxKeysPerPattern {
			c.logger.Warn("max keys per pattern reached",
				"pattern", pattern,
				"keys_processed", keysProcessed,
			)
			break
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return totalDeleted, nil
}

// publishInvalidation notifies local caches via Redis pub/sub.
func (c *CacheInvalidator) publishInvalidation(ctx context.Context, documentID string, keysDeleted int64) error {
	notification := map[string]interface{}{
		"document_id":  documentID,
		"keys_deleted": keysDeleted,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	}

	data, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	if err := c.redis.Publish(ctx, c.config.PublishChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to channel: %w", err)
	}

	return nil
}

// GetMetrics returns current cache invalidation metrics.
func (c *CacheInvalidator) GetMetrics() map[string]interface{} {
	lastInvalidation := c.metrics.LastInvalidationAt.Load().(time.Time)

	return map[string]interface{}{
		"keys_invalidated":     c.metrics.KeysInvalidated.Load(),
		"patterns_processed":   c.metrics.PatternsProcessed.Load(),
		"invalidation_events":  c.metrics.InvalidationEvents.Load(),
		"invalidation_errors":  c.metrics.InvalidationErrors.Load(),
		"last_invalidation_at": lastInvalidation,
	}
}

// Health checks Redis connectivity.
func (c *CacheInvalidator) Health(ctx context.Context) error {
	if err := c.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis not healthy: %w", err)
	}
	return nil
}

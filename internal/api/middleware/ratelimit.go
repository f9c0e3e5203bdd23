// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Limit types registered by the router. getLimit falls back to Default
// for anything else.
const (
	LimitTypeQuery     = "query"
	LimitTypeDocuments = "documents"
	LimitTypeJobs      = "jobs"
)

// Limit defines how many requests a client may make within a window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// RateLimitConfig holds per-endpoint rate limits.
type RateLimitConfig struct {
	QueryRequests       Limit // question answering, each request hits the LLM
	Documents           Limit // uploads, listing, download, summarize enqueue
	Jobs                Limit // summary job status polling
	Default             Limit
	EnableMetrics       bool
	GracefulDegradation bool // serve unthrottled when the store is unavailable
}

// DefaultRateLimitConfig returns the default per-endpoint limits.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		QueryRequests:       Limit{Requests: 20, Window: 1 * time.Minute},
		Documents:           Limit{Requests: 60, Window: 1 * time.Minute},
		Jobs:                Limit{Requests: 120, Window: 1 * time.Minute},
		Default:             Limit{Requests: 100, Window: 1 * time.Minute},
		EnableMetrics:       true,
		GracefulDegradation: true,
	}
}

// RateLimitStore counts requests per key within a rolling window.
type RateLimitStore interface {
	// Increment bumps the counter for key, creating it with the window's
	// expiration when absent, and returns the new count.
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
	// GetCount returns the current count for key, zero when absent.
	GetCount(ctx context.Context, key string) (int64, error)
	// IsHealthy reports whether the store can serve counters.
	IsHealthy() bool
}

// MemoryRateLimitStore keeps counters in process memory. Counters are not
// shared across instances, so it suits single-instance deployments only.
type MemoryRateLimitStore struct {
	mu      sync.RWMutex
	entries map[string]*rateLimitEntry
}

type rateLimitEntry struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryRateLimitStore creates an in-memory rate limit store and starts
// its expiry sweeper.
func NewMemoryRateLimitStore() *MemoryRateLimitStore {
	store := &MemoryRateLimitStore{
		entries: make(map[string]*rateLimitEntry),
	}
	go store.sweep()
	return store
}

// Increment bumps the counter for key, resetting expired entries.
func (s *MemoryRateLimitStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	entry, ok := s.entries[key]
	if !ok || now.After(entry.expiresAt) {
		s.entries[key] = &rateLimitEntry{count: 1, expiresAt: now.Add(window)}
		return 1, nil
	}

	entry.count++
	return entry.count, nil
}

// GetCount returns the live count for key.
func (s *MemoryRateLimitStore) GetCount(ctx context.Context, key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if entry, ok := s.entries[key]; ok && time.Now().Before(entry.expiresAt) {
		return entry.count, nil
	}
	return 0, nil
}

// IsHealthy always reports true for the in-memory store.
func (s *MemoryRateLimitStore) IsHealthy() bool {
	return true
}

func (s *MemoryRateLimitStore) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.Lock()
		now := time.Now()
		for key, entry := range s.entries {
			if now.After(entry.expiresAt) {
				delete(s.entries, key)
			}
		}
		s.mu.Unlock()
	}
}

// RedisClient defines the Redis operations rate limiting needs.
type RedisClient interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Ping(ctx context.Context) error
}

// RedisRateLimitStore shares counters through Redis so limits hold across
// API server instances.
type RedisRateLimitStore struct {
	client  RedisClient
	prefix  string
	healthy bool
	logger  *slog.Logger
}

// NewRedisRateLimitStore creates a Redis-backed rate limit store. A failed
// ping marks the store unhealthy so the limiter can degrade gracefully.
func NewRedisRateLimitStore(client RedisClient, prefix string, logger *slog.Logger) *RedisRateLimitStore {
	store := &RedisRateLimitStore{
		client:  client,
		prefix:  prefix,
		healthy: client != nil,
		logger:  logger,
	}

	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx); err != nil {
			store.logger.Warn("Redis connection failed for rate limiting", "error", err)
			store.healthy = false
		}
	}

	return store
}

// Increment bumps the counter for key, arming the window's expiration on
// the first hit.
func (s *RedisRateLimitStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	if !s.IsHealthy() {
		return 0, fmt.Errorf("redis not available")
	}

	fullKey := s.prefix + ":" + key
	count, err := s.client.Incr(ctx, fullKey)
	if err != nil {
		return 0, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	if count == 1 {
		if err := s.client.Expire(ctx, fullKey, window); err != nil {
			s.logger.Warn("failed to set rate limit expiration", "key", fullKey, "error", err)
		}
	}

	return count, nil
}

// GetCount returns the current count for key, zero when absent or unreadable.
func (s *RedisRateLimitStore) GetCount(ctx context.Context, key string) (int64, error) {
	if !s.IsHealthy() {
		return 0, fmt.Errorf("redis not available")
	}

	val, err := s.client.Get(ctx, s.prefix+":"+key)
	if err != nil {
		return 0, nil
	}

	count, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
	if err != nil {
		return 0, nil
	}
	return count, nil
}

// IsHealthy reports whether the Redis backend is usable.
func (s *RedisRateLimitStore) IsHealthy() bool {
	return s.healthy && s.client != nil
}

// RateLimiter enforces per-endpoint limits keyed by client IP.
type RateLimiter struct {
	store   RateLimitStore
	config  RateLimitConfig
	logger  *slog.Logger
	metrics *RateLimitMetrics
}

// RateLimitMetrics tracks allowed and rejected requests per limit type.
type RateLimitMetrics struct {
	mu       sync.Mutex
	Allowed  map[string]uint64
	Rejected map[string]uint64
}

// NewRateLimiter creates a rate limiter over the given store.
func NewRateLimiter(store RateLimitStore, config RateLimitConfig, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		store:  store,
		config: config,
		logger: logger.With("component", "rate_limiter"),
		metrics: &RateLimitMetrics{
			Allowed:  make(map[string]uint64),
			Rejected: make(map[string]uint64),
		},
	}
}

// Middleware returns a middleware enforcing the limit registered for
// limitType. Requests over the limit get 429 with a Retry-After header;
// an unhealthy store either degrades to unthrottled serving or returns
// 503, per GracefulDegradation.
func (rl *RateLimiter) Middleware(limitType string) func(next http.Handler) http.Handler {
	limit := rl.getLimit(limitType)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := limitType + ":" + rl.clientID(r)

			if !rl.store.IsHealthy() {
				rl.degrade(w, r, next)
				return
			}

			count, err := rl.store.Increment(r.Context(), key, limit.Window)
			if err != nil {
				rl.logger.Error("rate limit check failed", "error", err, "key", key)
				rl.degrade(w, r, next)
				return
			}

			remaining := int64(limit.Requests) - count
			if remaining < 0 {
				remaining = 0
			}
			windowSecs := strconv.Itoa(int(limit.Window.Seconds()))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			w.Header().Set("X-RateLimit-Reset", windowSecs)

			if count > int64(limit.Requests) {
				rl.recordMetric(limitType, false)
				rl.logger.Warn("rate limit exceeded",
					"limit_type", limitType,
					"count", count,
					"limit", limit.Requests,
				)
				w.Header().Set("Retry-After", windowSecs)
				http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
				return
			}

			rl.recordMetric(limitType, true)
			next.ServeHTTP(w, r)
		})
	}
}

// degrade serves the request unthrottled or rejects it, per configuration.
func (rl *RateLimiter) degrade(w http.ResponseWriter, r *http.Request, next http.Handler) {
	if rl.config.GracefulDegradation {
		next.ServeHTTP(w, r)
		return
	}
	http.Error(w, "Service temporarily unavailable", http.StatusServiceUnavailable)
}

// getLimit maps a limit type registered by the router onto its configured
// limit.
func (rl *RateLimiter) getLimit(limitType string) Limit {
	switch limitType {
	case LimitTypeQuery:
		return rl.config.QueryRequests
	case LimitTypeDocuments:
		return rl.config.Documents
	case LimitTypeJobs:
		return rl.config.Jobs
	default:
		return rl.config.Default
	}
}

// clientID identifies the caller: proxy headers first, remote address last.
func (rl *RateLimiter) clientID(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func (rl *RateLimiter) recordMetric(limitType string, allowed bool) {
	if !rl.config.EnableMetrics {
		return
	}

	rl.metrics.mu.Lock()
	defer rl.metrics.mu.Unlock()

	if allowed {
		rl.metrics.Allowed[limitType]++
	} else {
		rl.metrics.Rejected[limitType]++
	}
}

// GetMetrics returns allowed/rejected counters keyed by limit type.
func (rl *RateLimiter) GetMetrics() map[string]interface{} {
	rl.metrics.mu.Lock()
	defer rl.metrics.mu.Unlock()

	metrics := make(map[string]interface{}, len(rl.metrics.Allowed)+len(rl.metrics.Rejected))
	for k, v := range rl.metrics.Allowed {
		metrics[k+"_allowed"] = v
	}
	for k, v := range rl.metrics.Rejected {
		metrics[k+"_rejected"] = v
	}
	return metrics
}

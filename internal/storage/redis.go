// Package storage provides Redis client wrapper implementing RedisClient interface.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClientWrapper wraps go-redis client to implement RedisClient interface.
type RedisClientWrapper struct {
	client *redis.Client
}

// RedisConfig holds configuration for Redis connection.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisClient creates a new Redis client wrapper.
func NewRedisClient(cfg RedisConfig) (*RedisClientWrapper, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClientWrapper{client: client}, nil
}

// Get retrieves a value from Redis.
func (r *RedisClientWrapper) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("key not found")
	}
	return val, err
}

// Set stores a value in Redis with expiration.
func (r *RedisClientWrapper) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	return r.client.Set(ctx, key, value, expiration).Err()
}

// Incr increments the integer value of a key by one.
func (r *RedisClientWrapper) Incr(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, key).Result()
}

// Expire sets a timeout on a key.
func (r *RedisClientWrapper) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return r.client.Expire(ctx, key, expiration).Err()
}

// Ping tests the Redis connection.
func (r *RedisClientWrapper) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Client exposes the underlying go-redis client for consumers that
// need pipelining or pub/sub.
func (r *RedisClientWrapper) Client() *redis.Client {
	return r.client
}

// Close closes the Redis connection.
func (r *RedisClientWrapper) Close() error {
	return r.client.Close()
}

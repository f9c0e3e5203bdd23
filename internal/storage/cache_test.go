package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedisClient is an in-memory RedisClient for cache tests.
type fakeRedisClient struct {
	values  map[string]string
	setErr  error
	pingErr error
}

func newFakeRedisClient() *fakeRedisClient {
	return &fakeRedisClient{values: make(map[string]string)}
}

func (f *fakeRedisClient) Get(ctx context.Context, key string) (string, error) {
	v, ok := f.values[key]
	if !ok {
		return "", errors.New("key not found")
	}
	return v, nil
}

func (f *fakeRedisClient) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	switch v := value.(type) {
	case []byte:
		f.values[key] = string(v)
	case string:
		f.values[key] = v
	default:
		return errors.New("unsupported value type")
	}
	return nil
}

func (f *fakeRedisClient) Ping(ctx context.Context) error { return f.pingErr }
func (f *fakeRedisClient) Close() error                   { return nil }

func TestCacheManagerEmbeddingRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedisClient()
	cm := NewCacheManager(client, nil, DefaultCacheConfig())
	require.True(t, cm.IsHealthy())

	_, found, err := cm.GetEmbedding(ctx, "quarterly invoices")
	require.NoError(t, err)
	assert.False(t, found)

	embedding := []float32{0.25, -1.5, 3.0}
	require.NoError(t, cm.SetEmbedding(ctx, "quarterly invoices", embedding))

	got, found, err := cm.GetEmbedding(ctx, "quarterly invoices")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, embedding, got)

	metrics := cm.GetMetrics()
	assert.Equal(t, uint64(1), metrics.EmbeddingHits)
	assert.Equal(t, uint64(1), metrics.EmbeddingMisses)
}

func TestCacheManagerRetrievalRoundTrip(t *testing.T) {
	ctx := context.Background()
	cm := NewCacheManager(newFakeRedisClient(), nil, DefaultCacheConfig())

	key := cm.BuildRetrievalKey("quarterly invoices", "fine", 5)

	_, found, err := cm.GetRetrieval(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	chunks := []RetrievedChunk{{
		DocumentChunk: DocumentChunk{Content: "Invoice totals for Q3."},
		Similarity:    0.91,
	}}
	require.NoError(t, cm.SetRetrieval(ctx, key, chunks))

	got, found, err := cm.GetRetrieval(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, got, 1)
	assert.Equal(t, "Invoice totals for Q3.", got[0].Content)
}

func TestBuildRetrievalKeyDistinguishesShapes(t *testing.T) {
	cm := NewCacheManager(newFakeRedisClient(), nil, DefaultCacheConfig())

	base := cm.BuildRetrievalKey("invoices", "fine", 5)
	assert.NotEqual(t, base, cm.BuildRetrievalKey("invoices", "coarse", 5))
	assert.NotEqual(t, base, cm.BuildRetrievalKey("invoices", "fine", 10))
	assert.NotEqual(t, base, cm.BuildRetrievalKey("receipts", "fine", 5))

	// Null manager produces identical keys so implementations can be swapped.
	null := NewNullCacheManager()
	assert.Equal(t, base, null.BuildRetrievalKey("invoices", "fine", 5))
}

func TestCacheManagerDegradesWhenRedisUnavailable(t *testing.T) {
	ctx := context.Background()

	client := newFakeRedisClient()
	client.pingErr = errors.New("connection refused")
	cm := NewCacheManager(client, nil, DefaultCacheConfig())

	assert.False(t, cm.IsHealthy())
	require.NoError(t, cm.SetEmbedding(ctx, "q", []float32{1}))
	_, found, err := cm.GetEmbedding(ctx, "q")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCacheManagerGracefulDegradationOnWriteError(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedisClient()
	client.setErr = errors.New("readonly replica")

	cfg := DefaultCacheConfig()
	cm := NewCacheManager(client, nil, cfg)
	assert.NoError(t, cm.SetEmbedding(ctx, "q", []float32{1}))

	cfg.GracefulDegradation = false
	cm = NewCacheManager(client, nil, cfg)
	assert.Error(t, cm.SetEmbedding(ctx, "q", []float32{1}))
}

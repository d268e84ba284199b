package templates

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/claim-automation-server/internal/domain"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func TestCache_MemoryTier(t *testing.T) {
	cache, err := NewCache(8, time.Minute, nil, testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	_, ok := cache.Get(ctx, "ins-1", "physiotherapy")
	assert.False(t, ok)

	tmpl := sampleTemplate("ins-1", "physiotherapy", 1, 2, true)
	cache.Set(ctx, "ins-1", "physiotherapy", tmpl)

	got, ok := cache.Get(ctx, " INS-1 ", "Physiotherapy")
	assert.True(t, ok)
	assert.Same(t, tmpl, got)

	cache.Invalidate(ctx, "ins-1", "physiotherapy")
	_, ok = cache.Get(ctx, "ins-1", "physiotherapy")
	assert.False(t, ok)

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.MemoryHits)
	assert.Equal(t, int64(2), stats.Misses)
}

func TestCache_NegativeEntry(t *testing.T) {
	cache, err := NewCache(8, time.Minute, nil, testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	cache.Set(ctx, "ins-1", "speech", nil)
	got, ok := cache.Get(ctx, "ins-1", "speech")
	assert.True(t, ok)
	assert.Nil(t, got)
}

func TestCache_Expiry(t *testing.T) {
	cache, err := NewCache(8, 20*time.Millisecond, nil, testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	cache.Set(ctx, "ins-1", "physiotherapy", sampleTemplate("ins-1", "physiotherapy", 1, 1, true))
	time.Sleep(40 * time.Millisecond)

	_, ok := cache.Get(ctx, "ins-1", "physiotherapy")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Stats().Entries)
}

// setupRedis connects to TEST_REDIS_URL, or starts a throwaway Redis container.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	redisURL := os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		if testing.Short() {
			t.Skip("skipping container test in short mode")
		}
		container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "redis:7-alpine",
				ExposedPorts: []string{"6379/tcp"},
				WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
			},
			Started: true,
		})
		if err != nil {
			t.Fatalf("Failed to start Redis container: %v", err)
		}
		t.Cleanup(func() {
			_ = container.Terminate(context.Background())
		})

		endpoint, err := container.Endpoint(ctx, "")
		require.NoError(t, err)
		redisURL = "redis://" + endpoint + "/0"
	}

	client, err := NewRedisClient(ctx, domain.CacheConfig{RedisURL: redisURL})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestCache_Purge(t *testing.T) {
	cache, err := NewCache(8, time.Minute, nil, testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	cache.Set(ctx, "ins-1", "physiotherapy", nil)
	cache.Set(ctx, "ins-2", "speech", sampleTemplate("ins-2", "speech", 1, 1, true))
	cache.Purge(ctx)

	_, ok := cache.Get(ctx, "ins-1", "physiotherapy")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Stats().Entries)
}

func TestCache_PurgeClearsRedis(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	writer, err := NewCache(8, time.Minute, client, testLogger())
	require.NoError(t, err)
	importer, err := NewCache(8, time.Minute, client, testLogger())
	require.NoError(t, err)

	// a replica remembered that no template existed
	writer.Set(ctx, "ins-purge", "physiotherapy", nil)
	writer.Set(ctx, "ins-purge", "", nil)
	require.NoError(t, client.Set(ctx, "unrelated:key", "keep", time.Minute).Err())
	defer client.Del(ctx, "unrelated:key")

	importer.Purge(ctx)

	fresh, err := NewCache(8, time.Minute, client, testLogger())
	require.NoError(t, err)
	_, ok := fresh.Get(ctx, "ins-purge", "physiotherapy")
	assert.False(t, ok)
	_, ok = fresh.Get(ctx, "ins-purge", "")
	assert.False(t, ok)

	val, err := client.Get(ctx, "unrelated:key").Result()
	require.NoError(t, err)
	assert.Equal(t, "keep", val)
}

func TestCache_RedisTier(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	writer, err := NewCache(8, time.Minute, client, testLogger())
	require.NoError(t, err)
	reader, err := NewCache(8, time.Minute, client, testLogger())
	require.NoError(t, err)

	tmpl := sampleTemplate("ins-redis", "physiotherapy", 1, 5, true)
	tmpl.ID = "tpl-redis"
	writer.Set(ctx, "ins-redis", "physiotherapy", tmpl)
	defer writer.Invalidate(ctx, "ins-redis", "physiotherapy")

	got, ok := reader.Get(ctx, "ins-redis", "physiotherapy")
	require.True(t, ok)
	require.NotNil(t, got)
	assert.Equal(t, "tpl-redis", got.ID)
	assert.Equal(t, int64(1), reader.Stats().RedisHits)

	writer.Invalidate(ctx, "ins-redis", "physiotherapy")
	_, err = client.Get(ctx, redisKeyPrefix+cacheKey("ins-redis", "physiotherapy")).Result()
	assert.ErrorIs(t, err, redis.Nil)
}

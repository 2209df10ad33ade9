package client

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	cache, err := NewRedisCache(RedisOptions{
		URL:            fmt.Sprintf("redis://%s", mr.Addr()),
		ConnectTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = cache.Close()
	})
	return cache, mr
}

func TestRedisCache(t *testing.T) {
	t.Run("set and get", func(t *testing.T) {
		cache, mr := setupRedisCache(t)
		ctx := context.Background()

		require.NoError(t, cache.Set(ctx, "GET stats", []byte(`{"total_patterns":3}`), time.Minute, TagStats))

		data, ok, err := cache.Get(ctx, "GET stats")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.JSONEq(t, `{"total_patterns":3}`, string(data))
		assert.True(t, mr.Exists(redisTagPrefix+TagStats))
	})

	t.Run("miss", func(t *testing.T) {
		cache, _ := setupRedisCache(t)
		_, ok, err := cache.Get(context.Background(), "GET nothing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ttl expiry", func(t *testing.T) {
		cache, mr := setupRedisCache(t)
		ctx := context.Background()

		require.NoError(t, cache.Set(ctx, "k", []byte("v"), time.Second))
		mr.FastForward(2 * time.Second)

		_, ok, err := cache.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("invalidate tags", func(t *testing.T) {
		cache, mr := setupRedisCache(t)
		ctx := context.Background()

		require.NoError(t, cache.Set(ctx, "p1", []byte("1"), time.Minute, TagAttackPattern, PatternTag("1")))
		require.NoError(t, cache.Set(ctx, "p2", []byte("2"), time.Minute, TagAttackPattern))
		require.NoError(t, cache.Set(ctx, "s", []byte("3"), time.Minute, TagStats))

		require.NoError(t, cache.InvalidateTags(ctx, TagAttackPattern))

		for _, key := range []string{"p1", "p2"} {
			_, ok, err := cache.Get(ctx, key)
			require.NoError(t, err)
			assert.False(t, ok, key)
		}
		_, ok, err := cache.Get(ctx, "s")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.False(t, mr.Exists(redisTagPrefix+TagAttackPattern))
	})

	t.Run("invalid URL", func(t *testing.T) {
		_, err := NewRedisCache(RedisOptions{URL: "invalid://url"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse Redis URL")
	})
}

func TestClientWithRedisCache(t *testing.T) {
	cache, _ := setupRedisCache(t)
	api := newFakeAPI(t)
	c := New(api.srv.URL+"/api/v1", WithCache(cache))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.Stats(ctx)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, api.hits.Load())

	require.NoError(t, c.Invalidate(ctx, TagStats))
	_, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, api.hits.Load())
}

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-price-harvester/clock"
)

var epoch = time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)

type countingRecorder struct {
	counts map[string]int
}

func (c *countingRecorder) IncCache(result string) {
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[result]++
}

func TestKeyNormalization(t *testing.T) {
	tests := []struct {
		name string
		a, b string
	}{
		{"query order", "https://shop.test/catalog/?q=tv&page=2", "https://shop.test/catalog/?page=2&q=tv"},
		{"host case", "HTTPS://Shop.Test/catalog?q=tv", "https://shop.test/catalog?q=tv"},
		{"trailing slash", "https://shop.test/catalog/", "https://shop.test/catalog"},
		{"default port", "https://shop.test:443/catalog", "https://shop.test/catalog"},
		{"fragment", "https://shop.test/catalog#top", "https://shop.test/catalog"},
		{"repeated values", "https://shop.test/c?tag=b&tag=a", "https://shop.test/c?tag=a&tag=b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, Key(tt.a), Key(tt.b))
		})
	}

	assert.NotEqual(t, Key("https://shop.test/catalog?page=1"), Key("https://shop.test/catalog?page=2"))
	assert.NotEqual(t, Key("https://shop.test/catalog?q=TV"), Key("https://shop.test/catalog?q=tv"))
}

func TestResponseCacheTTL(t *testing.T) {
	clk := clock.NewManual(epoch)
	store, err := NewMemoryStore(16)
	require.NoError(t, err)
	rec := &countingRecorder{}
	c := New(store, 6*time.Hour, clk, rec)
	ctx := context.Background()
	key := Key("https://shop.test/catalog?q=tv")

	_, ok := c.Get(ctx, key)
	assert.False(t, ok, "empty cache should miss")

	require.NoError(t, c.Put(ctx, key, "<html>v1</html>"))
	content, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, "<html>v1</html>", content)

	clk.Advance(6*time.Hour - time.Second)
	_, ok = c.Get(ctx, key)
	assert.True(t, ok, "entry younger than ttl should hit")

	clk.Advance(time.Second)
	_, ok = c.Get(ctx, key)
	assert.False(t, ok, "entry at ttl should miss")

	require.NoError(t, c.Put(ctx, key, "<html>v2</html>"))
	content, ok = c.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, "<html>v2</html>", content)
	assert.Equal(t, 1, store.Len())

	assert.Equal(t, 3, rec.counts["hit"])
	assert.Equal(t, 2, rec.counts["miss"])
}

func TestMemoryStoreEvicts(t *testing.T) {
	store, err := NewMemoryStore(2)
	require.NoError(t, err)
	c := New(store, time.Hour, clock.NewManual(epoch), nil)
	ctx := context.Background()

	for _, u := range []string{"https://a.test/1", "https://a.test/2", "https://a.test/3"} {
		require.NoError(t, c.Put(ctx, Key(u), u))
	}
	_, ok := c.Get(ctx, Key("https://a.test/1"))
	assert.False(t, ok, "oldest entry should be evicted")
	_, ok = c.Get(ctx, Key("https://a.test/3"))
	assert.True(t, ok)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clk := clock.NewManual(epoch)
	c := New(NewRedisStore(client), time.Hour, clk, nil)
	ctx := context.Background()
	key := Key("https://shop.test/catalog?q=tv&page=1")

	require.NoError(t, c.Put(ctx, key, "<html>page</html>"))
	content, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, "<html>page</html>", content)

	ttl := mr.TTL(redisKeyPrefix + digest(key))
	assert.Equal(t, time.Hour, ttl)

	mr.FastForward(time.Hour)
	_, ok = c.Get(ctx, key)
	assert.False(t, ok, "redis should expire the entry")
}

func TestRedisStoreErrorIsMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	rec := &countingRecorder{}
	c := New(NewRedisStore(client), time.Hour, clock.NewManual(epoch), rec)
	mr.Close()

	_, ok := c.Get(context.Background(), Key("https://shop.test/"))
	assert.False(t, ok)
	assert.Equal(t, 1, rec.counts["error"])
}

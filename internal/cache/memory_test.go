package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemoryCache(maxEntries int) (*MemoryCache, *time.Time) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache(maxEntries)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestMemoryCache_SetAndGet(t *testing.T) {
	c, _ := newTestMemoryCache(0)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "todo:1", map[string]interface{}{"title": "a"}, time.Minute))

	var got map[string]interface{}
	require.NoError(t, c.Get(ctx, "todo:1", &got))
	assert.Equal(t, "a", got["title"])
}

func TestMemoryCache_ValuesAreCopied(t *testing.T) {
	c, _ := newTestMemoryCache(0)
	ctx := context.Background()

	original := []string{"a", "b"}
	require.NoError(t, c.Set(ctx, "todos:all", original, time.Minute))
	original[0] = "changed"

	var got []string
	require.NoError(t, c.Get(ctx, "todos:all", &got))
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestMemoryCache_Expiry(t *testing.T) {
	c, now := newTestMemoryCache(0)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "todo:1", "x", time.Minute))
	*now = now.Add(time.Minute)

	var got string
	assert.ErrorIs(t, c.Get(ctx, "todo:1", &got), ErrCacheMiss)
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCache_ZeroTTLNeverExpires(t *testing.T) {
	c, now := newTestMemoryCache(0)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 0))
	*now = now.Add(24 * time.Hour)

	var got string
	assert.NoError(t, c.Get(ctx, "k", &got))
}

func TestMemoryCache_DeletePattern(t *testing.T) {
	c, _ := newTestMemoryCache(0)
	ctx := context.Background()

	for _, key := range []string{"todo:1", "todo:2", "todos:all"} {
		require.NoError(t, c.Set(ctx, key, "v", time.Minute))
	}

	require.NoError(t, c.DeletePattern(ctx, "todo:*"))

	var got string
	assert.ErrorIs(t, c.Get(ctx, "todo:1", &got), ErrCacheMiss)
	assert.NoError(t, c.Get(ctx, "todos:all", &got))

	assert.Error(t, c.DeletePattern(ctx, "["))
}

func TestMemoryCache_EvictsWhenFull(t *testing.T) {
	c, now := newTestMemoryCache(2)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", "v", time.Minute))
	require.NoError(t, c.Set(ctx, "long", "v", time.Hour))
	require.NoError(t, c.Set(ctx, "new", "v", time.Hour))

	assert.Equal(t, 2, c.Len())
	var got string
	assert.ErrorIs(t, c.Get(ctx, "short", &got), ErrCacheMiss)

	*now = now.Add(2 * time.Hour)
	require.NoError(t, c.Set(ctx, "fresh", "v", time.Hour))
	assert.Equal(t, 1, c.Len())
}

func TestMemoryCache_DeleteAndClose(t *testing.T) {
	c, _ := newTestMemoryCache(0)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", 1, time.Minute))
	require.NoError(t, c.Set(ctx, "b", 2, time.Minute))

	require.NoError(t, c.Delete(ctx, "a"))
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.Close())
	assert.Equal(t, 0, c.Len())
	assert.NoError(t, c.Health(ctx))
}

func TestMemoryCache_Stats(t *testing.T) {
	c, now := newTestMemoryCache(10)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", 1, time.Minute))
	require.NoError(t, c.Set(ctx, "b", 1, time.Hour))
	*now = now.Add(2 * time.Minute)

	stats := c.Stats()
	assert.Equal(t, 2, stats["entries"])
	assert.Equal(t, 1, stats["expired"])
	assert.Equal(t, 10, stats["max_entries"])
}

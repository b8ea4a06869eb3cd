package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failingCache struct {
	*memoryCache
}

func (f *failingCache) Get(ctx context.Context, key string, dest interface{}) error {
	return errors.New("connection refused")
}

func TestCacheServiceRoundTrip(t *testing.T) {
	store := newMemoryCache()
	metrics := NewMetricsService()
	cache := NewCacheService(store, metrics, 0, zap.NewNop(), true)
	ctx := context.Background()

	var out []int
	hit, err := cache.Get(ctx, "k", &out)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, cache.Set(ctx, "k", []int{1, 2}, 0))
	hit, err = cache.Get(ctx, "k", &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []int{1, 2}, out)

	require.NoError(t, cache.Delete(ctx, "k"))
	assert.False(t, store.has("k"))

	snapshot := metrics.Snapshot()
	assert.Equal(t, uint64(1), snapshot.CacheHits)
	assert.Equal(t, uint64(1), snapshot.CacheMisses)
}

func TestCacheServiceDisabled(t *testing.T) {
	store := newMemoryCache()
	cache := NewCacheService(store, nil, time.Minute, zap.NewNop(), false)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", 1, 0))
	assert.False(t, store.has("k"))
	var out int
	hit, err := cache.Get(ctx, "k", &out)
	require.NoError(t, err)
	assert.False(t, hit)

	written, err := cache.Fill(ctx, "k", 1, cache.Epoch())
	require.NoError(t, err)
	assert.False(t, written)

	var nilCache *CacheService
	assert.False(t, nilCache.Enabled())
	assert.Zero(t, nilCache.Epoch())
	require.NoError(t, nilCache.InvalidateRosters(ctx))
	require.NoError(t, nilCache.Delete(ctx, "k"))
}

func TestCacheServiceGetError(t *testing.T) {
	cache := NewCacheService(&failingCache{memoryCache: newMemoryCache()}, nil, time.Minute, zap.NewNop(), true)

	var out int
	hit, err := cache.Get(context.Background(), "k", &out)
	assert.Error(t, err)
	assert.False(t, hit)
}

func TestCacheServiceFillSkipsAfterInvalidation(t *testing.T) {
	store := newMemoryCache()
	cache := NewCacheService(store, nil, time.Minute, zap.NewNop(), true)
	ctx := context.Background()
	key := rosterKey("class_student", "owner", 1)

	epoch := cache.Epoch()
	// A writer drops the roster while the reader is still loading.
	require.NoError(t, cache.Delete(ctx, key))

	written, err := cache.Fill(ctx, key, []int{1, 2}, epoch)
	require.NoError(t, err)
	assert.False(t, written)
	assert.False(t, store.has(key))

	written, err = cache.Fill(ctx, key, []int{1}, cache.Epoch())
	require.NoError(t, err)
	assert.True(t, written)
	assert.True(t, store.has(key))
}

func TestCacheServiceInvalidateRosters(t *testing.T) {
	store := newMemoryCache()
	cache := NewCacheService(store, nil, time.Minute, zap.NewNop(), true)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, rosterKey("class_student", "owner", 1), []int{1}, 0))
	require.NoError(t, cache.Set(ctx, rosterKey("experiment_teacher", "member", 2), []int{2}, 0))
	require.NoError(t, cache.Set(ctx, "unrelated", 3, 0))
	before := cache.Epoch()

	removed, err := cache.Invalidate(ctx, "roster:*")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.True(t, store.has("unrelated"))
	assert.Greater(t, cache.Epoch(), before)
}

func TestRosterKey(t *testing.T) {
	assert.Equal(t, "roster:class_student:owner:7", rosterKey("class_student", "owner", 7))
	assert.Equal(t, "roster:a|b:member:1", rosterKey("a:b", "member", 1))
}

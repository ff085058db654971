// internal/store/entitycache_test.go
package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmarket-client/internal/common/config"
	"jobmarket-client/internal/common/logger"
	"jobmarket-client/internal/models"
)

func newTestCache(t *testing.T) *EntityCache {
	t.Helper()

	mr := miniredis.RunT(t)
	cache, err := NewEntityCache(config.RedisConfig{Address: mr.Addr()}, logger.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestEntityCachePutGet(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	app := &models.Application{
		ID:           "app-1",
		JobID:        "job-1",
		Status:       models.StatusPending,
		ContactEmail: "seeker@example.com",
	}
	require.NoError(t, cache.Put(ctx, app))

	got, err := cache.Get(ctx, "app-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, app.ID, got.ID)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, "seeker@example.com", got.ContactEmail)
}

func TestEntityCacheMissReturnsNil(t *testing.T) {
	cache := newTestCache(t)

	got, err := cache.Get(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEntityCachePutOverwrites(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, &models.Application{ID: "app-1", Status: models.StatusPending}))
	require.NoError(t, cache.Put(ctx, &models.Application{ID: "app-1", Status: models.StatusHired}))

	got, err := cache.Get(ctx, "app-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.StatusHired, got.Status)
}

func TestEntityCacheRejectsEmptyID(t *testing.T) {
	cache := newTestCache(t)

	assert.Error(t, cache.Put(context.Background(), &models.Application{}))
	assert.Error(t, cache.Put(context.Background(), nil))
}

func TestEntityCacheDelete(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, &models.Application{ID: "app-1", Status: models.StatusPending}))
	require.NoError(t, cache.Delete(ctx, "app-1"))

	got, err := cache.Get(ctx, "app-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

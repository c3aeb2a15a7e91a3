package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quickstock/internal/service/inventory/domain"
)

func newTestCache(t *testing.T) (*RedisItemCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisItemCache(client, time.Minute), mr
}

func TestRedisItemCache_SetGetEvict(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	key := domain.ItemKey{SKU: "MILK", StoreID: 7}

	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got, "miss returns nil without error")

	item := domain.InventoryItem{ID: 3, SKU: "MILK", StoreID: 7, CurrentStock: 50, ReservedStock: 5, SafetyStock: 10, MaxStock: 200, Version: 4,
		LastUpdated: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	require.NoError(t, c.Set(ctx, item))
	assert.True(t, mr.Exists(itemKey(key)))
	assert.Equal(t, time.Minute, mr.TTL(itemKey(key)))

	got, err = c.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, item, *got)

	require.NoError(t, c.Evict(ctx, key, domain.ItemKey{SKU: "OTHER", StoreID: 7}))
	assert.False(t, mr.Exists(itemKey(key)))
	require.NoError(t, c.Evict(ctx))
}

func TestRedisItemCache_ExpiresWithTTL(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	item := domain.InventoryItem{SKU: "TEA", StoreID: 1, CurrentStock: 1, MaxStock: 10}
	require.NoError(t, c.Set(ctx, item))

	mr.FastForward(2 * time.Minute)
	got, err := c.Get(ctx, item.Key())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisItemCache_CorruptEntry(t *testing.T) {
	c, mr := newTestCache(t)
	key := domain.ItemKey{SKU: "BAD", StoreID: 1}
	require.NoError(t, mr.Set(itemKey(key), "{not json"))

	_, err := c.Get(context.Background(), key)
	assert.Error(t, err)
}

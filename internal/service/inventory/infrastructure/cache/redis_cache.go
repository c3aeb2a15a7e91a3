// Package cache 提供库存项的 Redis 读缓存。
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"quickstock/internal/service/inventory/domain"
)

const keyPrefix = "quickstock:inventory:item"

// RedisItemCache 以 JSON 存储库存项快照；写路径只做驱逐，不做回填。
type RedisItemCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisItemCache(client redis.UniversalClient, ttl time.Duration) *RedisItemCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisItemCache{client: client, ttl: ttl}
}

func itemKey(key domain.ItemKey) string {
	return fmt.Sprintf("%s:{%d}:%s", keyPrefix, key.StoreID, key.SKU)
}

type cachedItem struct {
	ID            int64     `json:"id"`
	SKU           string    `json:"sku"`
	StoreID       int64     `json:"storeId"`
	CurrentStock  int       `json:"currentStock"`
	ReservedStock int       `json:"reservedStock"`
	SafetyStock   int       `json:"safetyStock"`
	MaxStock      int       `json:"maxStock"`
	Version       int64     `json:"version"`
	LastUpdated   time.Time `json:"lastUpdated"`
}

func (c *RedisItemCache) Get(ctx context.Context, key domain.ItemKey) (*domain.InventoryItem, error) {
	raw, err := c.client.Get(ctx, itemKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "redis get %s", key)
	}
	var ci cachedItem
	if err := json.Unmarshal(raw, &ci); err != nil {
		return nil, errors.Wrapf(err, "decode cached item %s", key)
	}
	return &domain.InventoryItem{
		ID:            ci.ID,
		SKU:           ci.SKU,
		StoreID:       ci.StoreID,
		CurrentStock:  ci.CurrentStock,
		ReservedStock: ci.ReservedStock,
		SafetyStock:   ci.SafetyStock,
		MaxStock:      ci.MaxStock,
		Version:       ci.Version,
		LastUpdated:   ci.LastUpdated,
	}, nil
}

func (c *RedisItemCache) Set(ctx context.Context, item domain.InventoryItem) error {
	raw, err := json.Marshal(cachedItem{
		ID:            item.ID,
		SKU:           item.SKU,
		StoreID:       item.StoreID,
		CurrentStock:  item.CurrentStock,
		ReservedStock: item.ReservedStock,
		SafetyStock:   item.SafetyStock,
		MaxStock:      item.MaxStock,
		Version:       item.Version,
		LastUpdated:   item.LastUpdated,
	})
	if err != nil {
		return errors.Wrap(err, "encode item")
	}
	return errors.Wrapf(c.client.Set(ctx, itemKey(item.Key()), raw, c.ttl).Err(), "redis set %s", item.Key())
}

func (c *RedisItemCache) Evict(ctx context.Context, keys ...domain.ItemKey) error {
	if len(keys) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for _, k := range keys {
		pipe.Del(ctx, itemKey(k))
	}
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "redis evict")
}

package application

import (
	"context"
	"time"

	"quickstock/internal/service/inventory/domain"
)

// ItemCache 是库存项的读缓存（redis），任何写操作成功后都会被驱逐。
type ItemCache interface {
	// Get 未命中时返回 (nil, nil)。
	Get(ctx context.Context, key domain.ItemKey) (*domain.InventoryItem, error)
	Set(ctx context.Context, item domain.InventoryItem) error
	Evict(ctx context.Context, keys ...domain.ItemKey) error
}

// LowStockAlert 是低库存通知的内容。
type LowStockAlert struct {
	ItemID        int64     `json:"itemId"`
	SKU           string    `json:"sku"`
	StoreID       int64     `json:"storeId"`
	CurrentStock  int       `json:"currentStock"`
	ReservedStock int       `json:"reservedStock"`
	Available     int       `json:"availableStock"`
	SafetyStock   int       `json:"safetyStock"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// AlertSink 是低库存通知的出站端口（kafka、websocket 等）。
type AlertSink interface {
	PublishLowStock(ctx context.Context, alert LowStockAlert) error
}

// MovementPublisher 在流水提交后对外广播，失败不影响主流程。
type MovementPublisher interface {
	PublishMovements(ctx context.Context, movements []domain.StockMovement) error
}

// SweepLock 保证多实例部署时同一时刻只有一个实例执行过期清理。
type SweepLock interface {
	TryLock() (bool, error)
	Unlock() error
}

// internal/service/inventory/domain/repository.go
package domain

import (
	"context"
	"time"
)

// Store 是库存组件的持久化端口。Atomic 中的所有写操作要么一起提交，要么一起回滚。
type Store interface {
	Atomic(ctx context.Context, fn func(tx Tx) error) error
	Tx
}

// Tx 在一个工作单元内暴露三个仓储。Store 本身也实现 Tx，用于事务外的只读查询。
type Tx interface {
	Items() ItemRepository
	Reservations() ReservationRepository
	Movements() MovementRepository
}

type ItemRepository interface {
	FindBySKUAndStore(ctx context.Context, sku string, storeID int64) (*InventoryItem, error)
	FindByID(ctx context.Context, id int64) (*InventoryItem, error)
	ListByStore(ctx context.Context, storeID int64, skus []string) ([]InventoryItem, error)
	ListLowStock(ctx context.Context, storeID int64) ([]InventoryItem, error)
	// ListNeedingReplenishment 返回满足 InventoryItem.NeedsReplenishment 的库存项，按 SKU 排序。
	ListNeedingReplenishment(ctx context.Context, storeID int64) ([]InventoryItem, error)
	// Create 插入新库存项，并回填 ID 与 Version。
	Create(ctx context.Context, item *InventoryItem) error
	// UpdateIfVersion 仅当存储中的版本号等于 expectedVersion 时写入，成功后版本号 +1；
	// 否则返回 occ.ErrConflict。
	UpdateIfVersion(ctx context.Context, item *InventoryItem, expectedVersion int64) error
}

type ReservationRepository interface {
	Create(ctx context.Context, r *Reservation) error
	FindByID(ctx context.Context, id string) (*Reservation, error)
	FindPendingByOrderReference(ctx context.Context, orderRef string) ([]Reservation, error)
	FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]Reservation, error)
	// TransitionStatus 仅当当前状态为 from 时改为 to，否则返回 occ.ErrConflict。
	TransitionStatus(ctx context.Context, id string, from, to ReservationStatus, at time.Time) error
}

type MovementRepository interface {
	Append(ctx context.Context, m *StockMovement) error
	ListByItem(ctx context.Context, itemID int64) ([]StockMovement, error)
}

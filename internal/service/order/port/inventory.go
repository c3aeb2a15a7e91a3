package port

import (
	"context"
	"time"
)

// Reservation 是库存服务返回的预占凭据。
type Reservation struct {
	ID        string
	ExpiresAt time.Time
}

// InventoryService 是库存服务的出站端口。
// 业务拒绝以 domain 中的哨兵错误返回；暂时性故障返回 domain.ErrInventoryUnavailable。
type InventoryService interface {
	// Reserve 为订单中的单个 SKU 预占库存。
	Reserve(ctx context.Context, storeID int64, sku string, quantity int, orderRef string) (Reservation, error)

	Confirm(ctx context.Context, reservationID string) error

	// Release 是 Reserve 的补偿操作。
	Release(ctx context.Context, reservationID string) error

	// ReleaseByOrder 释放某订单仍处于 PENDING 的全部预占，返回释放数量。
	ReleaseByOrder(ctx context.Context, orderRef string) (int, error)

	// Availability 返回各 SKU 的可用库存，未知 SKU 为 0。
	Availability(ctx context.Context, storeID int64, skus []string) (map[string]int, error)
}

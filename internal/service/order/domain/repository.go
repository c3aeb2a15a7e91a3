// internal/service/order/domain/repository.go
package domain

import (
	"context"
	"time"
)

// OrderRepository 定义了订单聚合的持久化接口。
// 它位于领域层，但由基础设施层实现。
type OrderRepository interface {
	// Create 保存一个新订单（包含订单行）。幂等键冲突时返回 ErrDuplicateIdempotencyKey。
	Create(ctx context.Context, order *Order) error

	FindByUUID(ctx context.Context, uuid string) (*Order, error)

	// FindByIdempotencyKey 未找到时返回 ErrOrderNotFound。
	FindByIdempotencyKey(ctx context.Context, key string) (*Order, error)

	// UpdateStatus 仅当当前状态为 from 时才写入 to，否则返回 ErrInvalidOrderState。
	UpdateStatus(ctx context.Context, uuid string, from, to Status, reason string, at time.Time) error

	// MarkItemConfirmed 持久化单行的确认进度，供支付确认中断后重试。
	MarkItemConfirmed(ctx context.Context, uuid, sku string, at time.Time) error

	// FindPendingBefore 返回 cutoff 之前创建、仍在 PENDING_PAYMENT 的订单，按创建时间升序。
	FindPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]Order, error)

	// FindOrders 按创建时间倒序分页返回满足 filter 的订单。
	FindOrders(ctx context.Context, filter OrderFilter) ([]Order, error)
}

// OrderFilter 中取零值的字段不参与过滤。
type OrderFilter struct {
	CustomerID int64
	StoreID    int64
	Status     Status
	Offset     int
	Limit      int
}

func (f OrderFilter) Matches(o *Order) bool {
	if f.CustomerID != 0 && o.CustomerID != f.CustomerID {
		return false
	}
	if f.StoreID != 0 && o.StoreID != f.StoreID {
		return false
	}
	return f.Status == "" || o.Status == f.Status
}

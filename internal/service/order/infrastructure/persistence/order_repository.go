// Package persistence 是订单仓储基于 gorm + MySQL 的实现。
package persistence

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"quickstock/internal/pkg/database"
	"quickstock/internal/service/order/domain"
)

// Models 返回需要自动迁移的表。
func Models() []any {
	return []any{&OrderModel{}, &OrderItemModel{}}
}

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	m := fromDomain(order)
	m.ID = 0
	// 订单与订单行在同一事务中写入
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(m).Error
	})
	if err != nil {
		if database.IsDuplicateKey(err) && order.IdempotencyKey != "" {
			return errors.Wrapf(domain.ErrDuplicateIdempotencyKey, "key %s", order.IdempotencyKey)
		}
		return errors.Wrap(err, "insert order")
	}
	order.ID = m.ID
	return nil
}

func (r *OrderRepository) withItems(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") })
}

func (r *OrderRepository) findOne(ctx context.Context, query string, arg any) (*domain.Order, error) {
	var m OrderModel
	if err := r.withItems(ctx).Where(query, arg).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, errors.Wrap(err, "query order")
	}
	return toDomain(&m), nil
}

func (r *OrderRepository) FindByUUID(ctx context.Context, uuid string) (*domain.Order, error) {
	return r.findOne(ctx, "order_uuid = ?", uuid)
}

func (r *OrderRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	return r.findOne(ctx, "idempotency_key = ?", key)
}

// UpdateStatus 使用 UPDATE ... WHERE status = from 实现条件流转。
func (r *OrderRepository) UpdateStatus(ctx context.Context, uuid string, from, to domain.Status, reason string, at time.Time) error {
	updates := map[string]any{"status": to, "updated_at": at}
	if reason != "" {
		updates["cancel_reason"] = reason
	}
	res := r.db.WithContext(ctx).Model(&OrderModel{}).
		Where("order_uuid = ? AND status = ?", uuid, from).
		Updates(updates)
	if res.Error != nil {
		return errors.Wrap(res.Error, "update order status")
	}
	if res.RowsAffected == 0 {
		current, err := r.FindByUUID(ctx, uuid)
		if err != nil {
			return err
		}
		return errors.Wrapf(domain.ErrInvalidOrderState, "order %s is %s, expected %s", uuid, current.Status, from)
	}
	return nil
}

func (r *OrderRepository) MarkItemConfirmed(ctx context.Context, uuid, sku string, at time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order OrderModel
		if err := tx.Select("id").Where("order_uuid = ?", uuid).First(&order).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrOrderNotFound
			}
			return errors.Wrap(err, "query order")
		}
		if err := tx.Model(&OrderItemModel{}).Where("order_id = ? AND sku = ?", order.ID, sku).
			Update("confirmed", true).Error; err != nil {
			return errors.Wrap(err, "mark order item confirmed")
		}
		return tx.Model(&OrderModel{}).Where("id = ?", order.ID).Update("updated_at", at).Error
	})
}

func (r *OrderRepository) FindPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	var models []OrderModel
	err := r.withItems(ctx).
		Where("status = ? AND created_at < ?", domain.StatusPendingPayment, cutoff).
		Order("created_at").Limit(limit).Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "find unpaid orders")
	}
	out := make([]domain.Order, len(models))
	for i := range models {
		out[i] = *toDomain(&models[i])
	}
	return out, nil
}

func (r *OrderRepository) FindOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	q := r.withItems(ctx)
	if filter.CustomerID != 0 {
		q = q.Where("customer_id = ?", filter.CustomerID)
	}
	if filter.StoreID != 0 {
		q = q.Where("store_id = ?", filter.StoreID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var models []OrderModel
	if err := q.Order("created_at DESC").Order("id DESC").Offset(filter.Offset).Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	out := make([]domain.Order, len(models))
	for i := range models {
		out[i] = *toDomain(&models[i])
	}
	return out, nil
}

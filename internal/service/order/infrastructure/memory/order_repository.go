// Package memory 提供订单仓储的内存实现，用于测试和本地运行。
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"quickstock/internal/service/order/domain"
)

type OrderRepository struct {
	mu     sync.Mutex
	nextID int64
	byUUID map[string]*domain.Order
	byKey  map[string]string
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		byUUID: make(map[string]*domain.Order),
		byKey:  make(map[string]string),
	}
}

func clone(o *domain.Order) *domain.Order {
	c := *o
	c.Items = append([]domain.OrderItem(nil), o.Items...)
	return &c
}

func (r *OrderRepository) Create(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if order.IdempotencyKey != "" {
		if _, ok := r.byKey[order.IdempotencyKey]; ok {
			return domain.ErrDuplicateIdempotencyKey
		}
	}
	if _, ok := r.byUUID[order.UUID]; ok {
		return errors.Errorf("order %s already exists", order.UUID)
	}
	r.nextID++
	order.ID = r.nextID
	r.byUUID[order.UUID] = clone(order)
	if order.IdempotencyKey != "" {
		r.byKey[order.IdempotencyKey] = order.UUID
	}
	return nil
}

func (r *OrderRepository) FindByUUID(_ context.Context, uuid string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.byUUID[uuid]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return clone(o), nil
}

func (r *OrderRepository) FindByIdempotencyKey(_ context.Context, key string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	uuid, ok := r.byKey[key]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return clone(r.byUUID[uuid]), nil
}

func (r *OrderRepository) UpdateStatus(_ context.Context, uuid string, from, to domain.Status, reason string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.byUUID[uuid]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if o.Status != from {
		return errors.Wrapf(domain.ErrInvalidOrderState, "order %s is %s, expected %s", uuid, o.Status, from)
	}
	o.Status = to
	if reason != "" {
		o.CancelReason = reason
	}
	o.UpdatedAt = at
	return nil
}

func (r *OrderRepository) MarkItemConfirmed(_ context.Context, uuid, sku string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.byUUID[uuid]
	if !ok {
		return domain.ErrOrderNotFound
	}
	o.MarkItemConfirmed(sku)
	o.UpdatedAt = at
	return nil
}

func (r *OrderRepository) FindPendingBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, o := range r.byUUID {
		if o.Status == domain.StatusPendingPayment && o.CreatedAt.Before(cutoff) {
			out = append(out, *clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *OrderRepository) FindOrders(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, o := range r.byUUID {
		if filter.Matches(o) {
			out = append(out, *clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

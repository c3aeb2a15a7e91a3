package application

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"quickstock/internal/service/order/domain"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 50
)

// PageRequest 页码从 0 开始；Size 超出范围时取默认值或上限。
type PageRequest struct {
	Page int
	Size int
}

func (p PageRequest) normalize() PageRequest {
	if p.Page < 0 {
		p.Page = 0
	}
	switch {
	case p.Size <= 0:
		p.Size = DefaultPageSize
	case p.Size > MaxPageSize:
		p.Size = MaxPageSize
	}
	return p
}

type OrderPage struct {
	Orders []domain.Order
	Page   int
	Size   int
}

// ListCustomerOrders 返回顾客的订单，最新的在前。
func (s *OrderApplicationService) ListCustomerOrders(ctx context.Context, customerID int64, page PageRequest) (*OrderPage, error) {
	if customerID <= 0 {
		return nil, errors.Wrapf(domain.ErrInvalidOrder, "customerId must be positive, got %d", customerID)
	}
	return s.list(ctx, "app.ListCustomerOrders", domain.OrderFilter{CustomerID: customerID}, page)
}

// ListStoreOrders 返回门店的订单，status 为空时不按状态过滤。
func (s *OrderApplicationService) ListStoreOrders(ctx context.Context, storeID int64, status domain.Status, page PageRequest) (*OrderPage, error) {
	if storeID <= 0 {
		return nil, errors.Wrapf(domain.ErrInvalidOrder, "storeId must be positive, got %d", storeID)
	}
	return s.list(ctx, "app.ListStoreOrders", domain.OrderFilter{StoreID: storeID, Status: status}, page)
}

func (s *OrderApplicationService) list(ctx context.Context, name string, filter domain.OrderFilter, page PageRequest) (*OrderPage, error) {
	page = page.normalize()
	ctx, span := s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.Int64("customer.id", filter.CustomerID),
		attribute.Int64("store.id", filter.StoreID),
		attribute.String("status", string(filter.Status)),
		attribute.Int("page", page.Page),
		attribute.Int("size", page.Size),
	))
	defer span.End()

	filter.Offset, filter.Limit = page.Page*page.Size, page.Size
	orders, err := s.repo.FindOrders(ctx, filter)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "list orders")
	}
	span.SetAttributes(attribute.Int("orders", len(orders)))
	return &OrderPage{Orders: orders, Page: page.Page, Size: page.Size}, nil
}

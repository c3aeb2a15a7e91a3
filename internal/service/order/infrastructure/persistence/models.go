package persistence

import (
	"time"

	"quickstock/internal/service/order/domain"
)

// OrderModel 对应 orders 表。幂等键可为空（NULL），非空时唯一。
type OrderModel struct {
	ID             int64            `gorm:"primaryKey;autoIncrement"`
	UUID           string           `gorm:"column:order_uuid;size:36;not null;uniqueIndex"`
	IdempotencyKey *string          `gorm:"size:128;uniqueIndex:uk_idempotency_key"`
	CustomerID     int64            `gorm:"not null;index"`
	StoreID        int64            `gorm:"not null;index:idx_store_created,priority:1"`
	Status         domain.Status    `gorm:"size:20;not null;index:idx_status_created,priority:1"`
	Subtotal       int64            `gorm:"not null"`
	DeliveryFee    int64            `gorm:"not null"`
	TotalAmount    int64            `gorm:"not null"`
	CancelReason   string           `gorm:"size:255"`
	CreatedAt      time.Time        `gorm:"not null;index:idx_status_created,priority:2;index:idx_store_created,priority:2"`
	UpdatedAt      time.Time        `gorm:"not null"`
	Items          []OrderItemModel `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

func (OrderModel) TableName() string { return "orders" }

// OrderItemModel 对应 order_items 表。
type OrderItemModel struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	OrderID       int64  `gorm:"not null;uniqueIndex:uk_order_sku"`
	SKU           string `gorm:"column:sku;size:64;not null;uniqueIndex:uk_order_sku"`
	Quantity      int    `gorm:"not null"`
	UnitPrice     int64  `gorm:"not null"`
	ReservationID string `gorm:"size:64"`
	Confirmed     bool   `gorm:"not null;default:false"`
}

func (OrderItemModel) TableName() string { return "order_items" }

func fromDomain(o *domain.Order) *OrderModel {
	m := &OrderModel{
		ID:           o.ID,
		UUID:         o.UUID,
		CustomerID:   o.CustomerID,
		StoreID:      o.StoreID,
		Status:       o.Status,
		Subtotal:     o.Subtotal,
		DeliveryFee:  o.DeliveryFee,
		TotalAmount:  o.TotalAmount,
		CancelReason: o.CancelReason,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
	if o.IdempotencyKey != "" {
		key := o.IdempotencyKey
		m.IdempotencyKey = &key
	}
	for _, it := range o.Items {
		m.Items = append(m.Items, OrderItemModel{
			SKU:           it.SKU,
			Quantity:      it.Quantity,
			UnitPrice:     it.UnitPrice,
			ReservationID: it.ReservationID,
			Confirmed:     it.Confirmed,
		})
	}
	return m
}

func toDomain(m *OrderModel) *domain.Order {
	o := &domain.Order{
		ID:           m.ID,
		UUID:         m.UUID,
		CustomerID:   m.CustomerID,
		StoreID:      m.StoreID,
		Status:       m.Status,
		Subtotal:     m.Subtotal,
		DeliveryFee:  m.DeliveryFee,
		TotalAmount:  m.TotalAmount,
		CancelReason: m.CancelReason,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if m.IdempotencyKey != nil {
		o.IdempotencyKey = *m.IdempotencyKey
	}
	o.Items = make([]domain.OrderItem, len(m.Items))
	for i, it := range m.Items {
		o.Items[i] = domain.OrderItem{
			SKU:           it.SKU,
			Quantity:      it.Quantity,
			UnitPrice:     it.UnitPrice,
			ReservationID: it.ReservationID,
			Confirmed:     it.Confirmed,
		}
	}
	return o
}

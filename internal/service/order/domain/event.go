// internal/service/order/domain/event.go
package domain

import "time"

const (
	EventOrderCreated   = "ORDER_CREATED"
	EventOrderPaid      = "ORDER_PAID"
	EventOrderCancelled = "ORDER_CANCELLED"
)

// OrderEvent 是订单生命周期变化时发往通知主题的事件
type OrderEvent struct {
	Type        string    `json:"type"`
	OrderUUID   string    `json:"orderUuid"`
	CustomerID  int64     `json:"customerId"`
	StoreID     int64     `json:"storeId"`
	Status      Status    `json:"status"`
	TotalAmount int64     `json:"totalAmount"`
	Reason      string    `json:"reason,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// NewOrderEvent 从订单当前状态构造事件。
func NewOrderEvent(eventType string, o *Order) OrderEvent {
	return OrderEvent{
		Type:        eventType,
		OrderUUID:   o.UUID,
		CustomerID:  o.CustomerID,
		StoreID:     o.StoreID,
		Status:      o.Status,
		TotalAmount: o.TotalAmount,
		Reason:      o.CancelReason,
		OccurredAt:  o.UpdatedAt,
	}
}

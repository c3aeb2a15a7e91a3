// internal/service/order/domain/order.go
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// OrderItem 是订单行。金额均以最小货币单位（分）存储。
type OrderItem struct {
	SKU           string
	Quantity      int
	UnitPrice     int64
	ReservationID string
	Confirmed     bool
}

func (i OrderItem) LineTotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// Line 是下单请求中的一行。
type Line struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// Order 是订单聚合的根实体
type Order struct {
	ID             int64
	UUID           string
	IdempotencyKey string
	CustomerID     int64
	StoreID        int64
	Status         Status
	Items          []OrderItem
	Subtotal       int64
	DeliveryFee    int64
	TotalAmount    int64
	CancelReason   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewOrder 校验请求并创建一个 PENDING_PAYMENT 状态的订单，价格尚未填充。
// 同一 SKU 的多行会被合并。
func NewOrder(idempotencyKey string, customerID, storeID int64, lines []Line, now time.Time) (*Order, error) {
	if customerID <= 0 || storeID <= 0 {
		return nil, errors.Wrap(ErrInvalidOrder, "customerId and storeId are required")
	}
	if len(lines) == 0 {
		return nil, errors.Wrap(ErrInvalidOrder, "order must contain at least one item")
	}

	index := make(map[string]int, len(lines))
	items := make([]OrderItem, 0, len(lines))
	for _, l := range lines {
		sku := strings.TrimSpace(l.SKU)
		if sku == "" {
			return nil, errors.Wrap(ErrInvalidOrder, "sku is required")
		}
		if l.Quantity <= 0 {
			return nil, errors.Wrapf(ErrInvalidOrder, "quantity for %s must be positive", sku)
		}
		if i, ok := index[sku]; ok {
			items[i].Quantity += l.Quantity
			continue
		}
		index[sku] = len(items)
		items = append(items, OrderItem{SKU: sku, Quantity: l.Quantity})
	}

	return &Order{
		UUID:           uuid.NewString(),
		IdempotencyKey: strings.TrimSpace(idempotencyKey),
		CustomerID:     customerID,
		StoreID:        storeID,
		Status:         StatusPendingPayment,
		Items:          items,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// SKUs 返回订单中所有 SKU，顺序与订单行一致。
func (o *Order) SKUs() []string {
	skus := make([]string, len(o.Items))
	for i, it := range o.Items {
		skus[i] = it.SKU
	}
	return skus
}

// ApplyPrices 用目录价格填充订单行并计算总额。缺失或非正的价格会使订单无效。
func (o *Order) ApplyPrices(prices map[string]int64, deliveryFee int64) error {
	var subtotal int64
	for i := range o.Items {
		price, ok := prices[o.Items[i].SKU]
		if !ok {
			return errors.Wrapf(ErrInvalidOrder, "product %s not found in catalog", o.Items[i].SKU)
		}
		if price <= 0 {
			return errors.Wrapf(ErrInvalidOrder, "product %s has no valid price", o.Items[i].SKU)
		}
		o.Items[i].UnitPrice = price
		subtotal += o.Items[i].LineTotal()
	}
	o.Subtotal = subtotal
	o.DeliveryFee = deliveryFee
	o.TotalAmount = subtotal + deliveryFee
	return nil
}

// AttachReservation 记录某个 SKU 对应的预占 ID。
func (o *Order) AttachReservation(sku, reservationID string) {
	for i := range o.Items {
		if o.Items[i].SKU == sku {
			o.Items[i].ReservationID = reservationID
			return
		}
	}
}

// MarkItemConfirmed 标记某行的预占已确认。
func (o *Order) MarkItemConfirmed(sku string) {
	for i := range o.Items {
		if o.Items[i].SKU == sku {
			o.Items[i].Confirmed = true
			return
		}
	}
}

// UnconfirmedItems 返回仍持有未确认预占的行。
func (o *Order) UnconfirmedItems() []OrderItem {
	var out []OrderItem
	for _, it := range o.Items {
		if !it.Confirmed && it.ReservationID != "" {
			out = append(out, it)
		}
	}
	return out
}

// Pay 支付订单
func (o *Order) Pay(now time.Time) error {
	if o.Status != StatusPendingPayment {
		return errors.Wrapf(ErrInvalidOrderState, "cannot pay order in status %s", o.Status)
	}
	o.Status = StatusPaid
	o.UpdatedAt = now
	return nil
}

// Cancel 取消订单，只有待支付的订单可以被取消
func (o *Order) Cancel(reason string, now time.Time) error {
	if o.Status != StatusPendingPayment {
		return errors.Wrapf(ErrInvalidOrderState, "cannot cancel order in status %s", o.Status)
	}
	o.Status = StatusCancelled
	o.CancelReason = reason
	o.UpdatedAt = now
	return nil
}

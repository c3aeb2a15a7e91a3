package port

import (
	"context"

	"quickstock/internal/service/order/domain"
)

// NotificationProducer 是消息生产者的出站端口。
type NotificationProducer interface {
	// SendOrderCreated 发送订单创建成功的通知。
	SendOrderCreated(ctx context.Context, order *domain.Order) error

	SendOrderPaid(ctx context.Context, order *domain.Order) error

	SendOrderCancelled(ctx context.Context, order *domain.Order) error
}

package adapter

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"quickstock/internal/pkg/mq"
	"quickstock/internal/service/order/domain"
)

// NotificationKafkaAdapter 实现了 port.NotificationProducer 接口。
// 消息键为订单 UUID，同一订单的事件落在同一分区内保持有序。
type NotificationKafkaAdapter struct {
	producer mq.Producer
}

// NewNotificationKafkaAdapter 创建一个新的通知生产者适配器。
func NewNotificationKafkaAdapter(producer mq.Producer) *NotificationKafkaAdapter {
	return &NotificationKafkaAdapter{producer: producer}
}

func (a *NotificationKafkaAdapter) SendOrderCreated(ctx context.Context, order *domain.Order) error {
	return a.send(ctx, domain.NewOrderEvent(domain.EventOrderCreated, order))
}

func (a *NotificationKafkaAdapter) SendOrderPaid(ctx context.Context, order *domain.Order) error {
	return a.send(ctx, domain.NewOrderEvent(domain.EventOrderPaid, order))
}

func (a *NotificationKafkaAdapter) SendOrderCancelled(ctx context.Context, order *domain.Order) error {
	return a.send(ctx, domain.NewOrderEvent(domain.EventOrderCancelled, order))
}

func (a *NotificationKafkaAdapter) send(ctx context.Context, event domain.OrderEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal order event")
	}
	// mq.ProduceMessage 会自动注入链路上下文
	return mq.ProduceMessage(ctx, a.producer, []byte(event.OrderUUID), body)
}

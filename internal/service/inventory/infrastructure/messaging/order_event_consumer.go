package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"quickstock/internal/pkg/logger"
	"quickstock/internal/pkg/mq"
)

const orderCancelled = "ORDER_CANCELLED"

// OrderReleaser 按订单引用释放所有仍处于 PENDING 的预占。
type OrderReleaser interface {
	ReleaseByOrderReference(ctx context.Context, orderRef string) (int, error)
}

type orderEvent struct {
	Type      string `json:"type"`
	OrderUUID string `json:"orderUuid"`
}

// OrderEventConsumer 监听订单通知主题，订单取消时立即回收其预占，
// 不必等待过期清理。重复消费是安全的。
type OrderEventConsumer struct {
	consumer   mq.Consumer
	releaser   OrderReleaser
	retryDelay time.Duration
}

func NewOrderEventConsumer(consumer mq.Consumer, releaser OrderReleaser) *OrderEventConsumer {
	return &OrderEventConsumer{consumer: consumer, releaser: releaser, retryDelay: time.Second}
}

// Run 持续消费直到 ctx 被取消。
func (c *OrderEventConsumer) Run(ctx context.Context) error {
	logger.Ctx(ctx).Info().Msg("✅ order event consumer started")
	for {
		msg, err := c.consumer.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Ctx(ctx).Info().Msg("🛑 order event consumer stopped")
				return nil
			}
			logger.Ctx(ctx).Error().Err(err).Msg("could not fetch order event, retrying")
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		c.handle(ctx, msg)

		if err := c.consumer.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			logger.Ctx(ctx).Error().Err(err).Int64("offset", msg.Offset).Msg("failed to commit order event")
		}
	}
}

func (c *OrderEventConsumer) handle(parent context.Context, msg kafka.Message) {
	ctx := mq.ExtractContext(parent, msg)

	var ev orderEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Int64("offset", msg.Offset).Msg("skip malformed order event")
		return
	}
	if ev.Type != orderCancelled || ev.OrderUUID == "" {
		return
	}

	n, err := c.releaser.ReleaseByOrderReference(ctx, ev.OrderUUID)
	if err != nil {
		// 释放失败不重投，过期清理会兜底
		logger.Ctx(ctx).Error().Err(err).Str("order", ev.OrderUUID).Msg("release reservations for cancelled order failed")
		return
	}
	if n > 0 {
		logger.Ctx(ctx).Info().Str("order", ev.OrderUUID).Int("released", n).Msg("reservations released for cancelled order")
	}
}

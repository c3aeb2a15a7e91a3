package saga

import (
	"go.opentelemetry.io/otel/attribute"

	"quickstock/internal/pkg/logger"
)

// NotificationHandler 是 Saga 流程的最后一步，负责发送订单创建通知。
type NotificationHandler struct {
	NextHandler
}

func (h *NotificationHandler) Handle(orderCtx *OrderContext) error {
	ctx, span := orderCtx.Tracer.Start(orderCtx.Ctx, "saga.Notification")
	defer span.End()

	span.SetAttributes(attribute.String("messaging.system", "kafka"))

	if orderCtx.Notifier == nil {
		return h.executeNext(orderCtx)
	}

	// 通知失败不影响已经落库的订单，只记录
	if err := orderCtx.Notifier.SendOrderCreated(ctx, orderCtx.Order); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("order", orderCtx.Order.UUID).Msg("failed to publish order created notification")
		span.RecordError(err)
	}

	return h.executeNext(orderCtx)
}

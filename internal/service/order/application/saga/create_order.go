package saga

import (
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/codes"

	"quickstock/internal/pkg/logger"
	"quickstock/internal/service/order/domain"
)

// PersistOrderHandler 把已完成预占的订单以 PENDING_PAYMENT 状态落库。
type PersistOrderHandler struct {
	NextHandler
	repo domain.OrderRepository
}

func NewPersistOrderHandler(repo domain.OrderRepository) *PersistOrderHandler {
	return &PersistOrderHandler{repo: repo}
}

func (h *PersistOrderHandler) Handle(orderCtx *OrderContext) error {
	ctx, span := orderCtx.Tracer.Start(orderCtx.Ctx, "saga.PersistOrder")
	defer span.End()

	logger.Ctx(ctx).Debug().Str("order", orderCtx.Order.UUID).Msg("【Saga】=> step 3: persist order")

	err := h.repo.Create(ctx, orderCtx.Order)
	if errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
		// 并发的同键请求先落库了
		winner, findErr := h.repo.FindByIdempotencyKey(ctx, orderCtx.Order.IdempotencyKey)
		if findErr != nil {
			span.RecordError(findErr)
			return errors.Wrap(findErr, "load order for duplicate idempotency key")
		}
		orderCtx.Existing = winner
		span.AddEvent("idempotency key taken by concurrent request")
		return err
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist order failed")
		return errors.Wrap(err, "failed to save pending payment order")
	}

	span.AddEvent("pending payment order saved")
	return h.executeNext(orderCtx)
}

package saga

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"quickstock/internal/pkg/logger"
	"quickstock/internal/service/order/domain"
)

// ReserveStockHandler 逐个 SKU 预占库存，每成功一个就注册一个释放补偿。
type ReserveStockHandler struct {
	NextHandler
}

func (h *ReserveStockHandler) Handle(orderCtx *OrderContext) error {
	ctx, span := orderCtx.Tracer.Start(orderCtx.Ctx, "saga.ReserveStock")
	defer span.End()

	order := orderCtx.Order
	logger.Ctx(ctx).Debug().Str("order", order.UUID).Int("items", len(order.Items)).Msg("【Saga】=> step 2: reserve stock")

	for _, item := range order.Items {
		res, err := orderCtx.Inventory.Reserve(ctx, order.StoreID, item.SKU, item.Quantity, order.UUID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "inventory reservation failed")
			span.SetAttributes(attribute.String("rejected.sku", item.SKU))
			if domain.IsStockRejection(err) {
				return &domain.StockRejectedError{SKU: item.SKU, Err: err}
			}
			return errors.Wrapf(err, "reserve %s", item.SKU)
		}
		order.AttachReservation(item.SKU, res.ID)

		reservationID, sku := res.ID, item.SKU
		orderCtx.AddCompensation(func(compCtx context.Context) {
			compCtx, compSpan := orderCtx.Tracer.Start(compCtx, "saga.compensation.ReleaseStock")
			defer compSpan.End()
			compSpan.SetAttributes(attribute.String("reservation.id", reservationID), attribute.String("sku", sku))

			// 释放失败时依赖库存侧的过期清理兜底
			if err := orderCtx.Inventory.Release(compCtx, reservationID); err != nil {
				compSpan.RecordError(err)
				logger.Ctx(compCtx).Warn().Err(err).Str("reservation", reservationID).
					Msg("compensating release failed, reservation will expire on its own")
			}
		})
	}

	span.AddEvent("all items reserved")
	return h.executeNext(orderCtx)
}

package saga

import (
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"quickstock/internal/pkg/logger"
	"quickstock/internal/service/order/domain"
)

// PricingHandler 从商品目录获取单价并计算订单总额。它在预占库存之前执行，因此无需补偿。
type PricingHandler struct {
	NextHandler
}

func (h *PricingHandler) Handle(orderCtx *OrderContext) error {
	ctx, span := orderCtx.Tracer.Start(orderCtx.Ctx, "saga.Pricing")
	defer span.End()

	logger.Ctx(ctx).Debug().Str("order", orderCtx.Order.UUID).Msg("【Saga】=> step 1: pricing")

	skus := orderCtx.Order.SKUs()
	span.SetAttributes(attribute.StringSlice("skus", skus))

	prices, err := orderCtx.Catalog.Prices(ctx, skus)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "catalog lookup failed")
		if errors.Is(err, domain.ErrCatalogUnavailable) {
			return err
		}
		return errors.Wrap(domain.ErrCatalogUnavailable, err.Error())
	}
	if err := orderCtx.Order.ApplyPrices(prices, orderCtx.DeliveryFee); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid pricing")
		return err
	}

	span.SetAttributes(attribute.Int64("order.total", orderCtx.Order.TotalAmount))
	return h.executeNext(orderCtx)
}

package application

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"quickstock/internal/pkg/logger"
	"quickstock/internal/service/order/domain"
)

// PreviewOrder 并行查询价格和可用库存。价格查询失败时整个预览失败；
// 库存查询失败时退化为只返回价格，并附带提示。
func (s *OrderApplicationService) PreviewOrder(ctx context.Context, req PreviewRequest) (result *PreviewResult, err error) {
	ctx, span := s.tracer.Start(ctx, "app.PreviewOrder", trace.WithAttributes(attribute.Int64("store.id", req.StoreID)))
	defer s.finish(span, "preview", time.Now(), &err)

	draft, err := domain.NewOrder("", max(req.CustomerID, 1), req.StoreID, req.Items, s.now())
	if err != nil {
		return nil, err
	}
	skus := draft.SKUs()

	var (
		prices   map[string]int64
		avail    map[string]int
		availErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.catalog.Prices(gctx, skus)
		if err != nil {
			if errors.Is(err, domain.ErrCatalogUnavailable) {
				return err
			}
			return errors.Wrap(domain.ErrCatalogUnavailable, err.Error())
		}
		prices = p
		return nil
	})
	g.Go(func() error {
		// 库存失败不取消价格查询
		avail, availErr = s.inventory.Availability(ctx, req.StoreID, skus)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result = &PreviewResult{StoreID: req.StoreID, DeliveryFee: s.deliveryFee, StockVerified: availErr == nil, Warnings: []string{}}
	if availErr != nil {
		logger.Ctx(ctx).Warn().Err(availErr).Int64("store", req.StoreID).Msg("availability lookup failed, previewing prices only")
		result.Warnings = append(result.Warnings, "Stock availability could not be verified")
	}

	for _, item := range draft.Items {
		line := PreviewLine{SKU: item.SKU, Quantity: item.Quantity}
		price, ok := prices[item.SKU]
		if !ok || price <= 0 {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Product not found: %s", item.SKU))
		} else {
			line.UnitPrice = price
			line.LineTotal = price * int64(item.Quantity)
			result.Subtotal += line.LineTotal
		}
		if availErr == nil {
			line.Available = avail[item.SKU]
			line.InStock = line.Available >= item.Quantity
			if !line.InStock {
				result.Warnings = append(result.Warnings, fmt.Sprintf("Insufficient stock for %s", item.SKU))
			}
		}
		result.Items = append(result.Items, line)
	}
	result.TotalAmount = result.Subtotal + result.DeliveryFee
	return result, nil
}

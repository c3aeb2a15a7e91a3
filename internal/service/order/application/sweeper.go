package application

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"quickstock/internal/pkg/logger"
	"quickstock/internal/service/order/domain"
)

const timeoutReason = "payment timeout"

// OrderSweeper 周期性取消超过支付期限仍未支付的订单。
// 默认只在本地取消，库存由预占自身的过期机制回收；activeRelease 为 true 时额外主动释放。
type OrderSweeper struct {
	svc           *OrderApplicationService
	paymentTTL    time.Duration
	interval      time.Duration
	batchSize     int
	activeRelease bool
}

func NewOrderSweeper(svc *OrderApplicationService, paymentTTL, interval time.Duration, batchSize int, activeRelease bool) *OrderSweeper {
	if paymentTTL <= 0 {
		paymentTTL = 5 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &OrderSweeper{svc: svc, paymentTTL: paymentTTL, interval: interval, batchSize: batchSize, activeRelease: activeRelease}
}

// Start 启动定时轮询，直到 ctx 被取消。
func (s *OrderSweeper) Start(ctx context.Context) error {
	logger.Ctx(ctx).Info().Dur("interval", s.interval).Dur("ttl", s.paymentTTL).Bool("activeRelease", s.activeRelease).
		Msg("✅ order sweeper started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				logger.Ctx(ctx).Error().Err(err).Msg("order sweep failed")
			}
		case <-ctx.Done():
			logger.Ctx(ctx).Info().Msg("🛑 order sweeper stopped")
			return nil
		}
	}
}

// SweepOnce 处理一批超时订单，返回被取消的数量。已被并发支付或取消的订单会被跳过。
func (s *OrderSweeper) SweepOnce(ctx context.Context) (int, error) {
	ctx, span := s.svc.tracer.Start(ctx, "order.SweepUnpaidOrders")
	defer span.End()

	cutoff := s.svc.now().Add(-s.paymentTTL)
	orders, err := s.svc.repo.FindPendingBefore(ctx, cutoff, s.batchSize)
	if err != nil {
		span.RecordError(err)
		return 0, errors.Wrap(err, "find unpaid orders")
	}
	span.SetAttributes(attribute.Int("candidates", len(orders)))

	cancelled := 0
	for i := range orders {
		order := &orders[i]
		if _, err := s.svc.cancel(ctx, order, timeoutReason, s.activeRelease); err != nil {
			if errors.Is(err, domain.ErrInvalidOrderState) {
				sweptOrders.WithLabelValues("skipped").Inc()
				continue
			}
			sweptOrders.WithLabelValues("error").Inc()
			logger.Ctx(ctx).Error().Err(err).Str("order", order.UUID).Msg("cancel unpaid order failed")
			continue
		}
		sweptOrders.WithLabelValues("cancelled").Inc()
		cancelled++
	}

	if cancelled > 0 {
		logger.Ctx(ctx).Info().Int("cancelled", cancelled).Msg("unpaid orders cancelled")
	}
	return cancelled, nil
}

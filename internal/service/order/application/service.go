// internal/service/order/application/service.go
package application

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"quickstock/internal/pkg/logger"
	"quickstock/internal/service/order/application/saga"
	"quickstock/internal/service/order/domain"
	"quickstock/internal/service/order/port"
)

const (
	// DefaultDeliveryFee 以分为单位
	DefaultDeliveryFee         = 1500
	defaultProcessingTimeout   = 10 * time.Second
	defaultCompensationTimeout = 5 * time.Second
)

// OrderApplicationService 只关注业务流程编排。
type OrderApplicationService struct {
	repo      domain.OrderRepository
	inventory port.InventoryService
	catalog   port.CatalogService
	notifier  port.NotificationProducer

	tracer              trace.Tracer
	deliveryFee         int64
	processingTimeout   time.Duration
	compensationTimeout time.Duration
	now                 func() time.Time
}

type Option func(*OrderApplicationService)

func WithDeliveryFee(fee int64) Option {
	return func(s *OrderApplicationService) { s.deliveryFee = fee }
}

func WithProcessingTimeout(d time.Duration) Option {
	return func(s *OrderApplicationService) {
		if d > 0 {
			s.processingTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *OrderApplicationService) { s.now = now }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *OrderApplicationService) { s.tracer = t }
}

// NewOrderApplicationService notifier 可以为 nil。
func NewOrderApplicationService(repo domain.OrderRepository, inventory port.InventoryService, catalog port.CatalogService, notifier port.NotificationProducer, opts ...Option) *OrderApplicationService {
	s := &OrderApplicationService{
		repo:                repo,
		inventory:           inventory,
		catalog:             catalog,
		notifier:            notifier,
		tracer:              otel.Tracer("order-service"),
		deliveryFee:         DefaultDeliveryFee,
		processingTimeout:   defaultProcessingTimeout,
		compensationTimeout: defaultCompensationTimeout,
		now:                 time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrder 对同一幂等键只创建一次订单。created 为 false 表示返回的是已存在的订单。
func (s *OrderApplicationService) CreateOrder(ctx context.Context, req CreateOrderRequest) (order *domain.Order, created bool, err error) {
	ctx, span := s.tracer.Start(ctx, "app.CreateOrder", trace.WithAttributes(
		attribute.Int64("customer.id", req.CustomerID),
		attribute.Int64("store.id", req.StoreID),
		attribute.Bool("idempotent", req.IdempotencyKey != ""),
	))
	defer s.finish(span, "create", time.Now(), &err)

	if req.IdempotencyKey != "" {
		existing, err := s.repo.FindByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil {
			span.AddEvent("idempotent replay")
			return existing, false, nil
		}
		if !errors.Is(err, domain.ErrOrderNotFound) {
			return nil, false, errors.Wrap(err, "lookup idempotency key")
		}
	}

	order, err = domain.NewOrder(req.IdempotencyKey, req.CustomerID, req.StoreID, req.Items, s.now())
	if err != nil {
		return nil, false, err
	}
	span.SetAttributes(attribute.String("order.uuid", order.UUID))

	processingCtx, cancel := context.WithTimeout(ctx, s.processingTimeout)
	defer cancel()

	orderCtx := &saga.OrderContext{
		Ctx:         processingCtx,
		Order:       order,
		Tracer:      s.tracer,
		Catalog:     s.catalog,
		Inventory:   s.inventory,
		Notifier:    s.notifier,
		DeliveryFee: s.deliveryFee,
	}

	if err := s.buildChain().Handle(orderCtx); err != nil {
		s.compensate(ctx, orderCtx)
		if orderCtx.Existing != nil {
			logger.Ctx(ctx).Info().Str("key", req.IdempotencyKey).Str("order", orderCtx.Existing.UUID).
				Msg("concurrent create with same idempotency key, returning winner")
			return orderCtx.Existing, false, nil
		}
		logger.Ctx(ctx).Warn().Err(err).Str("order", order.UUID).Msg("order creation failed")
		return nil, false, err
	}

	logger.Ctx(ctx).Info().Str("order", order.UUID).Int64("total", order.TotalAmount).
		Msg("✅ order placed, waiting for payment")
	return order, true, nil
}

// compensate 在脱离请求超时的上下文中释放已做的预占。
func (s *OrderApplicationService) compensate(ctx context.Context, orderCtx *saga.OrderContext) {
	if orderCtx.Pending() == 0 {
		return
	}
	compCtx, cancel := context.WithTimeout(saga.Detach(ctx), s.compensationTimeout)
	defer cancel()
	sagaCompensations.Add(float64(orderCtx.TriggerCompensation(compCtx)))
}

func (s *OrderApplicationService) buildChain() saga.Handler {
	chain := new(saga.PricingHandler)
	chain.
		SetNext(new(saga.ReserveStockHandler)).
		SetNext(saga.NewPersistOrderHandler(s.repo)).
		SetNext(new(saga.NotificationHandler))
	return chain
}

// ConfirmPayment 逐行确认预占并持久化进度。
// 任一行被库存服务拒绝时取消订单并释放其余预占；库存服务暂时不可用时订单保持待支付，调用方可重试。
func (s *OrderApplicationService) ConfirmPayment(ctx context.Context, uuid string) (order *domain.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "app.ConfirmPayment", trace.WithAttributes(attribute.String("order.uuid", uuid)))
	defer s.finish(span, "confirm_payment", time.Now(), &err)

	order, err = s.repo.FindByUUID(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.StatusPendingPayment {
		return nil, errors.Wrapf(domain.ErrInvalidOrderState, "order %s is %s", uuid, order.Status)
	}

	for _, item := range order.UnconfirmedItems() {
		confirmErr := s.inventory.Confirm(ctx, item.ReservationID)
		if confirmErr == nil {
			if err := s.repo.MarkItemConfirmed(ctx, uuid, item.SKU, s.now()); err != nil {
				return nil, errors.Wrapf(err, "record confirmation of %s", item.SKU)
			}
			order.MarkItemConfirmed(item.SKU)
			continue
		}

		if domain.IsStockRejection(confirmErr) {
			reason := fmt.Sprintf("reservation for %s could not be confirmed: %v", item.SKU, confirmErr)
			if _, err := s.cancel(ctx, order, reason, true); err != nil {
				logger.Ctx(ctx).Error().Err(err).Str("order", uuid).Msg("cancel after failed confirmation")
			}
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidOrderState, &domain.StockRejectedError{SKU: item.SKU, Err: confirmErr})
		}

		logger.Ctx(ctx).Warn().Err(confirmErr).Str("order", uuid).Str("sku", item.SKU).
			Msg("inventory unavailable during payment confirmation, order stays pending")
		if errors.Is(confirmErr, domain.ErrInventoryUnavailable) {
			return nil, errors.Wrapf(confirmErr, "confirm %s", item.SKU)
		}
		return nil, errors.Wrapf(domain.ErrInventoryUnavailable, "confirm %s: %v", item.SKU, confirmErr)
	}

	if err := s.repo.UpdateStatus(ctx, uuid, domain.StatusPendingPayment, domain.StatusPaid, "", s.now()); err != nil {
		return nil, err
	}
	_ = order.Pay(s.now())
	s.notify(ctx, order, s.sendPaid)

	logger.Ctx(ctx).Info().Str("order", uuid).Msg("✅ order paid")
	return order, nil
}

// GetOrder 按 UUID 查询订单
func (s *OrderApplicationService) GetOrder(ctx context.Context, uuid string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.GetOrder", trace.WithAttributes(attribute.String("order.uuid", uuid)))
	defer span.End()
	return s.repo.FindByUUID(ctx, uuid)
}

// CancelOrder 是顾客主动取消，总是尝试主动释放预占。
func (s *OrderApplicationService) CancelOrder(ctx context.Context, uuid, reason string) (order *domain.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "app.CancelOrder", trace.WithAttributes(attribute.String("order.uuid", uuid)))
	defer s.finish(span, "cancel", time.Now(), &err)

	order, err = s.repo.FindByUUID(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "cancelled by customer"
	}
	return s.cancel(ctx, order, reason, true)
}

// cancel 条件地把订单从 PENDING_PAYMENT 置为 CANCELLED；release 为 true 时尽力释放库存。
func (s *OrderApplicationService) cancel(ctx context.Context, order *domain.Order, reason string, release bool) (*domain.Order, error) {
	if err := s.repo.UpdateStatus(ctx, order.UUID, domain.StatusPendingPayment, domain.StatusCancelled, reason, s.now()); err != nil {
		return nil, err
	}
	_ = order.Cancel(reason, s.now())

	if release {
		releaseCtx, cancel := context.WithTimeout(saga.Detach(ctx), s.compensationTimeout)
		n, err := s.inventory.ReleaseByOrder(releaseCtx, order.UUID)
		cancel()
		if err != nil {
			// 库存侧的过期清理会兜底
			logger.Ctx(ctx).Warn().Err(err).Str("order", order.UUID).Msg("release reservations of cancelled order failed")
		} else {
			logger.Ctx(ctx).Info().Str("order", order.UUID).Int("released", n).Msg("reservations released")
		}
	}

	s.notify(ctx, order, s.sendCancelled)
	return order, nil
}

func (s *OrderApplicationService) sendPaid(ctx context.Context, o *domain.Order) error {
	return s.notifier.SendOrderPaid(ctx, o)
}

func (s *OrderApplicationService) sendCancelled(ctx context.Context, o *domain.Order) error {
	return s.notifier.SendOrderCancelled(ctx, o)
}

func (s *OrderApplicationService) notify(ctx context.Context, o *domain.Order, send func(context.Context, *domain.Order) error) {
	if s.notifier == nil {
		return
	}
	if err := send(ctx, o); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("order", o.UUID).Str("status", string(o.Status)).Msg("failed to publish order notification")
	}
}

func (s *OrderApplicationService) finish(span trace.Span, op string, start time.Time, errp *error) {
	err := *errp
	orderOps.WithLabelValues(op, outcomeOf(err)).Inc()
	orderLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrorCode(err))
	}
	span.End()
}

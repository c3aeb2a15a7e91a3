package saga

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"quickstock/internal/pkg/logger"
	"quickstock/internal/service/order/domain"
	"quickstock/internal/service/order/port"
)

// OrderContext 在 Saga 流程中传递上下文数据。
type OrderContext struct {
	Ctx    context.Context
	Order  *domain.Order
	Tracer trace.Tracer

	// 依赖出站端口
	Catalog   port.CatalogService
	Inventory port.InventoryService
	Notifier  port.NotificationProducer

	DeliveryFee int64

	// Existing 在持久化时发现幂等键已被并发请求占用时，指向胜出的那个订单
	Existing *domain.Order

	compensations []func(ctx context.Context)
	compLock      sync.Mutex
}

// AddCompensation 注册补偿操作，后注册的先执行。
func (c *OrderContext) AddCompensation(comp func(ctx context.Context)) {
	c.compLock.Lock()
	defer c.compLock.Unlock()
	c.compensations = append([]func(context.Context){comp}, c.compensations...)
}

// TriggerCompensation 按 LIFO 顺序执行全部补偿，并清空补偿栈。
func (c *OrderContext) TriggerCompensation(ctx context.Context) int {
	c.compLock.Lock()
	comps := c.compensations
	c.compensations = nil
	c.compLock.Unlock()

	logger.Ctx(ctx).Info().Str("order", c.Order.UUID).Int("count", len(comps)).Msg("executing saga compensations")
	for _, comp := range comps {
		comp(ctx)
	}
	return len(comps)
}

// Pending 返回尚未执行的补偿数量。
func (c *OrderContext) Pending() int {
	c.compLock.Lock()
	defer c.compLock.Unlock()
	return len(c.compensations)
}

type Handler interface {
	SetNext(handler Handler) Handler
	Handle(orderCtx *OrderContext) error
}

type NextHandler struct {
	next Handler
}

func (h *NextHandler) SetNext(handler Handler) Handler {
	h.next = handler
	return handler
}

func (h *NextHandler) executeNext(orderCtx *OrderContext) error {
	if h.next != nil {
		return h.next.Handle(orderCtx)
	}
	return nil
}

// Detach 保留 ctx 中的 span 信息，但去掉其超时与取消，用于补偿这类必须跑完的操作。
func Detach(ctx context.Context) context.Context {
	return trace.ContextWithSpanContext(context.Background(), trace.SpanContextFromContext(ctx))
}

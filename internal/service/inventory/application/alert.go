// internal/service/inventory/application/alert.go
package application

import (
	"context"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/trace"

	"quickstock/internal/pkg/logger"
	"quickstock/internal/service/inventory/domain"
)

const DefaultAlertRule = "available < safety_stock"

// AlertRule 是用 CEL 表达的低库存判定条件。
// 可用变量：available, current_stock, reserved_stock, safety_stock, max_stock（均为 int）。
type AlertRule struct {
	expr    string
	program cel.Program
}

func NewAlertRule(expr string) (*AlertRule, error) {
	if expr == "" {
		expr = DefaultAlertRule
	}
	env, err := cel.NewEnv(
		cel.Variable("available", cel.IntType),
		cel.Variable("current_stock", cel.IntType),
		cel.Variable("reserved_stock", cel.IntType),
		cel.Variable("safety_stock", cel.IntType),
		cel.Variable("max_stock", cel.IntType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cel env")
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, errors.Wrapf(iss.Err(), "compile alert rule %q", expr)
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, errors.Errorf("alert rule %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrapf(err, "build alert rule %q", expr)
	}
	return &AlertRule{expr: expr, program: prg}, nil
}

func (r *AlertRule) String() string { return r.expr }

// Matches 对某个库存快照求值。
func (r *AlertRule) Matches(item domain.InventoryItem) (bool, error) {
	out, _, err := r.program.Eval(map[string]any{
		"available":      int64(item.Available()),
		"current_stock":  int64(item.CurrentStock),
		"reserved_stock": int64(item.ReservedStock),
		"safety_stock":   int64(item.SafetyStock),
		"max_stock":      int64(item.MaxStock),
	})
	if err != nil {
		return false, errors.Wrapf(err, "evaluate alert rule %q", r.expr)
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, errors.Errorf("alert rule %q returned %T", r.expr, out.Value())
	}
	return matched, nil
}

// LowStockAlertPublisher 在库存 "刚刚" 跌破阈值时发出通知。
// 投递是异步的，失败只记录日志，永远不会阻塞或影响触发它的库存操作。
type LowStockAlertPublisher struct {
	rule    *AlertRule
	sinks   []AlertSink
	timeout time.Duration
	now     func() time.Time
	wg      sync.WaitGroup
}

func NewLowStockAlertPublisher(rule *AlertRule, timeout time.Duration, sinks ...AlertSink) *LowStockAlertPublisher {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &LowStockAlertPublisher{rule: rule, sinks: sinks, timeout: timeout, now: time.Now}
}

// Observe 比较变更前后的快照；仅当规则从不满足变为满足时派发通知，返回是否派发。
func (p *LowStockAlertPublisher) Observe(ctx context.Context, before, after domain.InventoryItem) bool {
	if p == nil || len(p.sinks) == 0 {
		return false
	}
	if after.Available() >= before.Available() {
		return false
	}
	wasLow, err := p.rule.Matches(before)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("low stock rule evaluation failed")
		return false
	}
	isLow, err := p.rule.Matches(after)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("low stock rule evaluation failed")
		return false
	}
	if wasLow || !isLow {
		return false
	}

	alert := LowStockAlert{
		ItemID:        after.ID,
		SKU:           after.SKU,
		StoreID:       after.StoreID,
		CurrentStock:  after.CurrentStock,
		ReservedStock: after.ReservedStock,
		Available:     after.Available(),
		SafetyStock:   after.SafetyStock,
		OccurredAt:    p.now(),
	}
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent("low stock threshold crossed")
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		pubCtx, cancel := context.WithTimeout(detach(ctx), p.timeout)
		defer cancel()
		for _, sink := range p.sinks {
			if err := sink.PublishLowStock(pubCtx, alert); err != nil {
				lowStockAlerts.WithLabelValues("failed").Inc()
				logger.Ctx(pubCtx).Warn().Err(err).Str("sku", alert.SKU).Int64("storeId", alert.StoreID).
					Msg("low stock alert delivery failed")
				continue
			}
			lowStockAlerts.WithLabelValues("delivered").Inc()
		}
	}()
	return true
}

// Wait 等待所有在途通知完成，用于优雅关停和测试。
func (p *LowStockAlertPublisher) Wait() {
	if p != nil {
		p.wg.Wait()
	}
}

// detach 去掉 ctx 的取消与超时，只保留链路上下文，用于请求返回后仍需执行的后台任务。
func detach(ctx context.Context) context.Context {
	return trace.ContextWithSpanContext(context.Background(), trace.SpanContextFromContext(ctx))
}

// internal/service/inventory/application/ledger.go
package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"quickstock/internal/pkg/logger"
	"quickstock/internal/service/inventory/domain"
)

// LedgerSummary 是某个库存项所有流水按类型的合计。
type LedgerSummary struct {
	Inbound    int
	Outbound   int
	Reserve    int
	Unreserve  int
	Adjustment int
	// SaleFromReservation 是由确认预占产生的 OUTBOUND/SALE 数量
	SaleFromReservation int
	Count               int
}

// CurrentDelta 返回流水对实物库存的净影响。
func (s LedgerSummary) CurrentDelta() int {
	return s.Inbound - s.Outbound + s.Adjustment
}

// Reserved 返回仅由流水推导出的占用库存。
func (s LedgerSummary) Reserved() int {
	return s.Reserve - s.Unreserve - s.SaleFromReservation
}

// StockMovementLedger 负责追加库存流水，并在提交后对外广播。
type StockMovementLedger struct {
	store     domain.Store
	publisher MovementPublisher
	timeout   time.Duration
	now       func() time.Time
}

func NewStockMovementLedger(store domain.Store, publisher MovementPublisher) *StockMovementLedger {
	return &StockMovementLedger{store: store, publisher: publisher, timeout: 2 * time.Second, now: time.Now}
}

// Record 在调用方的工作单元内追加一条流水。
func (l *StockMovementLedger) Record(ctx context.Context, tx domain.Tx, m *domain.StockMovement) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = l.now()
	}
	if m.MovementType != domain.MovementAdjustment && m.Quantity < 0 {
		return errors.Errorf("movement %s quantity must be a magnitude, got %d", m.MovementType, m.Quantity)
	}
	return errors.Wrap(tx.Movements().Append(ctx, m), "append stock movement")
}

// Announce 在事务提交后异步发布流水事件，失败只记录日志。
func (l *StockMovementLedger) Announce(ctx context.Context, movements ...domain.StockMovement) {
	if l.publisher == nil || len(movements) == 0 {
		return
	}
	go func() {
		pubCtx, cancel := context.WithTimeout(detach(ctx), l.timeout)
		defer cancel()
		if err := l.publisher.PublishMovements(pubCtx, movements); err != nil {
			logger.Ctx(pubCtx).Warn().Err(err).Int("count", len(movements)).Msg("failed to publish stock movements")
		}
	}()
}

// SumByItem 汇总某个库存项的全部流水。
func (l *StockMovementLedger) SumByItem(ctx context.Context, itemID int64) (LedgerSummary, error) {
	movements, err := l.store.Movements().ListByItem(ctx, itemID)
	if err != nil {
		return LedgerSummary{}, errors.Wrapf(err, "list movements of item %d", itemID)
	}
	var s LedgerSummary
	for _, m := range movements {
		s.Count++
		switch m.MovementType {
		case domain.MovementInbound:
			s.Inbound += m.Quantity
		case domain.MovementOutbound:
			s.Outbound += m.Quantity
			if m.ReferenceType == domain.ReferenceSale {
				s.SaleFromReservation += m.Quantity
			}
		case domain.MovementReserve:
			s.Reserve += m.Quantity
		case domain.MovementUnreserve:
			s.Unreserve += m.Quantity
		case domain.MovementAdjustment:
			s.Adjustment += m.Quantity
		}
	}
	return s, nil
}

// Reconcile 校验 current = initial + Δ(流水) 且 reserved = 流水推导值。
func (l *StockMovementLedger) Reconcile(ctx context.Context, item domain.InventoryItem, initialStock int) error {
	s, err := l.SumByItem(ctx, item.ID)
	if err != nil {
		return err
	}
	if got := initialStock + s.CurrentDelta(); got != item.CurrentStock {
		return errors.Wrapf(domain.ErrLedgerMismatch, "item %d: ledger current %d, stored %d", item.ID, got, item.CurrentStock)
	}
	if got := s.Reserved(); got != item.ReservedStock {
		return errors.Wrapf(domain.ErrLedgerMismatch, "item %d: ledger reserved %d, stored %d", item.ID, got, item.ReservedStock)
	}
	return nil
}

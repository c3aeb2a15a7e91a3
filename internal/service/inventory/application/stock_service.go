// internal/service/inventory/application/stock_service.go
package application

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"quickstock/internal/pkg/logger"
	"quickstock/internal/pkg/occ"
	"quickstock/internal/service/inventory/domain"
)

// StockDefaults 是新建库存项时使用的默认阈值。
type StockDefaults struct {
	SafetyStock int
	MaxStock    int
}

type StockChange struct {
	SKU         string `json:"sku"`
	StoreID     int64  `json:"storeId"`
	Quantity    int    `json:"quantity"`
	ReferenceID string `json:"referenceId"`
	Reason      string `json:"reason"`
}

// StockManager 负责入库、盘点调整、退货以及库存查询。
// 与 ReservationManager 共享存储、流水、乐观锁控制器、缓存和低库存通知。
type StockManager struct {
	rm       *ReservationManager
	defaults StockDefaults
}

func NewStockManager(rm *ReservationManager, defaults StockDefaults) *StockManager {
	return &StockManager{rm: rm, defaults: defaults}
}

// AddStock 入库；库存项不存在时按默认阈值创建。
func (s *StockManager) AddStock(ctx context.Context, c StockChange) (*domain.InventoryItem, error) {
	if c.Quantity <= 0 {
		return nil, errors.Wrapf(domain.ErrInvalidQuantity, "got %d", c.Quantity)
	}
	if c.Reason == "" {
		c.Reason = "Stock received"
	}
	return s.changeCurrent(ctx, "add_stock", c, c.Quantity, domain.MovementInbound, domain.ReferencePurchase, true)
}

// ReturnStock 退货入库，只作用于已存在的库存项。
func (s *StockManager) ReturnStock(ctx context.Context, c StockChange) (*domain.InventoryItem, error) {
	if c.Quantity <= 0 {
		return nil, errors.Wrapf(domain.ErrInvalidQuantity, "got %d", c.Quantity)
	}
	if c.Reason == "" {
		c.Reason = "Customer return"
	}
	return s.changeCurrent(ctx, "return_stock", c, c.Quantity, domain.MovementInbound, domain.ReferenceReturn, false)
}

// AdjustStock 按带符号的数量做盘点调整。
func (s *StockManager) AdjustStock(ctx context.Context, c StockChange) (*domain.InventoryItem, error) {
	if c.Quantity == 0 {
		return nil, errors.Wrap(domain.ErrInvalidQuantity, "adjustment must be non-zero")
	}
	if c.Reason == "" {
		c.Reason = "Manual adjustment"
	}
	return s.changeCurrent(ctx, "adjust_stock", c, c.Quantity, domain.MovementAdjustment, domain.ReferenceAdjustment, false)
}

func (s *StockManager) changeCurrent(ctx context.Context, op string, c StockChange, delta int, mt domain.MovementType, rt domain.ReferenceType, createIfMissing bool) (item *domain.InventoryItem, err error) {
	rm := s.rm
	ctx, span := rm.tracer.Start(ctx, "inventory."+op, trace.WithAttributes(
		attribute.String("sku", c.SKU),
		attribute.Int64("store.id", c.StoreID),
		attribute.Int("delta", delta),
	))
	defer rm.finish(span, op, time.Now(), &err)

	magnitude := delta
	if mt != domain.MovementAdjustment && magnitude < 0 {
		magnitude = -magnitude
	}

	var (
		before   domain.InventoryItem
		movement domain.StockMovement
	)
	after, err := run(ctx, rm.occ, op,
		func(ctx context.Context) (*domain.InventoryItem, error) {
			it, err := rm.store.Items().FindBySKUAndStore(ctx, c.SKU, c.StoreID)
			if errors.Is(err, domain.ErrInventoryNotFound) && createIfMissing {
				return nil, nil
			}
			return it, err
		},
		func(ctx context.Context, cur *domain.InventoryItem) (*domain.InventoryItem, error) {
			now := rm.now()
			mv := domain.StockMovement{
				MovementType:  mt,
				Quantity:      magnitude,
				ReferenceType: rt,
				ReferenceID:   c.ReferenceID,
				Reason:        c.Reason,
				CreatedBy:     actorInventory,
				CreatedAt:     now,
			}

			if cur == nil {
				fresh := domain.InventoryItem{
					SKU:          c.SKU,
					StoreID:      c.StoreID,
					SafetyStock:  s.defaults.SafetyStock,
					MaxStock:     s.defaults.MaxStock,
					LastUpdated:  now,
					CurrentStock: delta,
				}
				if err := fresh.Validate(); err != nil {
					return nil, err
				}
				err := rm.store.Atomic(ctx, func(tx domain.Tx) error {
					if err := tx.Items().Create(ctx, &fresh); err != nil {
						if errors.Is(err, domain.ErrDuplicateItem) {
							return errors.Wrap(occ.ErrConflict, err.Error())
						}
						return err
					}
					mv.InventoryItemID = fresh.ID
					return rm.ledger.Record(ctx, tx, &mv)
				})
				if err != nil {
					return nil, err
				}
				before, movement = domain.InventoryItem{SKU: fresh.SKU, StoreID: fresh.StoreID}, mv
				return &fresh, nil
			}

			next, err := cur.AdjustCurrent(delta, now)
			if err != nil {
				return nil, err
			}
			mv.InventoryItemID = cur.ID
			err = rm.store.Atomic(ctx, func(tx domain.Tx) error {
				if err := tx.Items().UpdateIfVersion(ctx, &next, cur.Version); err != nil {
					return err
				}
				return rm.ledger.Record(ctx, tx, &mv)
			})
			if err != nil {
				return nil, err
			}
			before, movement = *cur, mv
			return &next, nil
		})
	if err != nil {
		return nil, err
	}

	rm.afterCommit(ctx, before, *after, movement)
	logger.Ctx(ctx).Info().Str("op", op).Str("sku", c.SKU).Int64("storeId", c.StoreID).Int("delta", delta).
		Int("currentStock", after.CurrentStock).Msg("stock changed")
	return after, nil
}

// GetItem 读取库存项，优先走缓存。
func (s *StockManager) GetItem(ctx context.Context, sku string, storeID int64) (*domain.InventoryItem, error) {
	key := domain.ItemKey{SKU: sku, StoreID: storeID}
	if s.rm.cache != nil {
		cached, err := s.rm.cache.Get(ctx, key)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("item", key.String()).Msg("cache read failed")
		} else if cached != nil {
			return cached, nil
		}
	}

	item, err := s.rm.store.Items().FindBySKUAndStore(ctx, sku, storeID)
	if err != nil {
		return nil, err
	}
	if s.rm.cache != nil {
		if err := s.rm.cache.Set(ctx, *item); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("item", key.String()).Msg("cache write failed")
		}
	}
	return item, nil
}

// CheckAvailability 返回门店内各 SKU 的可用库存，未知 SKU 记为 0。
func (s *StockManager) CheckAvailability(ctx context.Context, storeID int64, skus []string) (map[string]int, error) {
	items, err := s.rm.store.Items().ListByStore(ctx, storeID, skus)
	if err != nil {
		return nil, errors.Wrapf(err, "list items of store %d", storeID)
	}
	out := make(map[string]int, len(skus))
	for _, sku := range skus {
		out[sku] = 0
	}
	for _, it := range items {
		out[it.SKU] = it.Available()
	}
	return out, nil
}

// LowStockItems 返回门店内可用库存低于安全库存的库存项。
func (s *StockManager) LowStockItems(ctx context.Context, storeID int64) ([]domain.InventoryItem, error) {
	items, err := s.rm.store.Items().ListLowStock(ctx, storeID)
	if err != nil {
		return nil, errors.Wrapf(err, "list low stock items of store %d", storeID)
	}
	return items, nil
}

// ItemsNeedingReplenishment 返回门店内需要补货的库存项。
func (s *StockManager) ItemsNeedingReplenishment(ctx context.Context, storeID int64) ([]domain.InventoryItem, error) {
	items, err := s.rm.store.Items().ListNeedingReplenishment(ctx, storeID)
	if err != nil {
		return nil, errors.Wrapf(err, "list items needing replenishment of store %d", storeID)
	}
	return items, nil
}

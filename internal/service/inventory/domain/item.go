// internal/service/inventory/domain/item.go
package domain

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// InventoryItem 是某个门店中某个 SKU 的库存聚合，使用 Version 做乐观锁。
type InventoryItem struct {
	ID            int64
	SKU           string
	StoreID       int64
	CurrentStock  int
	ReservedStock int
	SafetyStock   int
	MaxStock      int
	Version       int64
	LastUpdated   time.Time
}

// ItemKey 是库存项的业务主键 (SKU, storeId)。
type ItemKey struct {
	SKU     string
	StoreID int64
}

func (k ItemKey) String() string { return fmt.Sprintf("%d/%s", k.StoreID, k.SKU) }

func (i InventoryItem) Key() ItemKey { return ItemKey{SKU: i.SKU, StoreID: i.StoreID} }

// Available 返回可用于新预占的库存数量。
func (i InventoryItem) Available() int { return i.CurrentStock - i.ReservedStock }

func (i InventoryItem) IsLowStock() bool { return i.Available() < i.SafetyStock }

// NeedsReplenishment 现有库存不超过安全库存的 1.5 倍时需要补货。
// 与 IsLowStock 不同，这里看的是 current 而不是 available。
func (i InventoryItem) NeedsReplenishment() bool { return 2*i.CurrentStock <= 3*i.SafetyStock }

// ReplenishmentQuantity 返回补满到 MaxStock 需要入库的数量。
func (i InventoryItem) ReplenishmentQuantity() int { return max(i.MaxStock-i.CurrentStock, 0) }

// Validate 检查 0 <= reserved <= current <= max。
func (i InventoryItem) Validate() error {
	switch {
	case i.ReservedStock < 0:
		return errors.Wrapf(ErrInvariantViolation, "%s: reserved %d < 0", i.Key(), i.ReservedStock)
	case i.ReservedStock > i.CurrentStock:
		return errors.Wrapf(ErrInvariantViolation, "%s: reserved %d > current %d", i.Key(), i.ReservedStock, i.CurrentStock)
	case i.CurrentStock > i.MaxStock:
		return errors.Wrapf(ErrInvariantViolation, "%s: current %d > max %d", i.Key(), i.CurrentStock, i.MaxStock)
	}
	return nil
}

// Reserve 返回预占 qty 之后的新状态，不修改接收者。
func (i InventoryItem) Reserve(qty int, now time.Time) (InventoryItem, error) {
	if qty <= 0 {
		return i, ErrInvalidQuantity
	}
	if i.Available() < qty {
		return i, errors.Wrapf(ErrInsufficientStock, "sku %s: requested %d, available %d", i.SKU, qty, i.Available())
	}
	next := i
	next.ReservedStock += qty
	next.LastUpdated = now
	return next, next.Validate()
}

// Unreserve 把 qty 归还到可用库存（释放或过期）。
func (i InventoryItem) Unreserve(qty int, now time.Time) (InventoryItem, error) {
	next := i
	next.ReservedStock -= qty
	next.LastUpdated = now
	return next, next.Validate()
}

// ConsumeReserved 在确认销售时同时扣减 reserved 与 current。
func (i InventoryItem) ConsumeReserved(qty int, now time.Time) (InventoryItem, error) {
	next := i
	next.ReservedStock -= qty
	next.CurrentStock -= qty
	next.LastUpdated = now
	return next, next.Validate()
}

// AdjustCurrent 按带符号的 delta 修改实物库存（入库、退货、盘点调整）。
func (i InventoryItem) AdjustCurrent(delta int, now time.Time) (InventoryItem, error) {
	next := i
	next.CurrentStock += delta
	next.LastUpdated = now
	if next.CurrentStock < 0 {
		return i, errors.Wrapf(ErrInvariantViolation, "%s: current would become %d", i.Key(), next.CurrentStock)
	}
	return next, next.Validate()
}

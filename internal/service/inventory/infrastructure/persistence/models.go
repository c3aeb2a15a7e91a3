package persistence

import (
	"time"

	"quickstock/internal/service/inventory/domain"
)

// InventoryItemModel 对应 inventory_items 表，(sku, store_id) 唯一。
type InventoryItemModel struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	SKU           string    `gorm:"column:sku;size:64;not null;uniqueIndex:uk_sku_store"`
	StoreID       int64     `gorm:"not null;uniqueIndex:uk_sku_store;index"`
	CurrentStock  int       `gorm:"not null;default:0"`
	ReservedStock int       `gorm:"not null;default:0"`
	SafetyStock   int       `gorm:"not null;default:0"`
	MaxStock      int       `gorm:"not null"`
	Version       int64     `gorm:"not null;default:0"`
	LastUpdated   time.Time `gorm:"not null"`
}

func (InventoryItemModel) TableName() string { return "inventory_items" }

// ReservationModel 对应 reservations 表。
type ReservationModel struct {
	ID              string                   `gorm:"primaryKey;size:64"`
	InventoryItemID int64                    `gorm:"not null;index"`
	SKU             string                   `gorm:"column:sku;size:64;not null"`
	StoreID         int64                    `gorm:"not null"`
	OrderReference  string                   `gorm:"size:64;index"`
	Quantity        int                      `gorm:"not null"`
	Status          domain.ReservationStatus `gorm:"size:16;not null;index:idx_status_expires,priority:1"`
	ExpiresAt       time.Time                `gorm:"not null;index:idx_status_expires,priority:2"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (ReservationModel) TableName() string { return "reservations" }

// StockMovementModel 对应 stock_movements 表，只追加。
type StockMovementModel struct {
	ID              string               `gorm:"primaryKey;size:36"`
	InventoryItemID int64                `gorm:"not null;index"`
	MovementType    domain.MovementType  `gorm:"size:16;not null"`
	Quantity        int                  `gorm:"not null"`
	ReferenceType   domain.ReferenceType `gorm:"size:16"`
	ReferenceID     string               `gorm:"size:64"`
	Reason          string               `gorm:"size:255"`
	CreatedBy       string               `gorm:"size:64"`
	CreatedAt       time.Time
}

func (StockMovementModel) TableName() string { return "stock_movements" }

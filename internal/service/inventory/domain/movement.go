package domain

import "time"

type MovementType string

const (
	MovementInbound    MovementType = "INBOUND"
	MovementOutbound   MovementType = "OUTBOUND"
	MovementReserve    MovementType = "RESERVE"
	MovementUnreserve  MovementType = "UNRESERVE"
	MovementAdjustment MovementType = "ADJUSTMENT"
)

type ReferenceType string

const (
	ReferencePurchase    ReferenceType = "PURCHASE"
	ReferenceSale        ReferenceType = "SALE"
	ReferenceReturn      ReferenceType = "RETURN"
	ReferenceAdjustment  ReferenceType = "ADJUSTMENT"
	ReferenceReservation ReferenceType = "RESERVATION"
)

// StockMovement 是库存流水，只追加，从不修改或删除。
// Quantity 存储数量的绝对值，方向由 MovementType 决定；ADJUSTMENT 例外，保留符号。
type StockMovement struct {
	ID              string
	InventoryItemID int64
	MovementType    MovementType
	Quantity        int
	ReferenceType   ReferenceType
	ReferenceID     string
	Reason          string
	CreatedBy       string
	CreatedAt       time.Time
}

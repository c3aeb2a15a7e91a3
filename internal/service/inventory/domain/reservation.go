// internal/service/inventory/domain/reservation.go
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationReleased  ReservationStatus = "RELEASED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

// IsTerminal 终态不允许任何后续流转。
func (s ReservationStatus) IsTerminal() bool {
	return s == ReservationConfirmed || s == ReservationReleased || s == ReservationExpired
}

// Reservation 是对某个库存项在有限时间内的占用。
type Reservation struct {
	ID              string
	InventoryItemID int64
	SKU             string
	StoreID         int64
	OrderReference  string
	Quantity        int
	Status          ReservationStatus
	CreatedAt       time.Time
	ExpiresAt       time.Time
	UpdatedAt       time.Time
}

// NewReservationID 生成形如 RES_<毫秒时间戳>_<8位uuid> 的预占 ID。
func NewReservationID(now time.Time) string {
	return fmt.Sprintf("RES_%d_%s", now.UnixMilli(), uuid.NewString()[:8])
}

func NewReservation(item InventoryItem, qty int, orderRef string, now time.Time, ttl time.Duration) *Reservation {
	return &Reservation{
		ID:              NewReservationID(now),
		InventoryItemID: item.ID,
		SKU:             item.SKU,
		StoreID:         item.StoreID,
		OrderReference:  orderRef,
		Quantity:        qty,
		Status:          ReservationPending,
		CreatedAt:       now,
		ExpiresAt:       now.Add(ttl),
		UpdatedAt:       now,
	}
}

func (r *Reservation) IsExpiredAt(now time.Time) bool { return now.After(r.ExpiresAt) }

// CanConfirm 只有未过期的 PENDING 预占可以确认。
func (r *Reservation) CanConfirm(now time.Time) error {
	if r.Status != ReservationPending {
		return errors.Wrapf(ErrReservationTerminal, "reservation %s is %s", r.ID, r.Status)
	}
	if r.IsExpiredAt(now) {
		return errors.Wrapf(ErrReservationExpired, "reservation %s expired at %s", r.ID, r.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

func (r *Reservation) CanRelease() error {
	if r.Status != ReservationPending {
		return errors.Wrapf(ErrReservationTerminal, "reservation %s is %s", r.ID, r.Status)
	}
	return nil
}

// CanExpire 只有已过期且仍为 PENDING 的预占可以被清理任务置为 EXPIRED。
func (r *Reservation) CanExpire(now time.Time) error {
	if r.Status != ReservationPending {
		return errors.Wrapf(ErrReservationTerminal, "reservation %s is %s", r.ID, r.Status)
	}
	if !r.IsExpiredAt(now) {
		return errors.Wrapf(ErrReservationNotExpired, "reservation %s expires at %s", r.ID, r.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

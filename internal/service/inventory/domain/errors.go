package domain

import "github.com/pkg/errors"

var (
	ErrInventoryNotFound   = errors.New("inventory item not found")
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrInvalidReservation 是所有 "当前状态不允许该操作" 错误的根。
	ErrInvalidReservation = errors.New("invalid reservation")

	ErrInsufficientStock     = wrapInvalid("insufficient stock")
	ErrInvalidQuantity       = wrapInvalid("quantity must be positive")
	ErrReservationTerminal   = wrapInvalid("reservation is not pending")
	ErrReservationExpired    = wrapInvalid("reservation has expired")
	ErrReservationNotExpired = wrapInvalid("reservation has not expired yet")

	ErrInvariantViolation = errors.New("stock invariant violated")
	ErrDuplicateItem      = errors.New("inventory item already exists")
	ErrLedgerMismatch     = errors.New("ledger does not reconcile with item")
)

type invalidReservation struct{ msg string }

func (e *invalidReservation) Error() string { return e.msg }
func (e *invalidReservation) Unwrap() error { return ErrInvalidReservation }

func wrapInvalid(msg string) error { return &invalidReservation{msg: msg} }

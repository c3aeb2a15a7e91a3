package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrOrderNotFound           = errors.New("order not found")
	ErrInvalidOrderState       = errors.New("invalid order state")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrInvalidOrder            = errors.New("invalid order")

	// 以下错误由库存端口返回，属于业务拒绝，不应重试
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInventoryNotFound   = errors.New("inventory item not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrReservationInvalid  = errors.New("reservation is no longer valid")

	// 下游暂时不可用：超时、熔断打开或重试耗尽
	ErrInventoryUnavailable = errors.New("inventory service unavailable")
	ErrCatalogUnavailable   = errors.New("catalog service unavailable")
)

// StockRejectedError 指出下单时是哪个 SKU 被库存服务拒绝。
type StockRejectedError struct {
	SKU string
	Err error
}

func (e *StockRejectedError) Error() string {
	return fmt.Sprintf("sku %s rejected by inventory: %v", e.SKU, e.Err)
}

func (e *StockRejectedError) Unwrap() error { return e.Err }

// IsStockRejection 报告 err 是否为库存服务的业务拒绝（而非暂时性故障）。
func IsStockRejection(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInventoryNotFound) ||
		errors.Is(err, ErrReservationNotFound) ||
		errors.Is(err, ErrReservationInvalid)
}

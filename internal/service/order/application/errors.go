package application

import (
	"github.com/pkg/errors"

	"quickstock/internal/service/order/domain"
)

const (
	CodeNotFound          = "NOT_FOUND"
	CodeInsufficientStock = "INSUFFICIENT_STOCK"
	CodeInvalidState      = "INVALID_STATE"
	CodeUnavailable       = "UNAVAILABLE"
	CodeBadRequest        = "BAD_REQUEST"
	CodeInternal          = "INTERNAL"
	CodeRateLimited       = "RATE_LIMITED"
)

// ErrorCode 把领域错误映射到错误分类，接口层据此选择 HTTP 状态码。
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidOrderState):
		return CodeInvalidState
	case errors.Is(err, domain.ErrInsufficientStock):
		return CodeInsufficientStock
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrInventoryNotFound):
		return CodeNotFound
	case errors.Is(err, domain.ErrReservationInvalid), errors.Is(err, domain.ErrReservationNotFound):
		return CodeInvalidState
	case errors.Is(err, domain.ErrInvalidOrder):
		return CodeBadRequest
	case errors.Is(err, domain.ErrInventoryUnavailable), errors.Is(err, domain.ErrCatalogUnavailable):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}

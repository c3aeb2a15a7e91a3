package application

import (
	"github.com/pkg/errors"

	"quickstock/internal/pkg/occ"
	"quickstock/internal/service/inventory/domain"
)

// 对外暴露的错误码，接口层和指标共用。
const (
	CodeNotFound             = "NOT_FOUND"
	CodeInsufficientStock    = "INSUFFICIENT_STOCK"
	CodeInvalidState         = "INVALID_STATE"
	CodeConcurrencyExhausted = "CONCURRENCY_EXHAUSTED"
	CodeBadRequest           = "BAD_REQUEST"
	CodeInternal             = "INTERNAL"
)

// ErrorCode 把领域错误映射到错误分类。
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrInventoryNotFound), errors.Is(err, domain.ErrReservationNotFound):
		return CodeNotFound
	case errors.Is(err, domain.ErrInsufficientStock):
		return CodeInsufficientStock
	case errors.Is(err, domain.ErrInvalidQuantity), errors.Is(err, domain.ErrInvariantViolation):
		return CodeBadRequest
	case errors.Is(err, domain.ErrInvalidReservation):
		return CodeInvalidState
	case errors.Is(err, occ.ErrExhausted):
		return CodeConcurrencyExhausted
	default:
		return CodeInternal
	}
}

// internal/service/order/domain/state.go
package domain

import (
	"strings"

	"github.com/pkg/errors"
)

// Status 定义了订单的生命周期状态
type Status string

const (
	StatusPendingPayment Status = "PENDING_PAYMENT" // 库存已预占，等待支付
	StatusPaid           Status = "PAID"            // 已支付，预占已全部确认
	StatusCancelled      Status = "CANCELLED"       // 已取消 (用户主动、确认失败或超时)
)

// IsFinal 报告状态是否不再允许任何流转。
func (s Status) IsFinal() bool {
	return s == StatusPaid || s == StatusCancelled
}

// ParseStatus 不区分大小写地解析状态名。
func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToUpper(strings.TrimSpace(raw))); s {
	case StatusPendingPayment, StatusPaid, StatusCancelled:
		return s, nil
	default:
		return "", errors.Wrapf(ErrInvalidOrder, "unknown order status %q", raw)
	}
}

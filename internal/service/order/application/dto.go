// internal/service/order/application/dto.go
package application

import "quickstock/internal/service/order/domain"

// CreateOrderRequest 是创建订单用例的输入数据。IdempotencyKey 为空时不做幂等。
type CreateOrderRequest struct {
	IdempotencyKey string        `json:"idempotencyKey,omitempty"`
	CustomerID     int64         `json:"customerId"`
	StoreID        int64         `json:"storeId"`
	Items          []domain.Line `json:"items"`
}

// PreviewRequest 是订单预览的输入，不产生任何预占。
type PreviewRequest struct {
	CustomerID int64         `json:"customerId"`
	StoreID    int64         `json:"storeId"`
	Items      []domain.Line `json:"items"`
}

type PreviewLine struct {
	SKU       string `json:"sku"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
	LineTotal int64  `json:"lineTotal"`
	Available int    `json:"available"`
	InStock   bool   `json:"inStock"`
}

// PreviewResult 是订单预览的输出。StockVerified 为 false 时表示库存服务不可用，只返回了价格。
type PreviewResult struct {
	StoreID       int64         `json:"storeId"`
	Items         []PreviewLine `json:"items"`
	Subtotal      int64         `json:"subtotal"`
	DeliveryFee   int64         `json:"deliveryFee"`
	TotalAmount   int64         `json:"totalAmount"`
	StockVerified bool          `json:"stockVerified"`
	Warnings      []string      `json:"warnings"`
}

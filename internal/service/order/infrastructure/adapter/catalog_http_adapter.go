package adapter

import (
	"context"
	"math"
	"net/http"

	"github.com/pkg/errors"

	"quickstock/internal/pkg/httpclient"
	"quickstock/internal/service/order/domain"
)

// CatalogHTTPAdapter 实现了 port.CatalogService 接口。
type CatalogHTTPAdapter struct {
	client *httpclient.Client
}

func NewCatalogHTTPAdapter(client *httpclient.Client) *CatalogHTTPAdapter {
	return &CatalogHTTPAdapter{client: client}
}

// ProductPrice 是目录服务批量查询接口返回的一项，价格以元为单位。
type ProductPrice struct {
	SKU       string  `json:"sku"`
	Name      string  `json:"name,omitempty"`
	BasePrice float64 `json:"basePrice"`
	IsActive  *bool   `json:"isActive,omitempty"`
}

// Prices 调用 POST /api/v1/catalog/products/skus，下架商品视为不存在。
func (a *CatalogHTTPAdapter) Prices(ctx context.Context, skus []string) (map[string]int64, error) {
	var products []ProductPrice
	if err := a.client.DoJSON(ctx, http.MethodPost, "/api/v1/catalog/products/skus", skus, &products); err != nil {
		if httpclient.IsTransient(err) {
			return nil, errors.Wrap(domain.ErrCatalogUnavailable, err.Error())
		}
		return nil, errors.Wrap(err, "catalog lookup")
	}

	prices := make(map[string]int64, len(products))
	for _, p := range products {
		if p.IsActive != nil && !*p.IsActive {
			continue
		}
		prices[p.SKU] = ToMinorUnits(p.BasePrice)
	}
	return prices, nil
}

// ToMinorUnits 把以元表示的金额四舍五入为分。
func ToMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

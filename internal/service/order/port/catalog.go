package port

import "context"

// CatalogService 是商品目录的出站端口，只关心价格。
type CatalogService interface {
	// Prices 返回各 SKU 的单价（分）。目录中不存在的 SKU 不会出现在结果中。
	Prices(ctx context.Context, skus []string) (map[string]int64, error)
}

// Package catalog 提供按 SKU 批量查询商品价格的最小目录服务，用于本地联调订单服务。
package catalog

import (
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Product 价格以元为单位，与下游目录服务的返回格式一致。
type Product struct {
	SKU       string  `yaml:"sku" json:"sku"`
	Name      string  `yaml:"name" json:"name,omitempty"`
	BasePrice float64 `yaml:"basePrice" json:"basePrice"`
	IsActive  bool    `yaml:"isActive" json:"isActive"`
}

// Book 是并发安全的商品表。
type Book struct {
	mu       sync.RWMutex
	products map[string]Product
}

func NewBook(products ...Product) *Book {
	b := &Book{products: make(map[string]Product, len(products))}
	for _, p := range products {
		b.Put(p)
	}
	return b
}

// LoadBook 从 YAML 文件读取商品列表，文件格式为 products: [{sku, name, basePrice, isActive}]。
func LoadBook(path string) (*Book, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read catalog file %s", path)
	}
	var doc struct {
		Products []Product `yaml:"products"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrapf(err, "parse catalog file %s", path)
	}
	for i, p := range doc.Products {
		if strings.TrimSpace(p.SKU) == "" || p.BasePrice < 0 {
			return nil, errors.Errorf("invalid product at index %d", i)
		}
	}
	return NewBook(doc.Products...), nil
}

func (b *Book) Put(p Product) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.products[strings.TrimSpace(p.SKU)] = p
}

// Lookup 按请求顺序返回已知商品，未知 SKU 被忽略。
func (b *Book) Lookup(skus []string) []Product {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Product, 0, len(skus))
	seen := make(map[string]bool, len(skus))
	for _, sku := range skus {
		sku = strings.TrimSpace(sku)
		if seen[sku] {
			continue
		}
		seen[sku] = true
		if p, ok := b.products[sku]; ok {
			out = append(out, p)
		}
	}
	return out
}

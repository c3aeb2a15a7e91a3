package application

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quickstock/internal/service/order/domain"
)

func TestPreviewOrder(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.PreviewOrder(context.Background(), PreviewRequest{StoreID: 1, Items: []domain.Line{
		{SKU: "MILK", Quantity: 2}, {SKU: "BREAD", Quantity: 11}, {SKU: "CAVIAR", Quantity: 1},
	}})
	require.NoError(t, err)

	assert.True(t, res.StockVerified)
	assert.Equal(t, int64(2*250+11*400), res.Subtotal)
	assert.Equal(t, res.Subtotal+DefaultDeliveryFee, res.TotalAmount)
	assert.ElementsMatch(t, []string{"Insufficient stock for BREAD", "Product not found: CAVIAR", "Insufficient stock for CAVIAR"}, res.Warnings)
	assert.True(t, res.Items[0].InStock)
	assert.Equal(t, 50, res.Items[0].Available)
	assert.Empty(t, f.inventory.reservations, "preview must not reserve")
}

func TestPreviewOrder_FallsBackToPricesOnly(t *testing.T) {
	f := newFixture(t)
	f.inventory.availErr = errors.Wrap(domain.ErrInventoryUnavailable, "breaker open")

	res, err := f.svc.PreviewOrder(context.Background(), PreviewRequest{StoreID: 1, Items: []domain.Line{{SKU: "EGGS", Quantity: 1}}})
	require.NoError(t, err)
	assert.False(t, res.StockVerified)
	assert.Equal(t, []string{"Stock availability could not be verified"}, res.Warnings)
	assert.Equal(t, int64(600), res.Subtotal)
}

func TestPreviewOrder_CatalogUnavailable(t *testing.T) {
	f := newFixture(t)
	f.catalog.err = errors.New("timeout")

	_, err := f.svc.PreviewOrder(context.Background(), PreviewRequest{StoreID: 1, Items: []domain.Line{{SKU: "EGGS", Quantity: 1}}})
	assert.ErrorIs(t, err, domain.ErrCatalogUnavailable)

	_, err = f.svc.PreviewOrder(context.Background(), PreviewRequest{StoreID: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

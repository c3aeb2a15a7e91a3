package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestNewOrder(t *testing.T) {
	o, err := NewOrder(" key-1 ", 7, 1, []Line{{SKU: "MILK", Quantity: 2}, {SKU: "EGGS", Quantity: 1}, {SKU: "MILK", Quantity: 3}}, now)
	require.NoError(t, err)

	assert.Equal(t, "key-1", o.IdempotencyKey)
	assert.Equal(t, StatusPendingPayment, o.Status)
	assert.NotEmpty(t, o.UUID)
	assert.Equal(t, []string{"MILK", "EGGS"}, o.SKUs())
	assert.Equal(t, 5, o.Items[0].Quantity)
}

func TestNewOrder_Validation(t *testing.T) {
	cases := map[string]struct {
		customer, store int64
		lines           []Line
	}{
		"no customer":   {0, 1, []Line{{SKU: "A", Quantity: 1}}},
		"no store":      {1, 0, []Line{{SKU: "A", Quantity: 1}}},
		"no items":      {1, 1, nil},
		"blank sku":     {1, 1, []Line{{SKU: " ", Quantity: 1}}},
		"zero quantity": {1, 1, []Line{{SKU: "A", Quantity: 0}}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewOrder("", tc.customer, tc.store, tc.lines, now)
			assert.ErrorIs(t, err, ErrInvalidOrder)
		})
	}
}

func TestApplyPrices(t *testing.T) {
	o, err := NewOrder("", 1, 1, []Line{{SKU: "MILK", Quantity: 2}, {SKU: "EGGS", Quantity: 1}}, now)
	require.NoError(t, err)

	require.NoError(t, o.ApplyPrices(map[string]int64{"MILK": 250, "EGGS": 600}, 1500))
	assert.Equal(t, int64(1100), o.Subtotal)
	assert.Equal(t, int64(2600), o.TotalAmount)

	assert.ErrorIs(t, o.ApplyPrices(map[string]int64{"MILK": 250}, 0), ErrInvalidOrder)
	assert.ErrorIs(t, o.ApplyPrices(map[string]int64{"MILK": 250, "EGGS": 0}, 0), ErrInvalidOrder)
}

func TestTransitions(t *testing.T) {
	o, err := NewOrder("", 1, 1, []Line{{SKU: "MILK", Quantity: 1}}, now)
	require.NoError(t, err)
	o.AttachReservation("MILK", "RES_1")
	assert.Len(t, o.UnconfirmedItems(), 1)
	o.MarkItemConfirmed("MILK")
	assert.Empty(t, o.UnconfirmedItems())

	require.NoError(t, o.Pay(now))
	assert.True(t, o.Status.IsFinal())
	assert.ErrorIs(t, o.Pay(now), ErrInvalidOrderState)
	assert.ErrorIs(t, o.Cancel("late", now), ErrInvalidOrderState)
}

func TestStockRejectedError(t *testing.T) {
	err := error(&StockRejectedError{SKU: "MILK", Err: ErrInsufficientStock})
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.True(t, IsStockRejection(err))
	assert.Contains(t, err.Error(), "MILK")
	assert.False(t, IsStockRejection(ErrInventoryUnavailable))
}

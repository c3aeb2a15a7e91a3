package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quickstock/internal/service/inventory/domain"
)

func TestNewAlertRule(t *testing.T) {
	rule, err := NewAlertRule("")
	require.NoError(t, err)
	assert.Equal(t, DefaultAlertRule, rule.String())

	_, err = NewAlertRule("available <")
	assert.Error(t, err)

	_, err = NewAlertRule("available + 1")
	assert.Error(t, err, "non-bool rules are rejected")

	_, err = NewAlertRule("price < 3")
	assert.Error(t, err, "unknown variables are rejected")
}

func TestAlertRule_Matches(t *testing.T) {
	item := domain.InventoryItem{CurrentStock: 50, ReservedStock: 45, SafetyStock: 10, MaxStock: 100}

	cases := []struct {
		expr string
		want bool
	}{
		{DefaultAlertRule, true},
		{"available * 10 < max_stock", true},
		{"reserved_stock > current_stock", false},
		{"available <= safety_stock && current_stock > 0", true},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			rule, err := NewAlertRule(tc.expr)
			require.NoError(t, err)
			got, err := rule.Matches(item)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestObserve_TransitionOnly(t *testing.T) {
	rule, err := NewAlertRule(DefaultAlertRule)
	require.NoError(t, err)
	sink := &recordingSink{}
	p := NewLowStockAlertPublisher(rule, time.Second, sink)
	ctx := context.Background()

	healthy := domain.InventoryItem{SKU: "X", CurrentStock: 20, SafetyStock: 10}
	low := healthy
	low.ReservedStock = 15
	lower := low
	lower.ReservedStock = 18

	assert.True(t, p.Observe(ctx, healthy, low))
	assert.False(t, p.Observe(ctx, low, lower), "already below threshold")
	assert.False(t, p.Observe(ctx, low, healthy), "availability went up")
	assert.False(t, p.Observe(ctx, healthy, healthy))
	p.Wait()
	assert.Len(t, sink.Alerts(), 1)

	var nilPublisher *LowStockAlertPublisher
	assert.False(t, nilPublisher.Observe(ctx, healthy, low))
	nilPublisher.Wait()
}

package interfaces

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quickstock/internal/service/inventory/application"
	"quickstock/internal/service/inventory/domain"
	"quickstock/internal/service/inventory/infrastructure/memory"
)

func newTestServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	ledger := application.NewStockMovementLedger(store, nil)
	rm := application.NewReservationManager(store, ledger)
	sm := application.NewStockManager(rm, application.StockDefaults{SafetyStock: 5, MaxStock: 500})

	mux := http.NewServeMux()
	NewInventoryHandler(rm, sm, ledger, nil).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	require.NoError(t, store.Items().Create(context.Background(), &domain.InventoryItem{SKU: "MILK", StoreID: 1, CurrentStock: 50, SafetyStock: 10, MaxStock: 500}))
	return srv, store
}

func post(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(url, "application/json", &buf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestReserveConfirmFlow(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := post(t, srv.URL+"/api/v1/inventory/reservations", application.ReserveCommand{SKU: "MILK", StoreID: 1, Quantity: 45, OrderReference: "ORD-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	res := decode[application.ReservationResult](t, resp)
	assert.NotEmpty(t, res.ReservationID)

	resp = post(t, srv.URL+"/api/v1/inventory/reservations", application.ReserveCommand{SKU: "MILK", StoreID: 1, Quantity: 10, OrderReference: "ORD-2"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, application.CodeInsufficientStock, decode[errorBody](t, resp).Code)

	resp = post(t, srv.URL+"/api/v1/inventory/reservations/"+res.ReservationID+"/confirm", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = post(t, srv.URL+"/api/v1/inventory/reservations/"+res.ReservationID+"/confirm", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "repeated confirm succeeds without effect")

	resp = post(t, srv.URL+"/api/v1/inventory/reservations/"+res.ReservationID+"/release", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, application.CodeInvalidState, decode[errorBody](t, resp).Code)

	resp = get(t, srv.URL+"/api/v1/inventory/stores/1/items/MILK")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[ItemView](t, resp)
	assert.Equal(t, 5, view.CurrentStock)
	assert.Equal(t, 0, view.ReservedStock)
	assert.True(t, view.LowStock)
}

func TestErrorMapping(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := post(t, srv.URL+"/api/v1/inventory/reservations/RES_nope/confirm", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, application.CodeNotFound, decode[errorBody](t, resp).Code)

	resp = post(t, srv.URL+"/api/v1/inventory/reservations", application.ReserveCommand{SKU: "MILK", StoreID: 1, Quantity: -1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, srv.URL+"/api/v1/inventory/reservations", map[string]any{"quantity": 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = get(t, srv.URL+"/api/v1/inventory/stores/abc/items/MILK")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = get(t, srv.URL+"/api/v1/inventory/stores/1/items/NONE")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStockEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := post(t, srv.URL+"/api/v1/inventory/stock", application.StockChange{SKU: "EGGS", StoreID: 1, Quantity: 12})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 12, decode[ItemView](t, resp).CurrentStock)

	resp = post(t, srv.URL+"/api/v1/inventory/stock/adjust", application.StockChange{SKU: "EGGS", StoreID: 1, Quantity: -2})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 10, decode[ItemView](t, resp).CurrentStock)

	resp = get(t, srv.URL+"/api/v1/inventory/stores/1/availability?skus=EGGS,MILK,NONE")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	avail := decode[struct {
		Availability map[string]int `json:"availability"`
	}](t, resp)
	assert.Equal(t, map[string]int{"EGGS": 10, "MILK": 50, "NONE": 0}, avail.Availability)

	resp = get(t, srv.URL+"/api/v1/inventory/stores/1/availability")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = get(t, srv.URL+"/api/v1/inventory/stores/1/items/EGGS/ledger")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ledger := decode[map[string]any](t, resp)
	assert.EqualValues(t, 12, ledger["inbound"])
	assert.EqualValues(t, -2, ledger["adjustment"])
}

func TestReleaseByOrderAndLowStock(t *testing.T) {
	srv, _ := newTestServer(t)

	var ids []string
	for i := 0; i < 2; i++ {
		resp := post(t, srv.URL+"/api/v1/inventory/reservations", application.ReserveCommand{SKU: "MILK", StoreID: 1, Quantity: 20, OrderReference: "ORD-7"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		ids = append(ids, decode[application.ReservationResult](t, resp).ReservationID)
	}
	assert.Equal(t, ids[0], ids[1], "same order and sku reuse the pending reservation")
	resp := post(t, srv.URL+"/api/v1/inventory/reservations", application.ReserveCommand{SKU: "MILK", StoreID: 1, Quantity: 25, OrderReference: "ORD-8"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = get(t, srv.URL+"/api/v1/inventory/stores/1/low-stock")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]ItemView](t, resp), 1)

	resp = post(t, srv.URL+"/api/v1/inventory/orders/ORD-7/release", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, decode[map[string]any](t, resp)["released"])

	resp = get(t, srv.URL+"/api/v1/inventory/stores/1/items/MILK")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 25, decode[ItemView](t, resp).ReservedStock)

	resp = get(t, srv.URL+"/api/v1/inventory/stores/1/replenishment")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]ReplenishmentView](t, resp), "current stock is still 50")

	resp = post(t, srv.URL+"/api/v1/inventory/orders/ORD-8/release", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = post(t, srv.URL+"/api/v1/inventory/stock/adjust", application.StockChange{SKU: "MILK", StoreID: 1, Quantity: -36})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = get(t, srv.URL+"/api/v1/inventory/stores/1/replenishment")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	refill := decode[[]ReplenishmentView](t, resp)
	require.Len(t, refill, 1)
	assert.Equal(t, "MILK", refill[0].SKU)
	assert.Equal(t, 14, refill[0].CurrentStock)
	assert.Equal(t, 486, refill[0].SuggestedQuantity)

	resp = get(t, srv.URL+"/api/v1/inventory/stores/x/replenishment")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = get(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

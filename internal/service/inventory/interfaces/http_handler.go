package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"quickstock/internal/pkg/logger"
	"quickstock/internal/service/inventory/application"
	"quickstock/internal/service/inventory/domain"
)

// InventoryHandler 封装了 inventory 服务的 HTTP 处理器
type InventoryHandler struct {
	reservations *application.ReservationManager
	stock        *application.StockManager
	ledger       *application.StockMovementLedger
	alerts       http.HandlerFunc
}

// NewInventoryHandler alerts 为 nil 时不注册 /ws/alerts。
func NewInventoryHandler(rm *application.ReservationManager, sm *application.StockManager, ledger *application.StockMovementLedger, alerts http.HandlerFunc) *InventoryHandler {
	return &InventoryHandler{reservations: rm, stock: sm, ledger: ledger, alerts: alerts}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *InventoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/v1/inventory/reservations", h.handleReserve)
	mux.HandleFunc("POST /api/v1/inventory/reservations/{id}/confirm", h.handleConfirm)
	mux.HandleFunc("POST /api/v1/inventory/reservations/{id}/release", h.handleRelease)
	mux.HandleFunc("POST /api/v1/inventory/orders/{ref}/release", h.handleReleaseOrder)

	mux.HandleFunc("POST /api/v1/inventory/stock", h.stockChange(h.stock.AddStock))
	mux.HandleFunc("POST /api/v1/inventory/stock/adjust", h.stockChange(h.stock.AdjustStock))
	mux.HandleFunc("POST /api/v1/inventory/stock/return", h.stockChange(h.stock.ReturnStock))

	mux.HandleFunc("GET /api/v1/inventory/stores/{storeId}/items/{sku}", h.handleGetItem)
	mux.HandleFunc("GET /api/v1/inventory/stores/{storeId}/items/{sku}/ledger", h.handleLedger)
	mux.HandleFunc("GET /api/v1/inventory/stores/{storeId}/availability", h.handleAvailability)
	mux.HandleFunc("GET /api/v1/inventory/stores/{storeId}/low-stock", h.handleLowStock)
	mux.HandleFunc("GET /api/v1/inventory/stores/{storeId}/replenishment", h.handleReplenishment)

	if h.alerts != nil {
		mux.HandleFunc("GET /ws/alerts", h.alerts)
	}
}

// ItemView 是库存项的对外表示。
type ItemView struct {
	ID             int64     `json:"id"`
	SKU            string    `json:"sku"`
	StoreID        int64     `json:"storeId"`
	CurrentStock   int       `json:"currentStock"`
	ReservedStock  int       `json:"reservedStock"`
	AvailableStock int       `json:"availableStock"`
	SafetyStock    int       `json:"safetyStock"`
	MaxStock       int       `json:"maxStock"`
	LowStock       bool      `json:"lowStock"`
	Version        int64     `json:"version"`
	LastUpdated    time.Time `json:"lastUpdated"`
}

func toView(it domain.InventoryItem) ItemView {
	return ItemView{
		ID:             it.ID,
		SKU:            it.SKU,
		StoreID:        it.StoreID,
		CurrentStock:   it.CurrentStock,
		ReservedStock:  it.ReservedStock,
		AvailableStock: it.Available(),
		SafetyStock:    it.SafetyStock,
		MaxStock:       it.MaxStock,
		LowStock:       it.IsLowStock(),
		Version:        it.Version,
		LastUpdated:    it.LastUpdated,
	}
}

func (h *InventoryHandler) handleReserve(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var cmd application.ReserveCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, application.CodeBadRequest, "invalid request body")
		return
	}
	if cmd.SKU == "" || cmd.StoreID == 0 {
		writeError(w, http.StatusBadRequest, application.CodeBadRequest, "sku and storeId are required")
		return
	}

	res, err := h.reservations.Reserve(ctx, cmd)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type settleResponse struct {
	ReservationID string `json:"reservationId"`
	Status        string `json:"status"`
}

func (h *InventoryHandler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	id := r.PathValue("id")
	if err := h.reservations.Confirm(ctx, id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settleResponse{ReservationID: id, Status: string(domain.ReservationConfirmed)})
}

func (h *InventoryHandler) handleRelease(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	id := r.PathValue("id")
	if err := h.reservations.Release(ctx, id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settleResponse{ReservationID: id, Status: string(domain.ReservationReleased)})
}

func (h *InventoryHandler) handleReleaseOrder(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ref := r.PathValue("ref")
	n, err := h.reservations.ReleaseByOrderReference(ctx, ref)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orderReference": ref, "released": n})
}

func (h *InventoryHandler) stockChange(fn func(ctx context.Context, c application.StockChange) (*domain.InventoryItem, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		var c application.StockChange
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			writeError(w, http.StatusBadRequest, application.CodeBadRequest, "invalid request body")
			return
		}
		if c.SKU == "" || c.StoreID == 0 {
			writeError(w, http.StatusBadRequest, application.CodeBadRequest, "sku and storeId are required")
			return
		}
		item, err := fn(ctx, c)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toView(*item))
	}
}

func (h *InventoryHandler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	storeID, ok := pathStoreID(w, r)
	if !ok {
		return
	}
	item, err := h.stock.GetItem(ctx, r.PathValue("sku"), storeID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toView(*item))
}

func (h *InventoryHandler) handleLedger(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	storeID, ok := pathStoreID(w, r)
	if !ok {
		return
	}
	item, err := h.stock.GetItem(ctx, r.PathValue("sku"), storeID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	sum, err := h.ledger.SumByItem(ctx, item.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"item":                toView(*item),
		"inbound":             sum.Inbound,
		"outbound":            sum.Outbound,
		"reserve":             sum.Reserve,
		"unreserve":           sum.Unreserve,
		"adjustment":          sum.Adjustment,
		"saleFromReservation": sum.SaleFromReservation,
		"movements":           sum.Count,
		"ledgerReserved":      sum.Reserved(),
	})
}

func (h *InventoryHandler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	storeID, ok := pathStoreID(w, r)
	if !ok {
		return
	}
	var skus []string
	for _, s := range strings.Split(r.URL.Query().Get("skus"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			skus = append(skus, s)
		}
	}
	if len(skus) == 0 {
		writeError(w, http.StatusBadRequest, application.CodeBadRequest, "skus is required")
		return
	}
	avail, err := h.stock.CheckAvailability(ctx, storeID, skus)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"storeId": storeID, "availability": avail})
}

func (h *InventoryHandler) handleLowStock(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	storeID, ok := pathStoreID(w, r)
	if !ok {
		return
	}
	items, err := h.stock.LowStockItems(ctx, storeID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	views := make([]ItemView, len(items))
	for i, it := range items {
		views[i] = toView(it)
	}
	writeJSON(w, http.StatusOK, views)
}

// ReplenishmentView 在库存项之外给出建议补货量。
type ReplenishmentView struct {
	ItemView
	SuggestedQuantity int `json:"suggestedQuantity"`
}

func (h *InventoryHandler) handleReplenishment(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	storeID, ok := pathStoreID(w, r)
	if !ok {
		return
	}
	items, err := h.stock.ItemsNeedingReplenishment(ctx, storeID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	views := make([]ReplenishmentView, len(items))
	for i, it := range items {
		views[i] = ReplenishmentView{ItemView: toView(it), SuggestedQuantity: it.ReplenishmentQuantity()}
	}
	writeJSON(w, http.StatusOK, views)
}

func pathStoreID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("storeId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, application.CodeBadRequest, "storeId must be an integer")
		return 0, false
	}
	return id, true
}

// statusOf 根据错误码返回 HTTP 状态码。
func statusOf(code string) int {
	switch code {
	case application.CodeNotFound:
		return http.StatusNotFound
	case application.CodeInsufficientStock, application.CodeInvalidState:
		return http.StatusConflict
	case application.CodeBadRequest:
		return http.StatusBadRequest
	case application.CodeConcurrencyExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code := application.ErrorCode(err)
	status := statusOf(code)
	if status >= http.StatusInternalServerError {
		logger.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	msg := err.Error()
	if code == application.CodeInternal {
		msg = "internal error"
	}
	writeError(w, status, code, msg)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Code: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

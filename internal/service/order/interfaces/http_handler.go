package interfaces

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/time/rate"

	"quickstock/internal/pkg/logger"
	"quickstock/internal/service/order/application"
	"quickstock/internal/service/order/domain"
)

const idempotencyHeader = "Idempotency-Key"

// OrderHandler 封装了 order 服务的 HTTP 处理器
type OrderHandler struct {
	service       *application.OrderApplicationService
	createLimiter *rate.Limiter
}

type HandlerOption func(*OrderHandler)

// WithCreateLimiter 限制下单接口的请求速率，超出时返回 429。
func WithCreateLimiter(l *rate.Limiter) HandlerOption {
	return func(h *OrderHandler) { h.createLimiter = l }
}

// NewOrderHandler 创建一个新的 HTTP 处理器实例
func NewOrderHandler(service *application.OrderApplicationService, opts ...HandlerOption) *OrderHandler {
	h := &OrderHandler{service: service}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *OrderHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/v1/orders", h.handleCreate)
	mux.HandleFunc("POST /api/v1/orders/preview", h.handlePreview)
	mux.HandleFunc("GET /api/v1/orders/{uuid}", h.handleGet)
	mux.HandleFunc("GET /api/v1/orders/customer/{customerId}", h.handleListByCustomer)
	mux.HandleFunc("GET /api/v1/orders/store/{storeId}", h.handleListByStore)
	mux.HandleFunc("POST /api/v1/orders/{uuid}/pay", h.handlePay)
	mux.HandleFunc("POST /api/v1/orders/{uuid}/cancel", h.handleCancel)
}

type OrderItemView struct {
	SKU           string `json:"sku"`
	Quantity      int    `json:"quantity"`
	UnitPrice     int64  `json:"unitPrice"`
	LineTotal     int64  `json:"lineTotal"`
	ReservationID string `json:"reservationId,omitempty"`
	Confirmed     bool   `json:"confirmed"`
}

// OrderView 是订单的对外表示，金额单位为分。
type OrderView struct {
	OrderUUID      string          `json:"orderUuid"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	CustomerID     int64           `json:"customerId"`
	StoreID        int64           `json:"storeId"`
	Status         domain.Status   `json:"status"`
	Items          []OrderItemView `json:"items"`
	Subtotal       int64           `json:"subtotal"`
	DeliveryFee    int64           `json:"deliveryFee"`
	TotalAmount    int64           `json:"totalAmount"`
	CancelReason   string          `json:"cancelReason,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

func toView(o *domain.Order) OrderView {
	v := OrderView{
		OrderUUID:      o.UUID,
		IdempotencyKey: o.IdempotencyKey,
		CustomerID:     o.CustomerID,
		StoreID:        o.StoreID,
		Status:         o.Status,
		Subtotal:       o.Subtotal,
		DeliveryFee:    o.DeliveryFee,
		TotalAmount:    o.TotalAmount,
		CancelReason:   o.CancelReason,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
		Items:          make([]OrderItemView, len(o.Items)),
	}
	for i, it := range o.Items {
		v.Items[i] = OrderItemView{
			SKU:           it.SKU,
			Quantity:      it.Quantity,
			UnitPrice:     it.UnitPrice,
			LineTotal:     it.LineTotal(),
			ReservationID: it.ReservationID,
			Confirmed:     it.Confirmed,
		}
	}
	return v
}

// OrderPageView 是分页查询的响应体。
type OrderPageView struct {
	Orders []OrderView `json:"orders"`
	Page   int         `json:"page"`
	Size   int         `json:"size"`
}

func toPageView(p *application.OrderPage) OrderPageView {
	v := OrderPageView{Orders: make([]OrderView, len(p.Orders)), Page: p.Page, Size: p.Size}
	for i := range p.Orders {
		v.Orders[i] = toView(&p.Orders[i])
	}
	return v
}

func (h *OrderHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	if h.createLimiter != nil && !h.createLimiter.Allow() {
		logger.Ctx(ctx).Warn().Str("path", r.URL.Path).Msg("order creation rate limited")
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, application.CodeRateLimited, "too many requests, please try again shortly")
		return
	}

	var req application.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, application.CodeBadRequest, "invalid request body")
		return
	}
	// 请求头优先于请求体中的幂等键
	if key := strings.TrimSpace(r.Header.Get(idempotencyHeader)); key != "" {
		req.IdempotencyKey = key
	}

	order, created, err := h.service.CreateOrder(ctx, req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, toView(order))
}

func (h *OrderHandler) handlePreview(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, application.CodeBadRequest, "invalid request body")
		return
	}
	res, err := h.service.PreviewOrder(ctx, req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *OrderHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	order, err := h.service.GetOrder(ctx, r.PathValue("uuid"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toView(order))
}

func (h *OrderHandler) handleListByCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	customerID, err := strconv.ParseInt(r.PathValue("customerId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, application.CodeBadRequest, "invalid customerId")
		return
	}
	page, ok := pageOf(w, r)
	if !ok {
		return
	}
	res, err := h.service.ListCustomerOrders(ctx, customerID, page)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageView(res))
}

func (h *OrderHandler) handleListByStore(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	storeID, err := strconv.ParseInt(r.PathValue("storeId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, application.CodeBadRequest, "invalid storeId")
		return
	}
	var status domain.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		if status, err = domain.ParseStatus(raw); err != nil {
			writeDomainError(w, r, err)
			return
		}
	}
	page, ok := pageOf(w, r)
	if !ok {
		return
	}
	res, err := h.service.ListStoreOrders(ctx, storeID, status, page)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageView(res))
}

// pageOf 解析 page 与 size 查询参数，缺省时由应用层取默认值。
func pageOf(w http.ResponseWriter, r *http.Request) (application.PageRequest, bool) {
	var p application.PageRequest
	for name, dst := range map[string]*int{"page": &p.Page, "size": &p.Size} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, application.CodeBadRequest, "invalid "+name)
			return p, false
		}
		*dst = n
	}
	return p, true
}

func (h *OrderHandler) handlePay(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	order, err := h.service.ConfirmPayment(ctx, r.PathValue("uuid"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toView(order))
}

func (h *OrderHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, application.CodeBadRequest, "invalid request body")
			return
		}
	}
	order, err := h.service.CancelOrder(ctx, r.PathValue("uuid"), body.Reason)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toView(order))
}

func statusOf(code string) int {
	switch code {
	case application.CodeNotFound:
		return http.StatusNotFound
	case application.CodeInsufficientStock, application.CodeInvalidState:
		return http.StatusConflict
	case application.CodeBadRequest:
		return http.StatusBadRequest
	case application.CodeUnavailable:
		return http.StatusServiceUnavailable
	case application.CodeRateLimited:
		return http.StatusTooManyRequests
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

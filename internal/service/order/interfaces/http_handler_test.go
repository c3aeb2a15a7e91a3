package interfaces

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"

	"quickstock/internal/pkg/httpclient"
	invapp "quickstock/internal/service/inventory/application"
	invdomain "quickstock/internal/service/inventory/domain"
	invmemory "quickstock/internal/service/inventory/infrastructure/memory"
	invhttp "quickstock/internal/service/inventory/interfaces"
	"quickstock/internal/service/order/application"
	"quickstock/internal/service/order/domain"
	"quickstock/internal/service/order/infrastructure/adapter"
	"quickstock/internal/service/order/infrastructure/memory"
)

type staticCatalog map[string]int64

func (c staticCatalog) Prices(_ context.Context, skus []string) (map[string]int64, error) {
	out := map[string]int64{}
	for _, s := range skus {
		if p, ok := c[s]; ok {
			out[s] = p
		}
	}
	return out, nil
}

type env struct {
	orders    *httptest.Server
	inventory *httptest.Server
	stock     *invapp.StockManager
}

type envConfig struct {
	wrapInventory func(http.Handler) http.Handler
	clientOpts    []httpclient.Option
	handlerOpts   []HandlerOption
}

type envOption func(*envConfig)

// withSlowInventory 在库存服务前插入中间件，用来模拟响应丢失。
func withSlowInventory(wrap func(http.Handler) http.Handler) envOption {
	return func(c *envConfig) { c.wrapInventory = wrap }
}

func withClient(opts ...httpclient.Option) envOption {
	return func(c *envConfig) { c.clientOpts = opts }
}

func withHandler(opts ...HandlerOption) envOption {
	return func(c *envConfig) { c.handlerOpts = opts }
}

// newEnv 启动真实的库存服务（内存存储）和订单服务，两者通过 HTTP 适配器相连。
func newEnv(t *testing.T, opts ...envOption) *env {
	t.Helper()
	cfg := envConfig{
		wrapInventory: func(h http.Handler) http.Handler { return h },
		clientOpts: []httpclient.Option{
			httpclient.WithCallTimeout(time.Second),
			httpclient.WithRetry(1, time.Millisecond, 5*time.Millisecond),
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	store := invmemory.NewStore()
	ledger := invapp.NewStockMovementLedger(store, nil)
	rm := invapp.NewReservationManager(store, ledger)
	sm := invapp.NewStockManager(rm, invapp.StockDefaults{SafetyStock: 10, MaxStock: 1000})
	require.NoError(t, store.Items().Create(context.Background(), &invdomain.InventoryItem{
		SKU: "MILK", StoreID: 1, CurrentStock: 50, SafetyStock: 10, MaxStock: 1000,
	}))

	invMux := http.NewServeMux()
	invhttp.NewInventoryHandler(rm, sm, ledger, nil).RegisterRoutes(invMux)
	invSrv := httptest.NewServer(cfg.wrapInventory(invMux))
	t.Cleanup(invSrv.Close)

	client := httpclient.NewClient(noop.NewTracerProvider().Tracer("test"), "inventory-service",
		httpclient.StaticResolver{"inventory-service": invSrv.URL},
		cfg.clientOpts...,
	)
	svc := application.NewOrderApplicationService(memory.NewOrderRepository(), adapter.NewInventoryHTTPAdapter(client),
		staticCatalog{"MILK": 250}, nil)

	mux := http.NewServeMux()
	NewOrderHandler(svc, cfg.handlerOpts...).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &env{orders: srv, inventory: invSrv, stock: sm}
}

func do(t *testing.T, method, url string, body any, header http.Header) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
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

// lostResponse 让第一个匹配的请求照常落库，但把响应推迟 delay 才写回，
// 调用方会先超时并重试。
type lostResponse struct {
	next  http.Handler
	match func(*http.Request) bool
	delay time.Duration
	fired atomic.Bool
	hits  atomic.Int32
}

func delayFirst(match func(*http.Request) bool, delay time.Duration) (*lostResponse, func(http.Handler) http.Handler) {
	l := &lostResponse{match: match, delay: delay}
	return l, func(next http.Handler) http.Handler {
		l.next = next
		return l
	}
}

func (l *lostResponse) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !l.match(r) {
		l.next.ServeHTTP(w, r)
		return
	}
	l.hits.Add(1)
	if !l.fired.CompareAndSwap(false, true) {
		l.next.ServeHTTP(w, r)
		return
	}
	rec := httptest.NewRecorder()
	l.next.ServeHTTP(rec, r)
	time.Sleep(l.delay)
	for k, v := range rec.Header() {
		w.Header()[k] = v
	}
	w.WriteHeader(rec.Code)
	_, _ = w.Write(rec.Body.Bytes())
}

func isConfirm(r *http.Request) bool {
	return r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/confirm")
}

func isReserve(r *http.Request) bool {
	return r.Method == http.MethodPost && r.URL.Path == "/api/v1/inventory/reservations"
}

// impatientClient 的单次调用超时远小于库存服务的响应延迟。
func impatientClient() envOption {
	return withClient(
		httpclient.WithCallTimeout(100*time.Millisecond),
		httpclient.WithRetry(2, time.Millisecond, 5*time.Millisecond),
	)
}

func orderOf(qty int) application.CreateOrderRequest {
	return application.CreateOrderRequest{CustomerID: 7, StoreID: 1, Items: []domain.Line{{SKU: "MILK", Quantity: qty}}}
}

func TestOrderFlow_AcrossServices(t *testing.T) {
	e := newEnv(t)

	resp := do(t, http.MethodPost, e.orders.URL+"/api/v1/orders", orderOf(45), http.Header{idempotencyHeader: {"k-45"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	first := decode[OrderView](t, resp)
	assert.Equal(t, domain.StatusPendingPayment, first.Status)
	assert.Equal(t, int64(45*250+application.DefaultDeliveryFee), first.TotalAmount)

	// 相同幂等键重放返回同一订单
	resp = do(t, http.MethodPost, e.orders.URL+"/api/v1/orders", orderOf(45), http.Header{idempotencyHeader: {"k-45"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, first.OrderUUID, decode[OrderView](t, resp).OrderUUID)

	resp = do(t, http.MethodPost, e.orders.URL+"/api/v1/orders", orderOf(10), nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, application.CodeInsufficientStock, decode[errorBody](t, resp).Code)

	resp = do(t, http.MethodPost, e.orders.URL+"/api/v1/orders/"+first.OrderUUID+"/pay", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.StatusPaid, decode[OrderView](t, resp).Status)

	item, err := e.stock.GetItem(context.Background(), "MILK", 1)
	require.NoError(t, err)
	assert.Equal(t, 5, item.CurrentStock)
	assert.Equal(t, 0, item.ReservedStock)

	resp = do(t, http.MethodPost, e.orders.URL+"/api/v1/orders/"+first.OrderUUID+"/pay", nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCancelReleasesStock(t *testing.T) {
	e := newEnv(t)

	resp := do(t, http.MethodPost, e.orders.URL+"/api/v1/orders", orderOf(30), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	order := decode[OrderView](t, resp)

	resp = do(t, http.MethodPost, e.orders.URL+"/api/v1/orders/"+order.OrderUUID+"/cancel", map[string]string{"reason": "changed my mind"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cancelled := decode[OrderView](t, resp)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	assert.Equal(t, "changed my mind", cancelled.CancelReason)

	item, err := e.stock.GetItem(context.Background(), "MILK", 1)
	require.NoError(t, err)
	assert.Equal(t, 0, item.ReservedStock)

	resp = do(t, http.MethodGet, e.orders.URL+"/api/v1/orders/"+order.OrderUUID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.StatusCancelled, decode[OrderView](t, resp).Status)
}

func TestPreviewAndErrors(t *testing.T) {
	e := newEnv(t)

	resp := do(t, http.MethodPost, e.orders.URL+"/api/v1/orders/preview",
		application.PreviewRequest{StoreID: 1, Items: []domain.Line{{SKU: "MILK", Quantity: 60}}}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	preview := decode[application.PreviewResult](t, resp)
	assert.True(t, preview.StockVerified)
	assert.Equal(t, []string{"Insufficient stock for MILK"}, preview.Warnings)

	resp = do(t, http.MethodGet, e.orders.URL+"/api/v1/orders/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodPost, e.orders.URL+"/api/v1/orders", application.CreateOrderRequest{StoreID: 1}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPost, e.orders.URL+"/api/v1/orders", orderOf(1), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// 库存服务下线后下单返回 503
	e.inventory.Close()
	resp = do(t, http.MethodPost, e.orders.URL+"/api/v1/orders", orderOf(1), nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, application.CodeUnavailable, decode[errorBody](t, resp).Code)
}

func TestPay_ConfirmAppliedButResponseLost(t *testing.T) {
	slow, wrap := delayFirst(isConfirm, 300*time.Millisecond)
	e := newEnv(t, withSlowInventory(wrap), impatientClient())

	resp := do(t, http.MethodPost, e.orders.URL+"/api/v1/orders", orderOf(5), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	order := decode[OrderView](t, resp)

	resp = do(t, http.MethodPost, e.orders.URL+"/api/v1/orders/"+order.OrderUUID+"/pay", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	paid := decode[OrderView](t, resp)
	assert.Equal(t, domain.StatusPaid, paid.Status)
	assert.True(t, paid.Items[0].Confirmed)
	assert.Equal(t, int32(2), slow.hits.Load(), "confirm was retried once")

	item, err := e.stock.GetItem(context.Background(), "MILK", 1)
	require.NoError(t, err)
	assert.Equal(t, 45, item.CurrentStock)
	assert.Equal(t, 0, item.ReservedStock)

	resp = do(t, http.MethodGet, e.orders.URL+"/api/v1/orders/"+order.OrderUUID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.StatusPaid, decode[OrderView](t, resp).Status)
}

func TestCreate_ReserveAppliedButResponseLost(t *testing.T) {
	slow, wrap := delayFirst(isReserve, 300*time.Millisecond)
	e := newEnv(t, withSlowInventory(wrap), impatientClient())

	resp := do(t, http.MethodPost, e.orders.URL+"/api/v1/orders", orderOf(5), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	order := decode[OrderView](t, resp)
	assert.Equal(t, domain.StatusPendingPayment, order.Status)
	assert.Equal(t, int32(2), slow.hits.Load(), "reserve was retried once")

	item, err := e.stock.GetItem(context.Background(), "MILK", 1)
	require.NoError(t, err)
	assert.Equal(t, 5, item.ReservedStock, "retried reserve must not hold stock twice")
	assert.Equal(t, 50, item.CurrentStock)

	resp = do(t, http.MethodPost, e.orders.URL+"/api/v1/orders/"+order.OrderUUID+"/pay", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	item, err = e.stock.GetItem(context.Background(), "MILK", 1)
	require.NoError(t, err)
	assert.Equal(t, 45, item.CurrentStock)
	assert.Equal(t, 0, item.ReservedStock)
}

func TestCreate_RateLimited(t *testing.T) {
	e := newEnv(t, withHandler(WithCreateLimiter(rate.NewLimiter(rate.Every(time.Hour), 2))))

	for i := 0; i < 2; i++ {
		resp := do(t, http.MethodPost, e.orders.URL+"/api/v1/orders", orderOf(1), nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}
	resp := do(t, http.MethodPost, e.orders.URL+"/api/v1/orders", orderOf(1), nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
	assert.Equal(t, application.CodeRateLimited, decode[errorBody](t, resp).Code)

	item, err := e.stock.GetItem(context.Background(), "MILK", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, item.ReservedStock, "rejected request never reached inventory")

	// 其他接口不受下单限流影响
	resp = do(t, http.MethodGet, e.orders.URL+"/api/v1/orders/customer/7", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListOrders(t *testing.T) {
	e := newEnv(t)

	var uuids []string
	for i := 0; i < 3; i++ {
		resp := do(t, http.MethodPost, e.orders.URL+"/api/v1/orders", orderOf(1), nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		uuids = append(uuids, decode[OrderView](t, resp).OrderUUID)
	}
	resp := do(t, http.MethodPost, e.orders.URL+"/api/v1/orders/"+uuids[0]+"/cancel", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodGet, e.orders.URL+"/api/v1/orders/customer/7?size=2", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[OrderPageView](t, resp)
	assert.Equal(t, 0, page.Page)
	assert.Equal(t, 2, page.Size)
	assert.Len(t, page.Orders, 2)

	resp = do(t, http.MethodGet, e.orders.URL+"/api/v1/orders/customer/7?page=1&size=2", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[OrderPageView](t, resp).Orders, 1)

	resp = do(t, http.MethodGet, e.orders.URL+"/api/v1/orders/customer/8", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[OrderPageView](t, resp).Orders)

	resp = do(t, http.MethodGet, e.orders.URL+"/api/v1/orders/store/1?status=cancelled", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page = decode[OrderPageView](t, resp)
	require.Len(t, page.Orders, 1)
	assert.Equal(t, uuids[0], page.Orders[0].OrderUUID)
	assert.Equal(t, application.DefaultPageSize, page.Size)

	resp = do(t, http.MethodGet, e.orders.URL+"/api/v1/orders/store/1?status=PENDING_PAYMENT", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[OrderPageView](t, resp).Orders, 2)

	for _, bad := range []string{
		"/api/v1/orders/store/1?status=SHIPPED",
		"/api/v1/orders/store/x",
		"/api/v1/orders/customer/7?page=-1",
		"/api/v1/orders/customer/7?size=abc",
		"/api/v1/orders/customer/0",
	} {
		resp = do(t, http.MethodGet, e.orders.URL+bad, nil, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, bad)
	}
}

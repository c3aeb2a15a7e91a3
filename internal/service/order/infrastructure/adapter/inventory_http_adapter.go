package adapter

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"quickstock/internal/pkg/httpclient"
	"quickstock/internal/service/order/domain"
	"quickstock/internal/service/order/port"
)

const inventoryBasePath = "/api/v1/inventory"

// InventoryHTTPAdapter 实现了 port.InventoryService 接口。
// 超时、重试和熔断由 httpclient.Client 负责，这里只做请求构造和错误翻译。
type InventoryHTTPAdapter struct {
	client *httpclient.Client
}

// NewInventoryHTTPAdapter 创建一个新的库存服务适配器。
func NewInventoryHTTPAdapter(client *httpclient.Client) *InventoryHTTPAdapter {
	return &InventoryHTTPAdapter{client: client}
}

type reserveRequest struct {
	SKU            string `json:"sku"`
	StoreID        int64  `json:"storeId"`
	Quantity       int    `json:"quantity"`
	OrderReference string `json:"orderReference"`
}

type reserveResponse struct {
	ReservationID string    `json:"reservationId"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

func (a *InventoryHTTPAdapter) Reserve(ctx context.Context, storeID int64, sku string, quantity int, orderRef string) (port.Reservation, error) {
	var out reserveResponse
	err := a.client.DoJSON(ctx, http.MethodPost, inventoryBasePath+"/reservations",
		reserveRequest{SKU: sku, StoreID: storeID, Quantity: quantity, OrderReference: orderRef}, &out)
	if err != nil {
		return port.Reservation{}, translate(err, domain.ErrInventoryNotFound)
	}
	return port.Reservation{ID: out.ReservationID, ExpiresAt: out.ExpiresAt}, nil
}

func (a *InventoryHTTPAdapter) Confirm(ctx context.Context, reservationID string) error {
	path := inventoryBasePath + "/reservations/" + url.PathEscape(reservationID) + "/confirm"
	return translate(a.client.DoJSON(ctx, http.MethodPost, path, nil, nil), domain.ErrReservationNotFound)
}

// Release 实现了释放库存的补偿逻辑。
func (a *InventoryHTTPAdapter) Release(ctx context.Context, reservationID string) error {
	path := inventoryBasePath + "/reservations/" + url.PathEscape(reservationID) + "/release"
	return translate(a.client.DoJSON(ctx, http.MethodPost, path, nil, nil), domain.ErrReservationNotFound)
}

func (a *InventoryHTTPAdapter) ReleaseByOrder(ctx context.Context, orderRef string) (int, error) {
	var out struct {
		Released int `json:"released"`
	}
	path := inventoryBasePath + "/orders/" + url.PathEscape(orderRef) + "/release"
	if err := a.client.DoJSON(ctx, http.MethodPost, path, nil, &out); err != nil {
		return 0, translate(err, domain.ErrReservationNotFound)
	}
	return out.Released, nil
}

func (a *InventoryHTTPAdapter) Availability(ctx context.Context, storeID int64, skus []string) (map[string]int, error) {
	var out struct {
		Availability map[string]int `json:"availability"`
	}
	q := url.Values{}
	q.Set("skus", strings.Join(skus, ","))
	path := inventoryBasePath + "/stores/" + strconv.FormatInt(storeID, 10) + "/availability?" + q.Encode()
	if err := a.client.DoJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, translate(err, domain.ErrInventoryNotFound)
	}
	return out.Availability, nil
}

// translate 把库存服务的响应翻译为订单侧的哨兵错误。
// 业务拒绝（4xx）保持可区分；暂时性故障统一为 ErrInventoryUnavailable。
func translate(err error, notFound error) error {
	if err == nil {
		return nil
	}
	if httpclient.IsTransient(err) {
		return errors.Wrap(domain.ErrInventoryUnavailable, err.Error())
	}
	var se *httpclient.StatusError
	if !errors.As(err, &se) {
		return errors.Wrap(err, "inventory call")
	}
	switch {
	case se.StatusCode == http.StatusNotFound:
		return errors.Wrap(notFound, se.Message)
	case se.Code == "INSUFFICIENT_STOCK":
		return errors.Wrap(domain.ErrInsufficientStock, se.Message)
	case se.StatusCode == http.StatusConflict:
		return errors.Wrap(domain.ErrReservationInvalid, se.Message)
	case se.StatusCode == http.StatusBadRequest:
		return errors.Wrap(domain.ErrInvalidOrder, se.Message)
	default:
		return errors.Wrap(err, "inventory call")
	}
}

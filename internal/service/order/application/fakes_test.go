package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quickstock/internal/service/order/domain"
	"quickstock/internal/service/order/infrastructure/memory"
	"quickstock/internal/service/order/port"
)

// fakeInventory 在内存中模拟库存服务：每个 SKU 一个可用数量。
type fakeInventory struct {
	mu           sync.Mutex
	stock        map[string]int
	reservations map[string]*fakeReservation
	seq          int

	reserveErr   map[string]error
	confirmErr   map[string]error
	availErr     error
	releaseCalls []string
	orderRelease []string
	confirmCalls int
}

type fakeReservation struct {
	sku      string
	qty      int
	orderRef string
	status   string
}

func newFakeInventory(stock map[string]int) *fakeInventory {
	return &fakeInventory{
		stock:        stock,
		reservations: map[string]*fakeReservation{},
		reserveErr:   map[string]error{},
		confirmErr:   map[string]error{},
	}
}

func (f *fakeInventory) Reserve(_ context.Context, _ int64, sku string, qty int, orderRef string) (port.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.reserveErr[sku]; err != nil {
		return port.Reservation{}, err
	}
	avail, ok := f.stock[sku]
	if !ok {
		return port.Reservation{}, domain.ErrInventoryNotFound
	}
	if avail < qty {
		return port.Reservation{}, domain.ErrInsufficientStock
	}
	f.stock[sku] = avail - qty
	f.seq++
	id := fmt.Sprintf("RES_%d", f.seq)
	f.reservations[id] = &fakeReservation{sku: sku, qty: qty, orderRef: orderRef, status: "PENDING"}
	return port.Reservation{ID: id, ExpiresAt: time.Now().Add(5 * time.Minute)}, nil
}

func (f *fakeInventory) Confirm(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmCalls++
	if err := f.confirmErr[id]; err != nil {
		return err
	}
	r, ok := f.reservations[id]
	if !ok {
		return domain.ErrReservationNotFound
	}
	if r.status == "CONFIRMED" {
		return nil
	}
	if r.status != "PENDING" {
		return domain.ErrReservationInvalid
	}
	r.status = "CONFIRMED"
	return nil
}

func (f *fakeInventory) Release(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releaseCalls = append(f.releaseCalls, id)
	r, ok := f.reservations[id]
	if !ok {
		return domain.ErrReservationNotFound
	}
	if r.status == "RELEASED" {
		return nil
	}
	if r.status != "PENDING" {
		return domain.ErrReservationInvalid
	}
	r.status = "RELEASED"
	f.stock[r.sku] += r.qty
	return nil
}

func (f *fakeInventory) ReleaseByOrder(_ context.Context, orderRef string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orderRelease = append(f.orderRelease, orderRef)
	n := 0
	for _, r := range f.reservations {
		if r.orderRef == orderRef && r.status == "PENDING" {
			r.status = "RELEASED"
			f.stock[r.sku] += r.qty
			n++
		}
	}
	return n, nil
}

func (f *fakeInventory) Availability(_ context.Context, _ int64, skus []string) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.availErr != nil {
		return nil, f.availErr
	}
	out := make(map[string]int, len(skus))
	for _, s := range skus {
		out[s] = f.stock[s]
	}
	return out, nil
}

func (f *fakeInventory) available(sku string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stock[sku]
}

func (f *fakeInventory) statusOf(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.reservations[id]; ok {
		return r.status
	}
	return ""
}

type fakeCatalog struct {
	prices map[string]int64
	err    error
}

func (c *fakeCatalog) Prices(_ context.Context, skus []string) (map[string]int64, error) {
	if c.err != nil {
		return nil, c.err
	}
	out := map[string]int64{}
	for _, s := range skus {
		if p, ok := c.prices[s]; ok {
			out[s] = p
		}
	}
	return out, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) record(kind string, o *domain.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, kind+":"+o.UUID)
	return nil
}

func (n *recordingNotifier) SendOrderCreated(_ context.Context, o *domain.Order) error {
	return n.record(domain.EventOrderCreated, o)
}

func (n *recordingNotifier) SendOrderPaid(_ context.Context, o *domain.Order) error {
	return n.record(domain.EventOrderPaid, o)
}

func (n *recordingNotifier) SendOrderCancelled(_ context.Context, o *domain.Order) error {
	return n.record(domain.EventOrderCancelled, o)
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

// racingRepo 让第一次幂等键查询返回未找到，模拟两个同键请求并发通过了前置检查。
type racingRepo struct {
	*memory.OrderRepository
	once sync.Once
}

func (r *racingRepo) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	miss := false
	r.once.Do(func() { miss = true })
	if miss {
		return nil, domain.ErrOrderNotFound
	}
	return r.OrderRepository.FindByIdempotencyKey(ctx, key)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

package application

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quickstock/internal/service/order/domain"
	"quickstock/internal/service/order/infrastructure/memory"
)

type fixture struct {
	svc       *OrderApplicationService
	repo      *memory.OrderRepository
	inventory *fakeInventory
	catalog   *fakeCatalog
	notifier  *recordingNotifier
	clock     *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:      memory.NewOrderRepository(),
		inventory: newFakeInventory(map[string]int{"MILK": 50, "EGGS": 20, "BREAD": 10}),
		catalog:   &fakeCatalog{prices: map[string]int64{"MILK": 250, "EGGS": 600, "BREAD": 400}},
		notifier:  &recordingNotifier{},
		clock:     &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	f.svc = NewOrderApplicationService(f.repo, f.inventory, f.catalog, f.notifier, WithClock(f.clock.Now))
	return f
}

func request(key string, lines ...domain.Line) CreateOrderRequest {
	return CreateOrderRequest{IdempotencyKey: key, CustomerID: 7, StoreID: 1, Items: lines}
}

func line(sku string, qty int) domain.Line { return domain.Line{SKU: sku, Quantity: qty} }

func TestCreateOrder_ReservesPricesAndPersists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, created, err := f.svc.CreateOrder(ctx, request("k1", line("MILK", 2), line("EGGS", 1)))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.StatusPendingPayment, order.Status)
	assert.Equal(t, int64(2*250+600), order.Subtotal)
	assert.Equal(t, order.Subtotal+DefaultDeliveryFee, order.TotalAmount)
	for _, it := range order.Items {
		assert.NotEmpty(t, it.ReservationID)
	}
	assert.Equal(t, 48, f.inventory.available("MILK"))

	stored, err := f.repo.FindByUUID(ctx, order.UUID)
	require.NoError(t, err)
	assert.Equal(t, order.Items, stored.Items)
	assert.Equal(t, []string{domain.EventOrderCreated + ":" + order.UUID}, f.notifier.all())
}

func TestCreateOrder_IdempotentByKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, created, err := f.svc.CreateOrder(ctx, request("same", line("MILK", 5)))
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := f.svc.CreateOrder(ctx, request("same", line("MILK", 5)))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.UUID, second.UUID)
	assert.Equal(t, 45, f.inventory.available("MILK"), "replay must not reserve again")
}

func TestCreateOrder_WithoutKeyIsNotDeduplicated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, _, err := f.svc.CreateOrder(ctx, request("", line("MILK", 1)))
	require.NoError(t, err)
	b, _, err := f.svc.CreateOrder(ctx, request("", line("MILK", 1)))
	require.NoError(t, err)
	assert.NotEqual(t, a.UUID, b.UUID)
}

func TestCreateOrder_RejectedItemReleasesEarlierReservations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.CreateOrder(ctx, request("k", line("MILK", 10), line("EGGS", 99), line("BREAD", 1)))
	require.Error(t, err)

	var rejected *domain.StockRejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, "EGGS", rejected.SKU)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, CodeInsufficientStock, ErrorCode(err))

	assert.Equal(t, 50, f.inventory.available("MILK"), "MILK reservation must be compensated")
	assert.Equal(t, 10, f.inventory.available("BREAD"), "BREAD must never be reserved")
	assert.Len(t, f.inventory.releaseCalls, 1)

	_, err = f.repo.FindByIdempotencyKey(ctx, "k")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.Empty(t, f.notifier.all())
}

func TestCreateOrder_CompensatesInReverseOrder(t *testing.T) {
	f := newFixture(t)
	f.inventory.reserveErr["BREAD"] = errors.Wrap(domain.ErrInventoryUnavailable, "circuit open")

	_, _, err := f.svc.CreateOrder(context.Background(), request("", line("MILK", 1), line("EGGS", 1), line("BREAD", 1)))
	assert.ErrorIs(t, err, domain.ErrInventoryUnavailable)
	assert.Equal(t, CodeUnavailable, ErrorCode(err))
	assert.Equal(t, []string{"RES_2", "RES_1"}, f.inventory.releaseCalls)
}

func TestCreateOrder_PricingFailures(t *testing.T) {
	t.Run("unknown product", func(t *testing.T) {
		f := newFixture(t)
		_, _, err := f.svc.CreateOrder(context.Background(), request("", line("MILK", 1), line("CAVIAR", 1)))
		assert.ErrorIs(t, err, domain.ErrInvalidOrder)
		assert.Empty(t, f.inventory.reservations)
	})
	t.Run("catalog down", func(t *testing.T) {
		f := newFixture(t)
		f.catalog.err = errors.New("connection refused")
		_, _, err := f.svc.CreateOrder(context.Background(), request("", line("MILK", 1)))
		assert.ErrorIs(t, err, domain.ErrCatalogUnavailable)
		assert.Empty(t, f.inventory.reservations)
	})
	t.Run("bad request", func(t *testing.T) {
		f := newFixture(t)
		_, _, err := f.svc.CreateOrder(context.Background(), request("", line("MILK", 0)))
		assert.Equal(t, CodeBadRequest, ErrorCode(err))
	})
}

func TestCreateOrder_ConcurrentDuplicateKeyReturnsWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	winner, _, err := f.svc.CreateOrder(ctx, request("dup", line("EGGS", 2)))
	require.NoError(t, err)

	racing := &racingRepo{OrderRepository: f.repo}
	svc := NewOrderApplicationService(racing, f.inventory, f.catalog, nil, WithClock(f.clock.Now))

	got, created, err := svc.CreateOrder(ctx, request("dup", line("EGGS", 2)))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, winner.UUID, got.UUID)
	assert.Equal(t, 18, f.inventory.available("EGGS"), "loser's reservation must be released")
}

func TestConfirmPayment_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, _, err := f.svc.CreateOrder(ctx, request("", line("MILK", 1), line("EGGS", 1)))
	require.NoError(t, err)

	paid, err := f.svc.ConfirmPayment(ctx, order.UUID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, paid.Status)

	stored, err := f.repo.FindByUUID(ctx, order.UUID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, stored.Status)
	for _, it := range stored.Items {
		assert.True(t, it.Confirmed)
		assert.Equal(t, "CONFIRMED", f.inventory.statusOf(it.ReservationID))
	}

	_, err = f.svc.ConfirmPayment(ctx, order.UUID)
	assert.ErrorIs(t, err, domain.ErrInvalidOrderState)

	_, err = f.svc.ConfirmPayment(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestConfirmPayment_RejectionCancelsAndReleasesRemaining(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, _, err := f.svc.CreateOrder(ctx, request("", line("MILK", 3), line("EGGS", 2), line("BREAD", 1)))
	require.NoError(t, err)

	eggs := order.Items[1].ReservationID
	f.inventory.confirmErr[eggs] = errors.Wrap(domain.ErrReservationInvalid, "reservation has expired")

	_, err = f.svc.ConfirmPayment(ctx, order.UUID)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidOrderState)
	assert.ErrorIs(t, err, domain.ErrReservationInvalid)

	stored, err := f.repo.FindByUUID(ctx, order.UUID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, stored.Status)
	assert.NotEmpty(t, stored.CancelReason)

	assert.Equal(t, "CONFIRMED", f.inventory.statusOf(order.Items[0].ReservationID))
	assert.Equal(t, "RELEASED", f.inventory.statusOf(eggs))
	assert.Equal(t, "RELEASED", f.inventory.statusOf(order.Items[2].ReservationID))
	assert.Equal(t, []string{order.UUID}, f.inventory.orderRelease)
}

func TestConfirmPayment_TransientFailureKeepsOrderPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, _, err := f.svc.CreateOrder(ctx, request("", line("MILK", 1), line("EGGS", 1)))
	require.NoError(t, err)

	eggs := order.Items[1].ReservationID
	f.inventory.confirmErr[eggs] = errors.New("i/o timeout")

	_, err = f.svc.ConfirmPayment(ctx, order.UUID)
	assert.ErrorIs(t, err, domain.ErrInventoryUnavailable)

	stored, err := f.repo.FindByUUID(ctx, order.UUID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingPayment, stored.Status)
	assert.True(t, stored.Items[0].Confirmed)
	assert.False(t, stored.Items[1].Confirmed)

	delete(f.inventory.confirmErr, eggs)
	calls := f.inventory.confirmCalls
	paid, err := f.svc.ConfirmPayment(ctx, order.UUID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, paid.Status)
	assert.Equal(t, calls+1, f.inventory.confirmCalls, "only the unconfirmed item is retried")
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, _, err := f.svc.CreateOrder(ctx, request("", line("BREAD", 4)))
	require.NoError(t, err)
	require.Equal(t, 6, f.inventory.available("BREAD"))

	cancelled, err := f.svc.CancelOrder(ctx, order.UUID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	assert.Equal(t, "cancelled by customer", cancelled.CancelReason)
	assert.Equal(t, 10, f.inventory.available("BREAD"))

	_, err = f.svc.CancelOrder(ctx, order.UUID, "")
	assert.ErrorIs(t, err, domain.ErrInvalidOrderState)
	assert.Contains(t, f.notifier.all(), domain.EventOrderCancelled+":"+order.UUID)
}

func TestGetOrder(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetOrder(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.Equal(t, CodeNotFound, ErrorCode(err))
}

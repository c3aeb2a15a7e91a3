package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"quickstock/internal/service/order/domain"
)

func newTestRepository(t *testing.T) *OrderRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "orders.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(Models()...))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return NewOrderRepository(db)
}

func newOrder(t *testing.T, key string, customerID, storeID int64, at time.Time) *domain.Order {
	t.Helper()
	o, err := domain.NewOrder(key, customerID, storeID, []domain.Line{{SKU: "MILK", Quantity: 2}, {SKU: "EGGS", Quantity: 1}}, at)
	require.NoError(t, err)
	return o
}

func TestOrderRepository_CreateAndFind(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	o := newOrder(t, "key-1", 7, 1, time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC))
	o.AttachReservation("MILK", "RES_1")
	require.NoError(t, repo.Create(ctx, o))
	assert.NotZero(t, o.ID)

	got, err := repo.FindByUUID(ctx, o.UUID)
	require.NoError(t, err)
	assert.Equal(t, "key-1", got.IdempotencyKey)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "MILK", got.Items[0].SKU)
	assert.Equal(t, "RES_1", got.Items[0].ReservationID)

	byKey, err := repo.FindByIdempotencyKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, o.UUID, byKey.UUID)

	_, err = repo.FindByUUID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	// 空幂等键存为 NULL，不会互相冲突
	require.NoError(t, repo.Create(ctx, newOrder(t, "", 7, 1, time.Now())))
	require.NoError(t, repo.Create(ctx, newOrder(t, "", 7, 1, time.Now())))
}

func TestOrderRepository_UpdateStatusOnlyFromExpectedState(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	o := newOrder(t, "", 7, 1, now)
	require.NoError(t, repo.Create(ctx, o))

	require.NoError(t, repo.MarkItemConfirmed(ctx, o.UUID, "MILK", now))
	require.NoError(t, repo.UpdateStatus(ctx, o.UUID, domain.StatusPendingPayment, domain.StatusPaid, "", now))

	// 支付与超时取消竞争：后到的一方基于过期的状态写入
	err := repo.UpdateStatus(ctx, o.UUID, domain.StatusPendingPayment, domain.StatusCancelled, "payment timeout", now)
	assert.ErrorIs(t, err, domain.ErrInvalidOrderState)
	assert.Contains(t, err.Error(), "is PAID")

	err = repo.UpdateStatus(ctx, "missing", domain.StatusPendingPayment, domain.StatusCancelled, "", now)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	got, err := repo.FindByUUID(ctx, o.UUID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, got.Status)
	assert.Empty(t, got.CancelReason)
	assert.True(t, got.Items[0].Confirmed)
	assert.False(t, got.Items[1].Confirmed)

	assert.ErrorIs(t, repo.MarkItemConfirmed(ctx, "missing", "MILK", now), domain.ErrOrderNotFound)
}

func TestOrderRepository_Queries(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

	var mine []*domain.Order
	for i := 0; i < 3; i++ {
		o := newOrder(t, "", 7, 1, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, repo.Create(ctx, o))
		mine = append(mine, o)
	}
	require.NoError(t, repo.Create(ctx, newOrder(t, "", 8, 2, base)))
	require.NoError(t, repo.UpdateStatus(ctx, mine[0].UUID, domain.StatusPendingPayment, domain.StatusCancelled, "x", base))

	got, err := repo.FindOrders(ctx, domain.OrderFilter{CustomerID: 7, Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, mine[2].UUID, got[0].UUID)
	assert.Len(t, got[0].Items, 2)

	got, err = repo.FindOrders(ctx, domain.OrderFilter{CustomerID: 7, Offset: 2, Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, mine[0].UUID, got[0].UUID)

	got, err = repo.FindOrders(ctx, domain.OrderFilter{StoreID: 1, Status: domain.StatusCancelled, Limit: 20})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, mine[0].UUID, got[0].UUID)

	pending, err := repo.FindPendingBefore(ctx, base.Add(90*time.Second), 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, int64(8), pending[0].CustomerID)
	assert.Equal(t, mine[1].UUID, pending[1].UUID)
}

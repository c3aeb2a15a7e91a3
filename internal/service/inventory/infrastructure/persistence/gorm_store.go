// Package persistence 是库存组件基于 gorm + MySQL 的存储实现。
package persistence

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"quickstock/internal/pkg/database"
	"quickstock/internal/pkg/occ"
	"quickstock/internal/service/inventory/domain"
)

// Models 返回需要自动迁移的表。
func Models() []any {
	return []any{&InventoryItemModel{}, &ReservationModel{}, &StockMovementModel{}}
}

// GormStore 实现 domain.Store；Atomic 对应一个数据库事务。
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Atomic(ctx context.Context, fn func(tx domain.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(repos{db: tx})
	})
}

func (s *GormStore) Items() domain.ItemRepository { return repos{db: s.db}.Items() }
func (s *GormStore) Reservations() domain.ReservationRepository {
	return repos{db: s.db}.Reservations()
}
func (s *GormStore) Movements() domain.MovementRepository { return repos{db: s.db}.Movements() }

type repos struct{ db *gorm.DB }

func (r repos) Items() domain.ItemRepository               { return &itemRepo{db: r.db} }
func (r repos) Reservations() domain.ReservationRepository { return &reservationRepo{db: r.db} }
func (r repos) Movements() domain.MovementRepository       { return &movementRepo{db: r.db} }

type itemRepo struct{ db *gorm.DB }

func (r *itemRepo) FindBySKUAndStore(ctx context.Context, sku string, storeID int64) (*domain.InventoryItem, error) {
	var m InventoryItemModel
	err := r.db.WithContext(ctx).Where("sku = ? AND store_id = ?", sku, storeID).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(domain.ErrInventoryNotFound, "sku %s store %d", sku, storeID)
		}
		return nil, errors.Wrap(err, "query inventory item")
	}
	return toDomainItem(&m), nil
}

func (r *itemRepo) FindByID(ctx context.Context, id int64) (*domain.InventoryItem, error) {
	var m InventoryItemModel
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(domain.ErrInventoryNotFound, "item %d", id)
		}
		return nil, errors.Wrap(err, "query inventory item")
	}
	return toDomainItem(&m), nil
}

func (r *itemRepo) ListByStore(ctx context.Context, storeID int64, skus []string) ([]domain.InventoryItem, error) {
	q := r.db.WithContext(ctx).Where("store_id = ?", storeID)
	if len(skus) > 0 {
		q = q.Where("sku IN ?", skus)
	}
	var models []InventoryItemModel
	if err := q.Order("sku").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list inventory items")
	}
	return toDomainItems(models), nil
}

func (r *itemRepo) ListLowStock(ctx context.Context, storeID int64) ([]domain.InventoryItem, error) {
	var models []InventoryItemModel
	err := r.db.WithContext(ctx).
		Where("store_id = ? AND current_stock - reserved_stock < safety_stock", storeID).
		Order("sku").Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "list low stock items")
	}
	return toDomainItems(models), nil
}

func (r *itemRepo) ListNeedingReplenishment(ctx context.Context, storeID int64) ([]domain.InventoryItem, error) {
	var models []InventoryItemModel
	err := r.db.WithContext(ctx).
		Where("store_id = ? AND current_stock * 2 <= safety_stock * 3", storeID).
		Order("sku").Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "list items needing replenishment")
	}
	return toDomainItems(models), nil
}

func (r *itemRepo) Create(ctx context.Context, item *domain.InventoryItem) error {
	m := fromDomainItem(item)
	m.ID, m.Version = 0, 0
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		if database.IsDuplicateKey(err) {
			return errors.Wrapf(domain.ErrDuplicateItem, "sku %s store %d", item.SKU, item.StoreID)
		}
		return errors.Wrap(err, "insert inventory item")
	}
	item.ID, item.Version = m.ID, m.Version
	return nil
}

// UpdateIfVersion 使用 UPDATE ... WHERE id = ? AND version = ? 实现比较并交换。
func (r *itemRepo) UpdateIfVersion(ctx context.Context, item *domain.InventoryItem, expectedVersion int64) error {
	res := r.db.WithContext(ctx).Model(&InventoryItemModel{}).
		Where("id = ? AND version = ?", item.ID, expectedVersion).
		Updates(map[string]any{
			"current_stock":  item.CurrentStock,
			"reserved_stock": item.ReservedStock,
			"safety_stock":   item.SafetyStock,
			"max_stock":      item.MaxStock,
			"last_updated":   item.LastUpdated,
			"version":        expectedVersion + 1,
		})
	if res.Error != nil {
		return errors.Wrap(res.Error, "update inventory item")
	}
	if res.RowsAffected == 0 {
		if _, err := r.FindByID(ctx, item.ID); err != nil {
			return err
		}
		return errors.Wrapf(occ.ErrConflict, "item %d: version %d is stale", item.ID, expectedVersion)
	}
	item.Version = expectedVersion + 1
	return nil
}

func toDomainItems(models []InventoryItemModel) []domain.InventoryItem {
	out := make([]domain.InventoryItem, len(models))
	for i := range models {
		out[i] = *toDomainItem(&models[i])
	}
	return out
}

type reservationRepo struct{ db *gorm.DB }

func (r *reservationRepo) Create(ctx context.Context, res *domain.Reservation) error {
	return errors.Wrap(r.db.WithContext(ctx).Create(fromDomainReservation(res)).Error, "insert reservation")
}

func (r *reservationRepo) FindByID(ctx context.Context, id string) (*domain.Reservation, error) {
	var m ReservationModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(domain.ErrReservationNotFound, "reservation %s", id)
		}
		return nil, errors.Wrap(err, "query reservation")
	}
	return toDomainReservation(&m), nil
}

func (r *reservationRepo) FindPendingByOrderReference(ctx context.Context, orderRef string) ([]domain.Reservation, error) {
	var models []ReservationModel
	err := r.db.WithContext(ctx).
		Where("order_reference = ? AND status = ?", orderRef, domain.ReservationPending).
		Order("created_at").Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "list reservations by order")
	}
	return toDomainReservations(models), nil
}

func (r *reservationRepo) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	q := r.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", domain.ReservationPending, now).
		Order("expires_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []ReservationModel
	if err := q.Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list expired reservations")
	}
	return toDomainReservations(models), nil
}

func (r *reservationRepo) TransitionStatus(ctx context.Context, id string, from, to domain.ReservationStatus, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&ReservationModel{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to, "updated_at": at})
	if res.Error != nil {
		return errors.Wrap(res.Error, "update reservation status")
	}
	if res.RowsAffected == 0 {
		if _, err := r.FindByID(ctx, id); err != nil {
			return err
		}
		return errors.Wrapf(occ.ErrConflict, "reservation %s is no longer %s", id, from)
	}
	return nil
}

func toDomainReservations(models []ReservationModel) []domain.Reservation {
	out := make([]domain.Reservation, len(models))
	for i := range models {
		out[i] = *toDomainReservation(&models[i])
	}
	return out
}

type movementRepo struct{ db *gorm.DB }

func (r *movementRepo) Append(ctx context.Context, m *domain.StockMovement) error {
	return errors.Wrap(r.db.WithContext(ctx).Create(fromDomainMovement(m)).Error, "insert stock movement")
}

func (r *movementRepo) ListByItem(ctx context.Context, itemID int64) ([]domain.StockMovement, error) {
	var models []StockMovementModel
	if err := r.db.WithContext(ctx).Where("inventory_item_id = ?", itemID).Order("created_at").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list stock movements")
	}
	out := make([]domain.StockMovement, len(models))
	for i := range models {
		out[i] = toDomainMovement(&models[i])
	}
	return out, nil
}

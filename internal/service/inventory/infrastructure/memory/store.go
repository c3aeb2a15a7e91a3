// Package memory 提供库存组件的内存实现，语义与 MySQL 实现一致（版本号条件写入、事务回滚）。
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"quickstock/internal/pkg/occ"
	"quickstock/internal/service/inventory/domain"
)

type state struct {
	items        map[int64]domain.InventoryItem
	reservations map[string]domain.Reservation
	movements    []domain.StockMovement
	nextItemID   int64
}

func (s *state) clone() *state {
	c := &state{
		items:        make(map[int64]domain.InventoryItem, len(s.items)),
		reservations: make(map[string]domain.Reservation, len(s.reservations)),
		movements:    append([]domain.StockMovement(nil), s.movements...),
		nextItemID:   s.nextItemID,
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.reservations {
		c.reservations[k] = v
	}
	return c
}

// Store 是线程安全的内存库存存储。
type Store struct {
	mu sync.RWMutex
	st *state
}

func NewStore() *Store {
	return &Store{st: &state{
		items:        map[int64]domain.InventoryItem{},
		reservations: map[string]domain.Reservation{},
	}}
}

// Atomic 持有写锁执行 fn；fn 返回错误时恢复到执行前的快照。
func (s *Store) Atomic(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&txView{s: s, locked: true}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *Store) Items() domain.ItemRepository               { return &itemRepo{txView{s: s}} }
func (s *Store) Reservations() domain.ReservationRepository { return &reservationRepo{txView{s: s}} }
func (s *Store) Movements() domain.MovementRepository       { return &movementRepo{txView{s: s}} }

// txView 在 Atomic 内部（已持有写锁）和外部（需要自行加读/写锁）两种模式下工作。
type txView struct {
	s      *Store
	locked bool
}

func (v *txView) Items() domain.ItemRepository               { return &itemRepo{*v} }
func (v *txView) Reservations() domain.ReservationRepository { return &reservationRepo{*v} }
func (v *txView) Movements() domain.MovementRepository       { return &movementRepo{*v} }

func (v txView) read(fn func(st *state)) {
	if !v.locked {
		v.s.mu.RLock()
		defer v.s.mu.RUnlock()
	}
	fn(v.s.st)
}

func (v txView) write(fn func(st *state) error) error {
	if !v.locked {
		v.s.mu.Lock()
		defer v.s.mu.Unlock()
	}
	return fn(v.s.st)
}

type itemRepo struct{ txView }

func (r *itemRepo) FindBySKUAndStore(_ context.Context, sku string, storeID int64) (*domain.InventoryItem, error) {
	var found *domain.InventoryItem
	r.read(func(st *state) {
		for _, it := range st.items {
			if it.SKU == sku && it.StoreID == storeID {
				it := it
				found = &it
				return
			}
		}
	})
	if found == nil {
		return nil, errors.Wrapf(domain.ErrInventoryNotFound, "sku %s store %d", sku, storeID)
	}
	return found, nil
}

func (r *itemRepo) FindByID(_ context.Context, id int64) (*domain.InventoryItem, error) {
	var found *domain.InventoryItem
	r.read(func(st *state) {
		if it, ok := st.items[id]; ok {
			found = &it
		}
	})
	if found == nil {
		return nil, errors.Wrapf(domain.ErrInventoryNotFound, "item %d", id)
	}
	return found, nil
}

func (r *itemRepo) ListByStore(_ context.Context, storeID int64, skus []string) ([]domain.InventoryItem, error) {
	want := make(map[string]bool, len(skus))
	for _, s := range skus {
		want[s] = true
	}
	var out []domain.InventoryItem
	r.read(func(st *state) {
		for _, it := range st.items {
			if it.StoreID == storeID && (len(want) == 0 || want[it.SKU]) {
				out = append(out, it)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (r *itemRepo) ListLowStock(ctx context.Context, storeID int64) ([]domain.InventoryItem, error) {
	all, err := r.ListByStore(ctx, storeID, nil)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, it := range all {
		if it.IsLowStock() {
			out = append(out, it)
		}
	}
	return out, nil
}

func (r *itemRepo) ListNeedingReplenishment(ctx context.Context, storeID int64) ([]domain.InventoryItem, error) {
	all, err := r.ListByStore(ctx, storeID, nil)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, it := range all {
		if it.NeedsReplenishment() {
			out = append(out, it)
		}
	}
	return out, nil
}

func (r *itemRepo) Create(_ context.Context, item *domain.InventoryItem) error {
	return r.write(func(st *state) error {
		for _, it := range st.items {
			if it.SKU == item.SKU && it.StoreID == item.StoreID {
				return errors.Wrapf(domain.ErrDuplicateItem, "sku %s store %d", item.SKU, item.StoreID)
			}
		}
		st.nextItemID++
		item.ID = st.nextItemID
		item.Version = 0
		st.items[item.ID] = *item
		return nil
	})
}

func (r *itemRepo) UpdateIfVersion(_ context.Context, item *domain.InventoryItem, expectedVersion int64) error {
	return r.write(func(st *state) error {
		stored, ok := st.items[item.ID]
		if !ok {
			return errors.Wrapf(domain.ErrInventoryNotFound, "item %d", item.ID)
		}
		if stored.Version != expectedVersion {
			return errors.Wrapf(occ.ErrConflict, "item %d: expected version %d, stored %d", item.ID, expectedVersion, stored.Version)
		}
		item.Version = expectedVersion + 1
		st.items[item.ID] = *item
		return nil
	})
}

type reservationRepo struct{ txView }

func (r *reservationRepo) Create(_ context.Context, res *domain.Reservation) error {
	return r.write(func(st *state) error {
		if _, ok := st.reservations[res.ID]; ok {
			return errors.Errorf("reservation %s already exists", res.ID)
		}
		st.reservations[res.ID] = *res
		return nil
	})
}

func (r *reservationRepo) FindByID(_ context.Context, id string) (*domain.Reservation, error) {
	var found *domain.Reservation
	r.read(func(st *state) {
		if res, ok := st.reservations[id]; ok {
			found = &res
		}
	})
	if found == nil {
		return nil, errors.Wrapf(domain.ErrReservationNotFound, "reservation %s", id)
	}
	return found, nil
}

func (r *reservationRepo) FindPendingByOrderReference(_ context.Context, orderRef string) ([]domain.Reservation, error) {
	var out []domain.Reservation
	r.read(func(st *state) {
		for _, res := range st.reservations {
			if res.OrderReference == orderRef && res.Status == domain.ReservationPending {
				out = append(out, res)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *reservationRepo) FindExpiredPending(_ context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	var out []domain.Reservation
	r.read(func(st *state) {
		for _, res := range st.reservations {
			if res.Status == domain.ReservationPending && res.ExpiresAt.Before(now) {
				out = append(out, res)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *reservationRepo) TransitionStatus(_ context.Context, id string, from, to domain.ReservationStatus, at time.Time) error {
	return r.write(func(st *state) error {
		res, ok := st.reservations[id]
		if !ok {
			return errors.Wrapf(domain.ErrReservationNotFound, "reservation %s", id)
		}
		if res.Status != from {
			return errors.Wrapf(occ.ErrConflict, "reservation %s is %s, expected %s", id, res.Status, from)
		}
		res.Status = to
		res.UpdatedAt = at
		st.reservations[id] = res
		return nil
	})
}

type movementRepo struct{ txView }

func (r *movementRepo) Append(_ context.Context, m *domain.StockMovement) error {
	return r.write(func(st *state) error {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		st.movements = append(st.movements, *m)
		return nil
	})
}

func (r *movementRepo) ListByItem(_ context.Context, itemID int64) ([]domain.StockMovement, error) {
	var out []domain.StockMovement
	r.read(func(st *state) {
		for _, m := range st.movements {
			if m.InventoryItemID == itemID {
				out = append(out, m)
			}
		}
	})
	return out, nil
}

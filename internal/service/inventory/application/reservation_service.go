// internal/service/inventory/application/reservation_service.go
package application

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"quickstock/internal/pkg/logger"
	"quickstock/internal/pkg/occ"
	"quickstock/internal/service/inventory/domain"
)

const (
	DefaultReservationTTL = 5 * time.Minute

	actorInventory = "inventory-service"
	actorSweeper   = "expiry-sweeper"
)

type ReserveCommand struct {
	SKU            string `json:"sku"`
	StoreID        int64  `json:"storeId"`
	Quantity       int    `json:"quantity"`
	OrderReference string `json:"orderReference"`
}

type ReservationResult struct {
	ReservationID string    `json:"reservationId"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// ReservationManager 负责预占的状态机：创建、确认、释放、过期。
// 每个操作都是针对单个库存项的一次乐观锁循环。
type ReservationManager struct {
	store  domain.Store
	ledger *StockMovementLedger
	occ    *occ.Controller
	alerts *LowStockAlertPublisher
	cache  ItemCache
	ttl    time.Duration
	now    func() time.Time
	tracer trace.Tracer
}

type Option func(*ReservationManager)

func WithTTL(ttl time.Duration) Option {
	return func(m *ReservationManager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *ReservationManager) { m.now = now }
}

func WithController(c *occ.Controller) Option {
	return func(m *ReservationManager) { m.occ = c }
}

func WithAlerts(p *LowStockAlertPublisher) Option {
	return func(m *ReservationManager) { m.alerts = p }
}

func WithCache(c ItemCache) Option {
	return func(m *ReservationManager) { m.cache = c }
}

func WithTracer(t trace.Tracer) Option {
	return func(m *ReservationManager) { m.tracer = t }
}

func NewReservationManager(store domain.Store, ledger *StockMovementLedger, opts ...Option) *ReservationManager {
	m := &ReservationManager{
		store:  store,
		ledger: ledger,
		occ:    occ.NewController(),
		ttl:    DefaultReservationTTL,
		now:    time.Now,
		tracer: otel.Tracer("inventory-service"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Reserve 在 (sku, store) 上占用 quantity 个可用库存，不做部分预占。
func (m *ReservationManager) Reserve(ctx context.Context, cmd ReserveCommand) (res *ReservationResult, err error) {
	ctx, span := m.tracer.Start(ctx, "inventory.Reserve", trace.WithAttributes(
		attribute.String("sku", cmd.SKU),
		attribute.Int64("store.id", cmd.StoreID),
		attribute.Int("quantity", cmd.Quantity),
		attribute.String("order.reference", cmd.OrderReference),
	))
	defer m.finish(span, "reserve", time.Now(), &err)

	if cmd.Quantity <= 0 {
		return nil, errors.Wrapf(domain.ErrInvalidQuantity, "got %d", cmd.Quantity)
	}

	var (
		before   domain.InventoryItem
		created  *domain.Reservation
		movement domain.StockMovement
	)
	after, err := run(ctx, m.occ, "reserve",
		func(ctx context.Context) (domain.InventoryItem, error) {
			item, err := m.store.Items().FindBySKUAndStore(ctx, cmd.SKU, cmd.StoreID)
			if err != nil {
				return domain.InventoryItem{}, err
			}
			return *item, nil
		},
		func(ctx context.Context, cur domain.InventoryItem) (domain.InventoryItem, error) {
			held, err := m.heldFor(ctx, cmd)
			if err != nil {
				return cur, err
			}
			if held != nil {
				created = held
				return cur, errAlreadySettled
			}
			now := m.now()
			next, err := cur.Reserve(cmd.Quantity, now)
			if err != nil {
				return cur, err
			}
			r := domain.NewReservation(cur, cmd.Quantity, cmd.OrderReference, now, m.ttl)
			mv := domain.StockMovement{
				InventoryItemID: cur.ID,
				MovementType:    domain.MovementReserve,
				Quantity:        cmd.Quantity,
				ReferenceType:   domain.ReferenceReservation,
				ReferenceID:     r.ID,
				Reason:          "Reserved for order " + cmd.OrderReference,
				CreatedBy:       actorInventory,
				CreatedAt:       now,
			}
			err = m.store.Atomic(ctx, func(tx domain.Tx) error {
				if err := tx.Items().UpdateIfVersion(ctx, &next, cur.Version); err != nil {
					return err
				}
				if err := m.ledger.Record(ctx, tx, &mv); err != nil {
					return err
				}
				return tx.Reservations().Create(ctx, r)
			})
			if err != nil {
				return cur, err
			}
			before, created, movement = cur, r, mv
			return next, nil
		})
	if errors.Is(err, errAlreadySettled) {
		span.SetAttributes(attribute.String("reservation.id", created.ID), attribute.Bool("replayed", true))
		logger.Ctx(ctx).Info().Str("reservationId", created.ID).Str("orderReference", cmd.OrderReference).
			Str("sku", cmd.SKU).Msg("reserve replayed, returning existing reservation")
		return &ReservationResult{ReservationID: created.ID, ExpiresAt: created.ExpiresAt}, nil
	}
	if err != nil {
		return nil, err
	}

	m.afterCommit(ctx, before, after, movement)
	span.SetAttributes(attribute.String("reservation.id", created.ID))
	logger.Ctx(ctx).Info().Str("reservationId", created.ID).Str("sku", cmd.SKU).Int64("storeId", cmd.StoreID).
		Int("quantity", cmd.Quantity).Int("available", after.Available()).Msg("stock reserved")
	return &ReservationResult{ReservationID: created.ID, ExpiresAt: created.ExpiresAt}, nil
}

// heldFor 返回同一订单在同一 (sku, store) 上仍为 PENDING 的预占。
// 数量不同的重复请求视为参数错误。
func (m *ReservationManager) heldFor(ctx context.Context, cmd ReserveCommand) (*domain.Reservation, error) {
	if cmd.OrderReference == "" {
		return nil, nil
	}
	pending, err := m.store.Reservations().FindPendingByOrderReference(ctx, cmd.OrderReference)
	if err != nil {
		return nil, errors.Wrapf(err, "find reservations of order %s", cmd.OrderReference)
	}
	for i := range pending {
		r := pending[i]
		if r.SKU != cmd.SKU || r.StoreID != cmd.StoreID {
			continue
		}
		if r.Quantity != cmd.Quantity {
			return nil, errors.Wrapf(domain.ErrInvalidQuantity,
				"order %s already holds %d of %s, got %d", cmd.OrderReference, r.Quantity, cmd.SKU, cmd.Quantity)
		}
		return &r, nil
	}
	return nil, nil
}

// Confirm 把预占转为销售：reserved 与 current 同时扣减。
// 对已经 CONFIRMED 的预占再次确认直接返回成功。
func (m *ReservationManager) Confirm(ctx context.Context, reservationID string) (err error) {
	ctx, span := m.tracer.Start(ctx, "inventory.Confirm", trace.WithAttributes(attribute.String("reservation.id", reservationID)))
	defer m.finish(span, "confirm", time.Now(), &err)

	return m.settle(ctx, settlement{
		op:            "confirm",
		reservationID: reservationID,
		target:        domain.ReservationConfirmed,
		replayable:    true,
		check:         func(r *domain.Reservation, now time.Time) error { return r.CanConfirm(now) },
		apply: func(item domain.InventoryItem, qty int, now time.Time) (domain.InventoryItem, error) {
			return item.ConsumeReserved(qty, now)
		},
		movementType:  domain.MovementOutbound,
		referenceType: domain.ReferenceSale,
		reason:        "Order confirmed",
		actor:         actorInventory,
	})
}

// Release 由调用方主动释放预占，库存回到可用池。重复释放同样是空操作。
func (m *ReservationManager) Release(ctx context.Context, reservationID string) (err error) {
	ctx, span := m.tracer.Start(ctx, "inventory.Release", trace.WithAttributes(attribute.String("reservation.id", reservationID)))
	defer m.finish(span, "release", time.Now(), &err)

	return m.settle(ctx, settlement{
		op:            "release",
		reservationID: reservationID,
		target:        domain.ReservationReleased,
		replayable:    true,
		check:         func(r *domain.Reservation, _ time.Time) error { return r.CanRelease() },
		apply: func(item domain.InventoryItem, qty int, now time.Time) (domain.InventoryItem, error) {
			return item.Unreserve(qty, now)
		},
		movementType:  domain.MovementUnreserve,
		referenceType: domain.ReferenceReservation,
		reason:        "Reservation released",
		actor:         actorInventory,
	})
}

// Expire 只供过期清理任务调用：效果与释放相同，但状态记为 EXPIRED。
func (m *ReservationManager) Expire(ctx context.Context, reservationID string) (err error) {
	ctx, span := m.tracer.Start(ctx, "inventory.Expire", trace.WithAttributes(attribute.String("reservation.id", reservationID)))
	defer m.finish(span, "expire", time.Now(), &err)

	return m.settle(ctx, settlement{
		op:            "expire",
		reservationID: reservationID,
		target:        domain.ReservationExpired,
		check:         func(r *domain.Reservation, now time.Time) error { return r.CanExpire(now) },
		apply: func(item domain.InventoryItem, qty int, now time.Time) (domain.InventoryItem, error) {
			return item.Unreserve(qty, now)
		},
		movementType:  domain.MovementUnreserve,
		referenceType: domain.ReferenceReservation,
		reason:        "Reservation expired",
		actor:         actorSweeper,
	})
}

// ReleaseByOrderReference 释放某个订单下所有仍处于 PENDING 的预占，返回释放数量。
// 并发下已被确认或过期的预占会被跳过。
func (m *ReservationManager) ReleaseByOrderReference(ctx context.Context, orderRef string) (int, error) {
	pending, err := m.store.Reservations().FindPendingByOrderReference(ctx, orderRef)
	if err != nil {
		return 0, errors.Wrapf(err, "find reservations of order %s", orderRef)
	}
	released := 0
	var firstErr error
	for _, r := range pending {
		err := m.Release(ctx, r.ID)
		switch {
		case err == nil:
			released++
		case errors.Is(err, domain.ErrInvalidReservation):
		default:
			logger.Ctx(ctx).Error().Err(err).Str("reservationId", r.ID).Str("orderReference", orderRef).
				Msg("failed to release reservation")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return released, firstErr
}

// errAlreadySettled 表示请求的效果已经落库，本次调用不再产生任何写入。
var errAlreadySettled = errors.New("already settled")

type settlement struct {
	op            string
	reservationID string
	target        domain.ReservationStatus
	// replayable 为 true 时，预占已处于 target 状态视为成功。
	replayable    bool
	check         func(r *domain.Reservation, now time.Time) error
	apply         func(item domain.InventoryItem, qty int, now time.Time) (domain.InventoryItem, error)
	movementType  domain.MovementType
	referenceType domain.ReferenceType
	reason        string
	actor         string
}

type settleSnapshot struct {
	reservation domain.Reservation
	item        domain.InventoryItem
}

// settle 是确认、释放、过期的公共流程：
// 重新读取预占与库存项 -> 校验状态 -> 在同一事务中条件更新库存项、条件流转预占状态、追加流水。
func (m *ReservationManager) settle(ctx context.Context, s settlement) error {
	var (
		before   domain.InventoryItem
		movement domain.StockMovement
	)
	after, err := run(ctx, m.occ, s.op,
		func(ctx context.Context) (settleSnapshot, error) {
			r, err := m.store.Reservations().FindByID(ctx, s.reservationID)
			if err != nil {
				return settleSnapshot{}, err
			}
			item, err := m.store.Items().FindByID(ctx, r.InventoryItemID)
			if err != nil {
				return settleSnapshot{}, err
			}
			return settleSnapshot{reservation: *r, item: *item}, nil
		},
		func(ctx context.Context, cur settleSnapshot) (settleSnapshot, error) {
			now := m.now()
			r := cur.reservation
			if s.replayable && r.Status == s.target {
				return cur, errAlreadySettled
			}
			if err := s.check(&r, now); err != nil {
				return cur, err
			}
			next, err := s.apply(cur.item, r.Quantity, now)
			if err != nil {
				return cur, err
			}
			mv := domain.StockMovement{
				InventoryItemID: cur.item.ID,
				MovementType:    s.movementType,
				Quantity:        r.Quantity,
				ReferenceType:   s.referenceType,
				ReferenceID:     r.ID,
				Reason:          s.reason,
				CreatedBy:       s.actor,
				CreatedAt:       now,
			}
			err = m.store.Atomic(ctx, func(tx domain.Tx) error {
				if err := tx.Items().UpdateIfVersion(ctx, &next, cur.item.Version); err != nil {
					return err
				}
				if err := tx.Reservations().TransitionStatus(ctx, r.ID, domain.ReservationPending, s.target, now); err != nil {
					return err
				}
				return m.ledger.Record(ctx, tx, &mv)
			})
			if err != nil {
				return cur, err
			}
			before, movement = cur.item, mv
			r.Status = s.target
			return settleSnapshot{reservation: r, item: next}, nil
		})
	if errors.Is(err, errAlreadySettled) {
		logger.Ctx(ctx).Info().Str("reservationId", s.reservationID).Str("status", string(s.target)).
			Msg("reservation already settled, nothing to do")
		return nil
	}
	if err != nil {
		return err
	}

	m.afterCommit(ctx, before, after.item, movement)
	logger.Ctx(ctx).Info().Str("reservationId", s.reservationID).Str("status", string(s.target)).
		Str("sku", after.item.SKU).Int("available", after.item.Available()).Msg("reservation settled")
	return nil
}

// run 包装 occ.Run，并为每次冲突打点。
func run[T any](ctx context.Context, c *occ.Controller, op string, load func(context.Context) (T, error), apply func(context.Context, T) (T, error)) (T, error) {
	return occ.Run(ctx, c, load, func(ctx context.Context, cur T) (T, error) {
		next, err := apply(ctx, cur)
		if errors.Is(err, occ.ErrConflict) {
			casConflicts.WithLabelValues(op).Inc()
			trace.SpanFromContext(ctx).AddEvent("optimistic lock conflict")
		}
		return next, err
	})
}

func (m *ReservationManager) afterCommit(ctx context.Context, before, after domain.InventoryItem, movements ...domain.StockMovement) {
	if m.cache != nil {
		if err := m.cache.Evict(ctx, after.Key()); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("item", after.Key().String()).Msg("cache eviction failed")
		}
	}
	m.ledger.Announce(ctx, movements...)
	m.alerts.Observe(ctx, before, after)
}

func (m *ReservationManager) finish(span trace.Span, op string, start time.Time, errp *error) {
	err := *errp
	reservationOps.WithLabelValues(op, outcomeOf(err)).Inc()
	reservationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrorCode(err))
	}
	span.End()
}

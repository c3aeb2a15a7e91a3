// internal/service/inventory/application/sweeper.go
package application

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"quickstock/internal/pkg/logger"
	"quickstock/internal/service/inventory/domain"
)

// ReservationSweeper 周期性地把超时仍为 PENDING 的预占置为 EXPIRED，把库存还给可用池。
type ReservationSweeper struct {
	manager   *ReservationManager
	interval  time.Duration
	batchSize int
	lock      SweepLock
}

func NewReservationSweeper(manager *ReservationManager, interval time.Duration, batchSize int, lock SweepLock) *ReservationSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &ReservationSweeper{manager: manager, interval: interval, batchSize: batchSize, lock: lock}
}

// Start 启动定时轮询，直到 ctx 被取消。
func (s *ReservationSweeper) Start(ctx context.Context) error {
	logger.Ctx(ctx).Info().Dur("interval", s.interval).Int("batch", s.batchSize).Msg("✅ reservation sweeper started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				logger.Ctx(ctx).Error().Err(err).Msg("reservation sweep failed")
			}
		case <-ctx.Done():
			logger.Ctx(ctx).Info().Msg("🛑 reservation sweeper stopped")
			return nil
		}
	}
}

// SweepOnce 处理一批过期预占，返回成功置为 EXPIRED 的数量。
// 单条失败不会中断整批；被并发确认或释放的预占会被跳过。
func (s *ReservationSweeper) SweepOnce(ctx context.Context) (int, error) {
	if s.lock != nil {
		ok, err := s.lock.TryLock()
		if err != nil {
			return 0, errors.Wrap(err, "acquire sweep lock")
		}
		if !ok {
			logger.Ctx(ctx).Debug().Msg("another instance is sweeping, skip this round")
			return 0, nil
		}
		defer func() {
			if err := s.lock.Unlock(); err != nil {
				logger.Ctx(ctx).Warn().Err(err).Msg("release sweep lock failed")
			}
		}()
	}

	ctx, span := s.manager.tracer.Start(ctx, "inventory.SweepExpiredReservations")
	defer span.End()

	now := s.manager.now()
	expired, err := s.manager.store.Reservations().FindExpiredPending(ctx, now, s.batchSize)
	if err != nil {
		span.RecordError(err)
		return 0, errors.Wrap(err, "find expired reservations")
	}
	span.SetAttributes(attribute.Int("candidates", len(expired)))

	done := 0
	for _, r := range expired {
		err := s.manager.Expire(ctx, r.ID)
		switch {
		case err == nil:
			done++
			sweptReservations.WithLabelValues("expired").Inc()
		case errors.Is(err, domain.ErrInvalidReservation):
			sweptReservations.WithLabelValues("skipped").Inc()
		default:
			sweptReservations.WithLabelValues("failed").Inc()
			logger.Ctx(ctx).Error().Err(err).Str("reservationId", r.ID).Msg("failed to expire reservation")
		}
	}
	if len(expired) > 0 {
		logger.Ctx(ctx).Info().Int("expired", done).Int("candidates", len(expired)).Msg("reservation sweep finished")
	}
	return done, nil
}

// cmd/inventory-service/main.go
package main

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"quickstock/internal/pkg/bootstrap"
	"quickstock/internal/pkg/database"
	"quickstock/internal/pkg/logger"
	"quickstock/internal/pkg/mq"
	"quickstock/internal/pkg/occ"
	"quickstock/internal/service/inventory/application"
	"quickstock/internal/service/inventory/domain"
	"quickstock/internal/service/inventory/infrastructure/cache"
	"quickstock/internal/service/inventory/infrastructure/memory"
	"quickstock/internal/service/inventory/infrastructure/messaging"
	"quickstock/internal/service/inventory/infrastructure/persistence"
	"quickstock/internal/service/inventory/infrastructure/realtime"
	"quickstock/internal/service/inventory/interfaces"
	"quickstock/internal/zookeeper"
)

const (
	serviceName = "inventory-service"
	defaultPort = 8081
)

func main() {
	cfg, err := bootstrap.LoadConfig(serviceName, defaultPort)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(serviceName, cfg.App.LogLevel)
	ic := cfg.Inventory

	var (
		store      domain.Store
		onShutdown []func(ctx context.Context) error
	)
	switch ic.StoreDriver {
	case "memory":
		store = memory.NewStore()
		log.Warn().Msg("using in-memory inventory store, data will not survive restarts")
	default:
		db, err := database.Open(cfg.Infra.MySQL.DSN, persistence.Models()...)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect mysql")
		}
		store = persistence.NewGormStore(db)
		onShutdown = append(onShutdown, func(context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})
	}

	hub := realtime.NewAlertHub()
	sinks := []application.AlertSink{hub}
	var movementPublisher application.MovementPublisher
	if len(cfg.Infra.Kafka.Brokers) > 0 {
		alertWriter := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.AlertTopic)
		movementWriter := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.MovementTopic)
		sinks = append(sinks, messaging.NewKafkaAlertSink(alertWriter))
		movementPublisher = messaging.NewKafkaMovementPublisher(movementWriter)
		for _, w := range []*kafka.Writer{alertWriter, movementWriter} {
			w := w
			onShutdown = append(onShutdown, func(context.Context) error { return w.Close() })
		}
	}

	rule, err := application.NewAlertRule(ic.AlertRule)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid low stock alert rule")
	}
	alerts := application.NewLowStockAlertPublisher(rule, ic.AlertTimeout, sinks...)
	ledger := application.NewStockMovementLedger(store, movementPublisher)

	opts := []application.Option{
		application.WithTTL(ic.ReservationTTL),
		application.WithAlerts(alerts),
		application.WithController(occ.NewController(
			occ.WithMaxAttempts(ic.MaxCASAttempts),
			occ.WithBackoff(ic.CASBackoff),
		)),
	}
	if cfg.Infra.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Infra.Redis.Addr,
			Password: cfg.Infra.Redis.Password,
			DB:       cfg.Infra.Redis.DB,
		})
		opts = append(opts, application.WithCache(cache.NewRedisItemCache(rdb, cfg.Infra.Redis.CacheTTL)))
		onShutdown = append(onShutdown, func(context.Context) error { return rdb.Close() })
	}
	manager := application.NewReservationManager(store, ledger, opts...)
	stock := application.NewStockManager(manager, application.StockDefaults{
		SafetyStock: ic.DefaultSafetyStock,
		MaxStock:    ic.DefaultMaxStock,
	})

	// 多实例部署时由 zookeeper 选出唯一的清理者
	var lock application.SweepLock
	if len(cfg.Infra.Zookeeper.Servers) > 0 {
		conn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, cfg.Infra.Zookeeper.SessionTimeout)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect zookeeper")
		}
		zkLock, err := zookeeper.NewDistributedLock(conn, "reservation-sweeper")
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create sweep lock")
		}
		lock = zkLock
		onShutdown = append(onShutdown, func(context.Context) error { conn.Close(); return nil })
	}
	sweeper := application.NewReservationSweeper(manager, ic.SweepInterval, ic.SweepBatchSize, lock)
	background := []func(ctx context.Context) error{sweeper.Start, hub.Run}

	// 订单取消事件到达后立即释放该订单的预占，不必等待过期清理
	if ic.ConsumeOrderEvents && len(cfg.Infra.Kafka.Brokers) > 0 {
		reader := mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.NotificationTopic, cfg.Infra.Kafka.ConsumerGroup)
		background = append(background, messaging.NewOrderEventConsumer(reader, manager).Run)
		onShutdown = append(onShutdown, func(context.Context) error { return reader.Close() })
	}

	onShutdown = append([]func(context.Context) error{func(context.Context) error {
		alerts.Wait()
		return nil
	}}, onShutdown...)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Config:      cfg,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			interfaces.NewInventoryHandler(manager, stock, ledger, hub.ServeWS).RegisterRoutes(appCtx.Mux)
		},
		Background: background,
		OnShutdown: onShutdown,
	})
}

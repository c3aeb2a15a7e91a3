// cmd/order-service/main.go
package main

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	"quickstock/internal/pkg/bootstrap"
	"quickstock/internal/pkg/database"
	"quickstock/internal/pkg/httpclient"
	"quickstock/internal/pkg/logger"
	"quickstock/internal/pkg/mq"
	"quickstock/internal/pkg/nacos"
	"quickstock/internal/service/order/application"
	"quickstock/internal/service/order/domain"
	"quickstock/internal/service/order/infrastructure/adapter"
	"quickstock/internal/service/order/infrastructure/memory"
	"quickstock/internal/service/order/infrastructure/persistence"
	"quickstock/internal/service/order/interfaces"
	"quickstock/internal/service/order/port"
)

const (
	serviceName = "order-service"
	defaultPort = 8082
)

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	cfg, err := bootstrap.LoadConfig(serviceName, defaultPort)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(serviceName, cfg.App.LogLevel)
	oc := cfg.Order

	var (
		repo       domain.OrderRepository
		onShutdown []func(ctx context.Context) error
	)
	switch oc.StoreDriver {
	case "memory":
		repo = memory.NewOrderRepository()
		log.Warn().Msg("using in-memory order repository, data will not survive restarts")
	default:
		db, err := database.Open(cfg.Infra.MySQL.DSN, persistence.Models()...)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect mysql")
		}
		repo = persistence.NewOrderRepository(db)
		onShutdown = append(onShutdown, func(context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})
	}

	// 先走 nacos 服务发现，失败时回落到静态地址
	static := httpclient.StaticResolver{
		oc.InventoryService: oc.InventoryURL,
		oc.CatalogService:   oc.CatalogURL,
	}
	var resolver httpclient.Resolver = static
	if cfg.Infra.Nacos.Addrs != "" {
		discovery, err := nacos.NewNacosClient(cfg.Infra.Nacos.Addrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize nacos discovery")
		}
		resolver = httpclient.ChainResolver{discovery, static}
	}

	tracer := otel.Tracer(serviceName)
	cc := oc.Client
	clientOpts := []httpclient.Option{
		httpclient.WithCallTimeout(cc.CallTimeout),
		httpclient.WithRetry(cc.MaxRetries, cc.InitialBackoff, cc.MaxBackoff),
		httpclient.WithBreaker(cc.BreakerFailures, cc.BreakerOpenFor, cc.BreakerHalfOpen),
	}
	inventory := adapter.NewInventoryHTTPAdapter(httpclient.NewClient(tracer, oc.InventoryService, resolver, clientOpts...))
	catalog := adapter.NewCatalogHTTPAdapter(httpclient.NewClient(tracer, oc.CatalogService, resolver, clientOpts...))

	var notifier port.NotificationProducer
	if len(cfg.Infra.Kafka.Brokers) > 0 {
		writer := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.NotificationTopic)
		notifier = adapter.NewNotificationKafkaAdapter(writer)
		onShutdown = append(onShutdown, func(context.Context) error { return writer.Close() })
	}

	svc := application.NewOrderApplicationService(repo, inventory, catalog, notifier,
		application.WithTracer(tracer),
		application.WithDeliveryFee(oc.DeliveryFee),
		application.WithProcessingTimeout(oc.ProcessTimeout),
	)
	sweeper := application.NewOrderSweeper(svc, oc.PaymentTTL, oc.SweepInterval, oc.SweepBatchSize, oc.ActiveRelease)

	var handlerOpts []interfaces.HandlerOption
	if oc.CreateRateLimit > 0 {
		handlerOpts = append(handlerOpts, interfaces.WithCreateLimiter(rate.NewLimiter(rate.Limit(oc.CreateRateLimit), max(oc.CreateRateBurst, 1))))
	}

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Config:      cfg,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			interfaces.NewOrderHandler(svc, handlerOpts...).RegisterRoutes(appCtx.Mux)
		},
		Background: []func(ctx context.Context) error{sweeper.Start},
		OnShutdown: onShutdown,
	})
}

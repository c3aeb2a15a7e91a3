// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config 是所有服务共享的配置结构，各服务只读取自己关心的部分。
type Config struct {
	App       AppConfig       `yaml:"app"`
	Infra     InfraConfig     `yaml:"infra"`
	Inventory InventoryConfig `yaml:"inventory"`
	Order     OrderConfig     `yaml:"order"`
	Catalog   CatalogConfig   `yaml:"catalog"`
}

type AppConfig struct {
	Name     string `yaml:"name"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"logLevel"`
}

type InfraConfig struct {
	Jaeger struct {
		Endpoint string `yaml:"endpoint"`
	} `yaml:"jaeger"`
	MySQL struct {
		DSN string `yaml:"dsn"`
	} `yaml:"mysql"`
	Redis struct {
		Addr     string        `yaml:"addr"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		CacheTTL time.Duration `yaml:"cacheTTL"`
	} `yaml:"redis"`
	Kafka struct {
		Brokers           []string `yaml:"brokers"`
		AlertTopic        string   `yaml:"alertTopic"`
		MovementTopic     string   `yaml:"movementTopic"`
		NotificationTopic string   `yaml:"notificationTopic"`
		ConsumerGroup     string   `yaml:"consumerGroup"`
	} `yaml:"kafka"`
	Nacos struct {
		Addrs     string `yaml:"addrs"`
		Namespace string `yaml:"namespace"`
		Group     string `yaml:"group"`
	} `yaml:"nacos"`
	Zookeeper struct {
		Servers        []string      `yaml:"servers"`
		SessionTimeout time.Duration `yaml:"sessionTimeout"`
	} `yaml:"zookeeper"`
}

type InventoryConfig struct {
	// StoreDriver 为 "mysql" 或 "memory"
	StoreDriver        string        `yaml:"storeDriver"`
	ReservationTTL     time.Duration `yaml:"reservationTTL"`
	SweepInterval      time.Duration `yaml:"sweepInterval"`
	SweepBatchSize     int           `yaml:"sweepBatchSize"`
	MaxCASAttempts     int           `yaml:"maxCASAttempts"`
	CASBackoff         time.Duration `yaml:"casBackoff"`
	DefaultSafetyStock int           `yaml:"defaultSafetyStock"`
	DefaultMaxStock    int           `yaml:"defaultMaxStock"`
	AlertRule          string        `yaml:"alertRule"`
	AlertTimeout       time.Duration `yaml:"alertTimeout"`

	// ConsumeOrderEvents 为 true 时订阅订单通知，订单取消后立即释放预占
	ConsumeOrderEvents bool `yaml:"consumeOrderEvents"`
}

type OrderConfig struct {
	StoreDriver      string        `yaml:"storeDriver"`
	PaymentTTL       time.Duration `yaml:"paymentTTL"`
	SweepInterval    time.Duration `yaml:"sweepInterval"`
	SweepBatchSize   int           `yaml:"sweepBatchSize"`
	ActiveRelease    bool          `yaml:"activeRelease"`
	ProcessTimeout   time.Duration `yaml:"processTimeout"`
	InventoryService string        `yaml:"inventoryService"`
	InventoryURL     string        `yaml:"inventoryURL"`
	CatalogService   string        `yaml:"catalogService"`
	CatalogURL       string        `yaml:"catalogURL"`
	DeliveryFee      int64         `yaml:"deliveryFee"`
	Client           ClientConfig  `yaml:"client"`
	// CreateRateLimit 为每秒允许的下单请求数，0 表示不限流。
	CreateRateLimit float64 `yaml:"createRateLimit"`
	CreateRateBurst int     `yaml:"createRateBurst"`
}

type CatalogConfig struct {
	ProductsFile string `yaml:"productsFile"`
}

// ClientConfig 描述跨服务调用的超时、重试与熔断参数。
type ClientConfig struct {
	CallTimeout     time.Duration `yaml:"callTimeout"`
	MaxRetries      uint64        `yaml:"maxRetries"`
	InitialBackoff  time.Duration `yaml:"initialBackoff"`
	MaxBackoff      time.Duration `yaml:"maxBackoff"`
	BreakerFailures uint32        `yaml:"breakerFailures"`
	BreakerOpenFor  time.Duration `yaml:"breakerOpenFor"`
	BreakerHalfOpen uint32        `yaml:"breakerHalfOpen"`
}

// DefaultConfig 返回所有配置项的默认值。
func DefaultConfig() Config {
	var c Config
	c.App.LogLevel = "info"
	c.Infra.Jaeger.Endpoint = "http://localhost:14268/api/traces"
	c.Infra.MySQL.DSN = "root:root@tcp(localhost:3306)/quickstock?parseTime=true&loc=UTC"
	c.Infra.Redis.Addr = "localhost:6379"
	c.Infra.Redis.CacheTTL = 30 * time.Second
	c.Infra.Kafka.Brokers = []string{"localhost:9092"}
	c.Infra.Kafka.AlertTopic = "low-stock-alerts"
	c.Infra.Kafka.MovementTopic = "stock-movements"
	c.Infra.Kafka.NotificationTopic = "notifications"
	c.Infra.Kafka.ConsumerGroup = "inventory-service"
	c.Infra.Nacos.Group = "DEFAULT_GROUP"
	c.Infra.Zookeeper.SessionTimeout = 10 * time.Second

	c.Inventory.StoreDriver = "mysql"
	c.Inventory.ReservationTTL = 5 * time.Minute
	c.Inventory.SweepInterval = 60 * time.Second
	c.Inventory.SweepBatchSize = 50
	c.Inventory.MaxCASAttempts = 3
	c.Inventory.CASBackoff = 5 * time.Millisecond
	c.Inventory.DefaultSafetyStock = 10
	c.Inventory.DefaultMaxStock = 1000
	c.Inventory.AlertRule = "available < safety_stock"
	c.Inventory.AlertTimeout = 2 * time.Second
	c.Inventory.ConsumeOrderEvents = true

	c.Order.StoreDriver = "mysql"
	c.Order.PaymentTTL = 5 * time.Minute
	c.Order.SweepInterval = 60 * time.Second
	c.Order.SweepBatchSize = 50
	c.Order.ProcessTimeout = 10 * time.Second
	c.Order.InventoryService = "inventory-service"
	c.Order.InventoryURL = "http://localhost:8081"
	c.Order.CatalogService = "catalog-service"
	c.Order.CatalogURL = "http://localhost:8083"
	c.Order.DeliveryFee = 1500
	c.Order.CreateRateLimit = 50
	c.Order.CreateRateBurst = 100
	c.Order.Client = ClientConfig{
		CallTimeout:     2 * time.Second,
		MaxRetries:      2,
		InitialBackoff:  100 * time.Millisecond,
		MaxBackoff:      time.Second,
		BreakerFailures: 5,
		BreakerOpenFor:  30 * time.Second,
		BreakerHalfOpen: 1,
	}
	return c
}

var currentConfig atomic.Pointer[Config]

// GetCurrentConfig 返回最近一次加载的配置；未加载时返回默认值。
func GetCurrentConfig() *Config {
	if c := currentConfig.Load(); c != nil {
		return c
	}
	c := DefaultConfig()
	return &c
}

// LoadConfig 依次应用默认值、YAML 文件（CONFIG_PATH，可选）和环境变量覆盖。
func LoadConfig(serviceName string, defaultPort int) (*Config, error) {
	cfg := DefaultConfig()
	cfg.App.Name = serviceName
	cfg.App.Port = defaultPort

	if path := getEnv("CONFIG_PATH", ""); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config file %s", path)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	currentConfig.Store(&cfg)
	return &cfg, nil
}

func applyEnv(c *Config) error {
	c.App.LogLevel = getEnv("LOG_LEVEL", c.App.LogLevel)
	c.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", c.Infra.Jaeger.Endpoint)
	c.Infra.MySQL.DSN = getEnv("MYSQL_DSN", c.Infra.MySQL.DSN)
	c.Infra.Redis.Addr = getEnv("REDIS_ADDR", c.Infra.Redis.Addr)
	c.Infra.Nacos.Addrs = getEnv("NACOS_SERVER_ADDRS", c.Infra.Nacos.Addrs)
	c.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", c.Infra.Nacos.Namespace)
	c.Infra.Nacos.Group = getEnv("NACOS_GROUP", c.Infra.Nacos.Group)
	if v := getEnv("KAFKA_BROKERS", ""); v != "" {
		c.Infra.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := getEnv("ZK_SERVERS", ""); v != "" {
		c.Infra.Zookeeper.Servers = strings.Split(v, ",")
	}
	c.Inventory.StoreDriver = getEnv("INVENTORY_STORE_DRIVER", c.Inventory.StoreDriver)
	c.Inventory.AlertRule = getEnv("LOW_STOCK_ALERT_RULE", c.Inventory.AlertRule)
	c.Order.StoreDriver = getEnv("ORDER_STORE_DRIVER", c.Order.StoreDriver)
	c.Order.InventoryURL = getEnv("INVENTORY_SERVICE_URL", c.Order.InventoryURL)
	c.Order.CatalogURL = getEnv("CATALOG_SERVICE_URL", c.Order.CatalogURL)
	c.Catalog.ProductsFile = getEnv("CATALOG_PRODUCTS_FILE", c.Catalog.ProductsFile)

	var err error
	if c.App.Port, err = getEnvInt("PORT", c.App.Port); err != nil {
		return err
	}
	if c.Inventory.ReservationTTL, err = getEnvDuration("RESERVATION_TTL", c.Inventory.ReservationTTL); err != nil {
		return err
	}
	if c.Order.PaymentTTL, err = getEnvDuration("ORDER_PAYMENT_TTL", c.Order.PaymentTTL); err != nil {
		return err
	}
	if c.Order.CreateRateBurst, err = getEnvInt("ORDER_CREATE_RATE_BURST", c.Order.CreateRateBurst); err != nil {
		return err
	}
	if v := getEnv("ORDER_CREATE_RATE_LIMIT", ""); v != "" {
		if c.Order.CreateRateLimit, err = strconv.ParseFloat(v, 64); err != nil {
			return errors.Wrap(err, "ORDER_CREATE_RATE_LIMIT")
		}
	}
	if v := getEnv("ORDER_ACTIVE_RELEASE", ""); v != "" {
		if c.Order.ActiveRelease, err = strconv.ParseBool(v); err != nil {
			return errors.Wrap(err, "ORDER_ACTIVE_RELEASE")
		}
	}
	return nil
}

// getEnv 从环境变量中读取配置，不存在时返回 fallback。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", key)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", key)
	}
	return d, nil
}

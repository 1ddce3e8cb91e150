package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

const (
	EnvPrefix = "MANGETOUT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "MANGETOUT_DB_DSN"
	EnvDBHost = "MANGETOUT_DB_HOST"
	EnvDBUser = "MANGETOUT_DB_USER"
	EnvDBName = "MANGETOUT_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Platform     PlatformConfig
	Fees         FeesConfig
	Settlement   SettlementConfig
	Payments     PaymentsConfig
	Geocode      GeocodeConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MANGETOUT_APP_ENV" required:"true"`
	Port         string `envconfig:"MANGETOUT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"MANGETOUT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MANGETOUT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MANGETOUT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"MANGETOUT_DB_DSN"`
	Driver string `envconfig:"MANGETOUT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MANGETOUT_DB_HOST"`
	LegacyPort     int    `envconfig:"MANGETOUT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MANGETOUT_DB_USER"`
	LegacyPassword string `envconfig:"MANGETOUT_DB_PASSWORD"`
	LegacyName     string `envconfig:"MANGETOUT_DB_NAME"`
	LegacySSLMode  string `envconfig:"MANGETOUT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MANGETOUT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MANGETOUT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MANGETOUT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MANGETOUT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MANGETOUT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MANGETOUT_REDIS_ADDR"`
	Password     string        `envconfig:"MANGETOUT_REDIS_PASSWORD"`
	DB           int           `envconfig:"MANGETOUT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MANGETOUT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MANGETOUT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MANGETOUT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MANGETOUT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MANGETOUT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"MANGETOUT_AUTO_MIGRATE" default:"false"`
}

// PlatformConfig holds the marketplace-wide financial defaults. Restaurant
// rows snapshot the commission rate at creation; these values never reach an
// existing order retroactively.
type PlatformConfig struct {
	DefaultCommissionRate  decimal.Decimal `envconfig:"MANGETOUT_PLATFORM_DEFAULT_COMMISSION_RATE" default:"20"`
	DeliveryCommissionRate decimal.Decimal `envconfig:"MANGETOUT_PLATFORM_DELIVERY_COMMISSION_RATE" default:"25"`
	RefundWindow           time.Duration   `envconfig:"MANGETOUT_PLATFORM_REFUND_WINDOW" default:"48h"`
}

type FeesConfig struct {
	BaseFee             decimal.Decimal `envconfig:"MANGETOUT_FEES_BASE" default:"2.50"`
	PerKm               decimal.Decimal `envconfig:"MANGETOUT_FEES_PER_KM" default:"0.80"`
	Cap                 decimal.Decimal `envconfig:"MANGETOUT_FEES_CAP" default:"10.00"`
	DiscountThreshold   decimal.Decimal `envconfig:"MANGETOUT_FEES_DISCOUNT_THRESHOLD" default:"25.00"`
	DiscountFactor      decimal.Decimal `envconfig:"MANGETOUT_FEES_DISCOUNT_FACTOR" default:"0.80"`
	FreeThreshold       decimal.Decimal `envconfig:"MANGETOUT_FEES_FREE_THRESHOLD" default:"50.00"`
	MaxDeliveryRadiusKm float64         `envconfig:"MANGETOUT_FEES_MAX_RADIUS_KM" default:"10"`
}

type SettlementConfig struct {
	Interval time.Duration `envconfig:"MANGETOUT_SETTLEMENT_INTERVAL" default:"24h"`
}

type PaymentsConfig struct {
	BaseURL string        `envconfig:"MANGETOUT_PAYMENTS_BASE_URL"`
	APIKey  string        `envconfig:"MANGETOUT_PAYMENTS_API_KEY"`
	Timeout time.Duration `envconfig:"MANGETOUT_PAYMENTS_TIMEOUT" default:"15s"`
}

type GeocodeConfig struct {
	BaseURL string        `envconfig:"MANGETOUT_GEOCODE_BASE_URL"`
	APIKey  string        `envconfig:"MANGETOUT_GEOCODE_API_KEY"`
	Timeout time.Duration `envconfig:"MANGETOUT_GEOCODE_TIMEOUT" default:"10s"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"MANGETOUT_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	NotificationTopic        string `envconfig:"MANGETOUT_PUBSUB_NOTIFICATION_TOPIC" default:"mgt-notification-events"`
	NotificationSubscription string `envconfig:"MANGETOUT_PUBSUB_NOTIFICATION_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"MANGETOUT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"MANGETOUT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"MANGETOUT_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}

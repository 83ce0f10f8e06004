package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Coordinator  CoordinatorConfig
	Outbox       OutboxConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Kafka        KafkaConfig
	Cron         CronConfig
	Ops          OpsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = DBDriverSQLite
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Outbox.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Coordinator.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PICKNEST_APP_ENV" required:"true"`
	LogLevel     string `envconfig:"PICKNEST_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PICKNEST_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"PICKNEST_LOG_FORMAT"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"PICKNEST_SERVICE_KIND" default:"worker"`
}

type DBConfig struct {
	DSN    string `envconfig:"PICKNEST_DB_DSN"`
	Driver string `envconfig:"PICKNEST_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PICKNEST_DB_HOST"`
	LegacyPort     int    `envconfig:"PICKNEST_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PICKNEST_DB_USER"`
	LegacyPassword string `envconfig:"PICKNEST_DB_PASSWORD"`
	LegacyName     string `envconfig:"PICKNEST_DB_NAME"`
	LegacySSLMode  string `envconfig:"PICKNEST_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PICKNEST_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PICKNEST_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PICKNEST_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PICKNEST_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// LockTimeout bounds how long a statement waits on a row lock (Postgres SET LOCAL lock_timeout).
	LockTimeout time.Duration `envconfig:"PICKNEST_DB_LOCK_TIMEOUT" default:"2s"`
}

func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(db.Driver, DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"PICKNEST_REDIS_URL"`
	Address      string        `envconfig:"PICKNEST_REDIS_ADDR"`
	Password     string        `envconfig:"PICKNEST_REDIS_PASSWORD"`
	DB           int           `envconfig:"PICKNEST_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PICKNEST_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PICKNEST_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PICKNEST_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PICKNEST_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PICKNEST_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a Redis endpoint is configured.
func (r RedisConfig) Enabled() bool {
	return r.URL != "" || r.Address != ""
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"PICKNEST_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"PICKNEST_AUTO_MIGRATE" default:"false"`
}

type CoordinatorConfig struct {
	LockBackend        string        `envconfig:"PICKNEST_COORDINATOR_LOCK_BACKEND" default:"local"`
	LockWait           time.Duration `envconfig:"PICKNEST_COORDINATOR_LOCK_WAIT" default:"3s"`
	LockTTL            time.Duration `envconfig:"PICKNEST_COORDINATOR_LOCK_TTL" default:"30s"`
	LockPollInterval   time.Duration `envconfig:"PICKNEST_COORDINATOR_LOCK_POLL" default:"25ms"`
	MaxLockRetries     uint64        `envconfig:"PICKNEST_COORDINATOR_MAX_LOCK_RETRIES" default:"3"`
	RetryBase          time.Duration `envconfig:"PICKNEST_COORDINATOR_RETRY_BASE" default:"50ms"`
	IdempotencyTTL     time.Duration `envconfig:"PICKNEST_COORDINATOR_IDEMPOTENCY_TTL" default:"24h"`
	SettlementCurrency string        `envconfig:"PICKNEST_SETTLEMENT_CURRENCY" default:"USD"`
}

func (c CoordinatorConfig) validate() error {
	switch c.LockBackend {
	case LockBackendLocal, LockBackendRedis:
	default:
		return fmt.Errorf("%s must be %q or %q", EnvCoordinatorLockBackend, LockBackendLocal, LockBackendRedis)
	}
	if c.LockWait <= 0 {
		return fmt.Errorf("%s must be positive", EnvCoordinatorLockWait)
	}
	return nil
}

type OutboxConfig struct {
	BatchSize      int    `envconfig:"PICKNEST_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int    `envconfig:"PICKNEST_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int    `envconfig:"PICKNEST_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Sink           string `envconfig:"PICKNEST_OUTBOX_SINK" default:"pubsub"`

	OrdersTopic    string `envconfig:"PICKNEST_OUTBOX_ORDERS_TOPIC" default:"picknest-orders"`
	PaymentsTopic  string `envconfig:"PICKNEST_OUTBOX_PAYMENTS_TOPIC" default:"picknest-payments"`
	InventoryTopic string `envconfig:"PICKNEST_OUTBOX_INVENTORY_TOPIC" default:"picknest-inventory"`
}

func (o OutboxConfig) validate() error {
	switch o.Sink {
	case OutboxSinkPubSub, OutboxSinkKafka:
		return nil
	default:
		return fmt.Errorf("%s must be %q or %q", EnvOutboxSink, OutboxSinkPubSub, OutboxSinkKafka)
	}
}

type GCPConfig struct {
	ProjectID              string `envconfig:"PICKNEST_GCP_PROJECT_ID"`
	ApplicationCredentials string `envconfig:"PICKNEST_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	// VerifyTopics makes the publisher check topic existence before the first batch.
	VerifyTopics bool `envconfig:"PICKNEST_PUBSUB_VERIFY_TOPICS" default:"true"`
}

type KafkaConfig struct {
	Brokers      []string      `envconfig:"PICKNEST_KAFKA_BROKERS" default:"localhost:9092"`
	ClientID     string        `envconfig:"PICKNEST_KAFKA_CLIENT_ID" default:"picknest-outbox"`
	BatchTimeout time.Duration `envconfig:"PICKNEST_KAFKA_BATCH_TIMEOUT" default:"50ms"`
	RequiredAcks int           `envconfig:"PICKNEST_KAFKA_REQUIRED_ACKS" default:"-1"`
}

type CronConfig struct {
	Interval          time.Duration `envconfig:"PICKNEST_CRON_INTERVAL" default:"15m"`
	LockTTL           time.Duration `envconfig:"PICKNEST_CRON_LOCK_TTL" default:"1h"`
	PendingOrderTTL   time.Duration `envconfig:"PICKNEST_CRON_PENDING_ORDER_TTL" default:"72h"`
	PendingOrderBatch int           `envconfig:"PICKNEST_CRON_PENDING_ORDER_BATCH" default:"100"`
	LowStockBatch     int           `envconfig:"PICKNEST_CRON_LOW_STOCK_BATCH" default:"200"`
	OutboxRetention   time.Duration `envconfig:"PICKNEST_CRON_OUTBOX_RETENTION" default:"720h"`
	DLQRetention      time.Duration `envconfig:"PICKNEST_CRON_DLQ_RETENTION" default:"2160h"`
}

type OpsConfig struct {
	Addr string `envconfig:"PICKNEST_OPS_ADDR" default:":9090"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		db.DSN = defaultSQLiteDSN
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

package config

const EnvPrefix = "PICKNEST"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	LockBackendLocal = "local"
	LockBackendRedis = "redis"

	OutboxSinkPubSub = "pubsub"
	OutboxSinkKafka  = "kafka"
)

const defaultSQLiteDSN = "file:picknest.db?_busy_timeout=5000&_foreign_keys=on"

const (
	EnvAppEnv   = "PICKNEST_APP_ENV"
	EnvLogLevel = "PICKNEST_LOG_LEVEL"

	EnvDBDSN     = "PICKNEST_DB_DSN"
	EnvDBDriver  = "PICKNEST_DB_DRIVER"
	EnvDBHost    = "PICKNEST_DB_HOST"
	EnvDBUser    = "PICKNEST_DB_USER"
	EnvDBName    = "PICKNEST_DB_NAME"
	EnvUseSQLite = "PICKNEST_USE_SQLITE"

	EnvRedisURL = "PICKNEST_REDIS_URL"

	EnvCoordinatorLockBackend = "PICKNEST_COORDINATOR_LOCK_BACKEND"
	EnvCoordinatorLockWait    = "PICKNEST_COORDINATOR_LOCK_WAIT"
	EnvSettlementCurrency     = "PICKNEST_SETTLEMENT_CURRENCY"

	EnvOutboxSink   = "PICKNEST_OUTBOX_SINK"
	EnvKafkaBrokers = "PICKNEST_KAFKA_BROKERS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

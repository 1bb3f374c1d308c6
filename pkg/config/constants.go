package config

const EnvPrefix = "WELFARE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"

	DefaultSQLiteDSN = "file:welfare.db?_busy_timeout=5000"
)

const (
	EnvAppEnv   = "WELFARE_APP_ENV"
	EnvPort     = "WELFARE_APP_PORT"
	EnvLogLevel = "WELFARE_LOG_LEVEL"

	EnvDBDSN    = "WELFARE_DB_DSN"
	EnvDBDriver = "WELFARE_DB_DRIVER"
	EnvDBHost   = "WELFARE_DB_HOST"
	EnvDBUser   = "WELFARE_DB_USER"
	EnvDBName   = "WELFARE_DB_NAME"

	EnvRedisURL  = "WELFARE_REDIS_URL"
	EnvRedisAddr = "WELFARE_REDIS_ADDR"

	EnvEngineLockBackend     = "WELFARE_ENGINE_LOCK_BACKEND"
	EnvEngineLockWaitTimeout = "WELFARE_ENGINE_LOCK_WAIT_TIMEOUT"
	EnvEngineMaxRetries      = "WELFARE_ENGINE_MAX_RETRIES"

	EnvAuthSecret = "WELFARE_AUTH_SECRET"
	EnvAuthIssuer = "WELFARE_AUTH_ISSUER"

	EnvGCPProjectID      = "WELFARE_GCP_PROJECT_ID"
	EnvPubSubDomainTopic = "WELFARE_PUBSUB_DOMAIN_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

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
	Engine       EngineConfig
	Auth         AuthConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Engine.validate(cfg.Redis); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"WELFARE_APP_ENV" required:"true"`
	Port         string `envconfig:"WELFARE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"WELFARE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"WELFARE_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"WELFARE_LOG_FORMAT" default:"json"`

	CORSAllowedOrigins []string `envconfig:"WELFARE_CORS_ALLOWED_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"WELFARE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"WELFARE_DB_DSN"`
	Driver string `envconfig:"WELFARE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"WELFARE_DB_HOST"`
	LegacyPort     int    `envconfig:"WELFARE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"WELFARE_DB_USER"`
	LegacyPassword string `envconfig:"WELFARE_DB_PASSWORD"`
	LegacyName     string `envconfig:"WELFARE_DB_NAME"`
	LegacySSLMode  string `envconfig:"WELFARE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"WELFARE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"WELFARE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"WELFARE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"WELFARE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"WELFARE_DB_SLOW_QUERY" default:"500ms"`
}

// IsSQLite reports whether the configured driver is the embedded sqlite one.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(db.Driver, DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"WELFARE_REDIS_URL"`
	Address      string        `envconfig:"WELFARE_REDIS_ADDR"`
	Password     string        `envconfig:"WELFARE_REDIS_PASSWORD"`
	DB           int           `envconfig:"WELFARE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"WELFARE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"WELFARE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"WELFARE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"WELFARE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"WELFARE_REDIS_WRITE_TIMEOUT" default:"5s"`
	Namespace    string        `envconfig:"WELFARE_REDIS_NAMESPACE" default:"welfare"`
}

// Enabled reports whether any redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type EngineConfig struct {
	LockBackend     string        `envconfig:"WELFARE_ENGINE_LOCK_BACKEND" default:"memory"`
	LockWaitTimeout time.Duration `envconfig:"WELFARE_ENGINE_LOCK_WAIT_TIMEOUT" default:"2s"`
	LockTTL         time.Duration `envconfig:"WELFARE_ENGINE_LOCK_TTL" default:"30s"`
	LockPollEvery   time.Duration `envconfig:"WELFARE_ENGINE_LOCK_POLL_INTERVAL" default:"25ms"`
	MaxRetries      int           `envconfig:"WELFARE_ENGINE_MAX_RETRIES" default:"5"`
}

func (e EngineConfig) validate(redis RedisConfig) error {
	switch strings.ToLower(e.LockBackend) {
	case LockBackendMemory:
	case LockBackendRedis:
		if !redis.Enabled() {
			return fmt.Errorf("%s=redis requires %s or %s", EnvEngineLockBackend, EnvRedisURL, EnvRedisAddr)
		}
	default:
		return fmt.Errorf("unsupported %s %q", EnvEngineLockBackend, e.LockBackend)
	}
	if e.MaxRetries <= 0 {
		return fmt.Errorf("%s must be positive", EnvEngineMaxRetries)
	}
	if e.LockWaitTimeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvEngineLockWaitTimeout)
	}
	return nil
}

type AuthConfig struct {
	Secret            string `envconfig:"WELFARE_AUTH_SECRET" required:"true"`
	Issuer            string `envconfig:"WELFARE_AUTH_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"WELFARE_AUTH_EXPIRATION_MINUTES" default:"60"`
}

// TokenTTL returns the actor token lifetime configured in minutes.
func (a AuthConfig) TokenTTL() time.Duration {
	if a.ExpirationMinutes <= 0 {
		return 0
	}
	return time.Duration(a.ExpirationMinutes) * time.Minute
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"WELFARE_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"WELFARE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"WELFARE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"WELFARE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DomainTopic        string `envconfig:"WELFARE_PUBSUB_DOMAIN_TOPIC" default:"welfare-domain-events"`
	DomainSubscription string `envconfig:"WELFARE_PUBSUB_DOMAIN_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"WELFARE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"WELFARE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"WELFARE_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Lease          time.Duration `envconfig:"WELFARE_OUTBOX_LEASE" default:"30s"`
	Concurrency    int           `envconfig:"WELFARE_OUTBOX_CONCURRENCY" default:"8"`
}

type CronConfig struct {
	Interval            time.Duration `envconfig:"WELFARE_CRON_INTERVAL" default:"1h"`
	LockTTL             time.Duration `envconfig:"WELFARE_CRON_LOCK_TTL" default:"2h"`
	JobTimeout          time.Duration `envconfig:"WELFARE_CRON_JOB_TIMEOUT" default:"10m"`
	OutboxRetentionDays int           `envconfig:"WELFARE_CRON_OUTBOX_RETENTION_DAYS" default:"30"`
	DLQRetentionDays    int           `envconfig:"WELFARE_CRON_DLQ_RETENTION_DAYS" default:"90"`
	RequestExpiryDays   int           `envconfig:"WELFARE_CRON_REQUEST_EXPIRY_DAYS" default:"30"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		db.DSN = DefaultSQLiteDSN
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

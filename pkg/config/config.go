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
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Negotiation  NegotiationConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		return &cfg, nil
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadClient reads only the settings needed by API consumers such as
// thread-watch, which never talk to the database directly.
func LoadClient() (*ClientConfig, error) {
	var cfg ClientConfig
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing client config: %w", err)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"BIDROOM_APP_ENV" required:"true"`
	Port         string `envconfig:"BIDROOM_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"BIDROOM_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"BIDROOM_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"BIDROOM_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"BIDROOM_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"BIDROOM_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"BIDROOM_DB_DSN"`
	Driver string `envconfig:"BIDROOM_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BIDROOM_DB_HOST"`
	LegacyPort     int    `envconfig:"BIDROOM_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BIDROOM_DB_USER"`
	LegacyPassword string `envconfig:"BIDROOM_DB_PASSWORD"`
	LegacyName     string `envconfig:"BIDROOM_DB_NAME"`
	LegacySSLMode  string `envconfig:"BIDROOM_DB_SSLMODE" default:"disable"`

	SQLitePath string `envconfig:"BIDROOM_SQLITE_PATH" default:"file:bidroom.db?_busy_timeout=5000"`

	MaxOpenConns    int           `envconfig:"BIDROOM_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BIDROOM_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BIDROOM_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BIDROOM_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"BIDROOM_DB_SLOW_QUERY_THRESHOLD" default:"200ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BIDROOM_REDIS_URL" required:"true"`
	Address      string        `envconfig:"BIDROOM_REDIS_ADDR"`
	Password     string        `envconfig:"BIDROOM_REDIS_PASSWORD"`
	DB           int           `envconfig:"BIDROOM_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BIDROOM_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BIDROOM_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BIDROOM_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BIDROOM_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BIDROOM_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"BIDROOM_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"BIDROOM_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"BIDROOM_JWT_EXPIRATION_MINUTES" required:"true"`
	// Leeway absorbs clock skew between the identity service and this one.
	Leeway time.Duration `envconfig:"BIDROOM_JWT_LEEWAY" default:"30s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"BIDROOM_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"BIDROOM_AUTO_MIGRATE" default:"false"`
}

// NegotiationConfig tunes the thread store.
type NegotiationConfig struct {
	HistoryPageSize int `envconfig:"BIDROOM_NEGOTIATION_HISTORY_PAGE_SIZE" default:"100"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"BIDROOM_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"BIDROOM_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"BIDROOM_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	NegotiationTopic string `envconfig:"BIDROOM_PUBSUB_NEGOTIATION_TOPIC" default:"bidroom-negotiation-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"BIDROOM_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"BIDROOM_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"BIDROOM_OUTBOX_MAX_ATTEMPTS" default:"10"`
	// MetricsAddr serves /metrics for the publisher when set, e.g. ":9102".
	MetricsAddr string `envconfig:"BIDROOM_OUTBOX_METRICS_ADDR"`
}

// RateLimitConfig throttles mutating API calls. A zero limit disables it.
type RateLimitConfig struct {
	Window        time.Duration `envconfig:"BIDROOM_RATE_LIMIT_WINDOW" default:"1m"`
	WritesPerUser int           `envconfig:"BIDROOM_RATE_LIMIT_WRITES_PER_USER" default:"120"`
	WritesPerIP   int           `envconfig:"BIDROOM_RATE_LIMIT_WRITES_PER_IP" default:"600"`
}

// ClientConfig configures API consumers of the negotiation endpoints.
type ClientConfig struct {
	BaseURL         string        `envconfig:"BIDROOM_CLIENT_BASE_URL" default:"http://localhost:8080"`
	Token           string        `envconfig:"BIDROOM_CLIENT_TOKEN"`
	PollInterval    time.Duration `envconfig:"BIDROOM_NEGOTIATION_POLL_INTERVAL" default:"10s"`
	FreshnessWindow time.Duration `envconfig:"BIDROOM_NEGOTIATION_FRESHNESS_WINDOW" default:"30s"`
	RequestTimeout  time.Duration `envconfig:"BIDROOM_NEGOTIATION_REQUEST_TIMEOUT" default:"12s"`
	LogLevel        string        `envconfig:"BIDROOM_LOG_LEVEL" default:"info"`
	LogFormat       string        `envconfig:"BIDROOM_LOG_FORMAT" default:"json"`
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

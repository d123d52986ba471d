package config

import (
	"errors"
	"fmt"
	"net/mail"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"identity-service/internal/ipmatch"
	"identity-service/internal/util"
)

// ErrInvalidConfig marks a fatal startup misconfiguration. The process
// must refuse to serve rather than run with a partial security setup.
var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Environment string

	Server        ServerConfig
	Logging       LoggingConfig
	Postgres      PostgresConfig
	Redis         RedisConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
	Kafka         KafkaConfig
	KMS           KMSConfig
	Hashing       HashingConfig
	Bucketing     BucketingConfig
	Auth          AuthConfig
	Admin         AdminConfig
	Throttle      ThrottleConfig
	Audit         AuditConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	Email        string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type PostgresConfig struct {
	URL            string
	MaxConns       int
	MigrateOnStart bool
}

type RedisConfig struct {
	URL         string
	Password    string
	DB          int
	PoolSize    int
	TLSCAFile   string
	TLSCertFile string
	TLSKeyFile  string
}

type ClickhouseConfig struct {
	URL       string
	Database  string
	Username  string
	Password  string
	TLSCAFile string
}

type ElasticsearchConfig struct {
	URL      string
	Username string
	Password string
}

type KafkaConfig struct {
	Brokers           []string
	CodeDeliveryTopic string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
}

type BucketingConfig struct {
	EventBuckets int
}

// AuthConfig carries every knob of the authentication core. Values are
// read once here and injected; nothing in the request path touches the
// environment.
type AuthConfig struct {
	JWTSigningSecret   string
	JWTIssuer          string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	PrivilegedTokenTTL time.Duration
	CodeTTL            time.Duration
	CodeMaxAttempts    int
	MaxFailedLogins    int
	LockoutWindow      time.Duration
}

// AdminConfig describes the operator identity seeded at startup.
type AdminConfig struct {
	LoginIdentifier   string
	Password          string
	AllowedIPs        string
	DeliveryAddresses []string
}

type ThrottleConfig struct {
	Enabled bool
	Limit   int
	Window  time.Duration
}

type AuditConfig struct {
	BufferSize      int
	BatchSize       int
	FlushInterval   time.Duration
	ClickhouseTable string
	ESIndex         string
}

// LoadConfig reads the environment (plus an optional .env file), builds
// the full configuration and validates it. Callers treat an error as
// fatal.
func LoadConfig() (*Config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", ""),
			Port:         getEnvInt("SERVER_PORT", 8080),
			TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:     getEnvBool("SERVER_AUTO_CERT", false),
			Domain:       getEnv("SERVER_DOMAIN", ""),
			Email:        getEnv("SERVER_EMAIL", ""),
			CertFile:     getEnv("SERVER_CERT_FILE", ""),
			KeyFile:      getEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:  getEnv("SERVER_AUTOCERT_DIR", "./certs"),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Postgres: PostgresConfig{
			URL:            getEnv("POSTGRES_URL", ""),
			MaxConns:       getEnvInt("POSTGRES_MAX_CONNS", 10),
			MigrateOnStart: getEnvBool("POSTGRES_MIGRATE", true),
		},
		Redis: RedisConfig{
			URL:         getEnv("REDIS_URL", ""),
			Password:    getEnv("REDIS_PASSWORD", ""),
			DB:          getEnvInt("REDIS_DB", 0),
			PoolSize:    getEnvInt("REDIS_POOL_SIZE", 10),
			TLSCAFile:   getEnv("REDIS_TLS_CA_FILE", "/app/certs/ca.crt"),
			TLSCertFile: getEnv("REDIS_TLS_CERT_FILE", "/app/certs/redis.crt"),
			TLSKeyFile:  getEnv("REDIS_TLS_KEY_FILE", "/app/certs/redis.key"),
		},
		Clickhouse: ClickhouseConfig{
			URL:       getEnv("CLICKHOUSE_URL", ""),
			Database:  getEnv("CLICKHOUSE_DATABASE", "identity"),
			Username:  getEnv("CLICKHOUSE_USERNAME", "default"),
			Password:  getEnv("CLICKHOUSE_PASSWORD", ""),
			TLSCAFile: getEnv("CLICKHOUSE_CA_FILE", ""),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:      getEnv("ELASTICSEARCH_URL", ""),
			Username: getEnv("ELASTICSEARCH_USERNAME", ""),
			Password: getEnv("ELASTICSEARCH_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Brokers:           getEnvSlice("KAFKA_BROKERS"),
			CodeDeliveryTopic: getEnv("KAFKA_CODE_DELIVERY_TOPIC", "identity.code-delivery"),
		},
		KMS: KMSConfig{
			Enabled: getEnvBool("KMS_ENABLED", false),
			KeyID:   getEnv("KMS_KEY_ID", ""),
			Region:  getEnv("AWS_REGION", "us-east-1"),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:  getEnvInt("ARGON2_MEMORY_COST", 65536),
			Argon2TimeCost:    getEnvInt("ARGON2_TIME_COST", 3),
			Argon2Parallelism: getEnvInt("ARGON2_PARALLELISM", 2),
		},
		Bucketing: BucketingConfig{
			EventBuckets: getEnvInt("EVENT_BUCKETS", 64),
		},
		Auth: AuthConfig{
			JWTSigningSecret:   getEnv("JWT_SIGNING_SECRET", ""),
			JWTIssuer:          getEnv("JWT_ISSUER", "identity-service"),
			AccessTokenTTL:     getEnvDuration("ACCESS_TOKEN_TTL", 2*time.Hour),
			RefreshTokenTTL:    getEnvDuration("REFRESH_TOKEN_TTL", 168*time.Hour),
			PrivilegedTokenTTL: getEnvDuration("PRIVILEGED_TOKEN_TTL", 20*time.Minute),
			CodeTTL:            getEnvDuration("CODE_TTL", 5*time.Minute),
			CodeMaxAttempts:    getEnvInt("CODE_MAX_ATTEMPTS", 3),
			MaxFailedLogins:    getEnvInt("MAX_FAILED_LOGINS", 5),
			LockoutWindow:      getEnvDuration("LOCKOUT_WINDOW", 15*time.Minute),
		},
		Admin: AdminConfig{
			LoginIdentifier:   util.NormalizeLoginIdentifier(getEnv("ADMIN_LOGIN_IDENTIFIER", "")),
			Password:          getEnv("ADMIN_PASSWORD", ""),
			AllowedIPs:        getEnv("ADMIN_ALLOWED_IPS", ""),
			DeliveryAddresses: getEnvSlice("ADMIN_DELIVERY_EMAILS"),
		},
		Throttle: ThrottleConfig{
			Enabled: getEnvBool("THROTTLE_ENABLED", true),
			Limit:   getEnvInt("THROTTLE_LIMIT", 10),
			Window:  getEnvDuration("THROTTLE_WINDOW", time.Minute),
		},
		Audit: AuditConfig{
			BufferSize:      getEnvInt("AUDIT_BUFFER_SIZE", 1024),
			BatchSize:       getEnvInt("AUDIT_BATCH_SIZE", 100),
			FlushInterval:   getEnvDuration("AUDIT_FLUSH_INTERVAL", 2*time.Second),
			ClickhouseTable: getEnv("AUDIT_CLICKHOUSE_TABLE", "audit_events"),
			ESIndex:         getEnv("AUDIT_ES_INDEX", "identity-audit"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports every problem at once so a broken deployment is
// fixed in one pass instead of restart after restart.
func (c *Config) Validate() error {
	var problems []string

	switch c.Environment {
	case "development", "staging", "production":
	default:
		problems = append(problems, fmt.Sprintf("ENVIRONMENT %q must be development, staging or production", c.Environment))
	}

	if c.Postgres.URL == "" {
		problems = append(problems, "POSTGRES_URL must be set")
	}

	if c.Auth.JWTSigningSecret == "" {
		problems = append(problems, "JWT_SIGNING_SECRET must be set")
	} else if len(c.Auth.JWTSigningSecret) < 32 {
		problems = append(problems, "JWT_SIGNING_SECRET must be at least 32 bytes")
	}

	if c.Auth.AccessTokenTTL <= 0 ||
		c.Auth.RefreshTokenTTL <= 0 ||
		c.Auth.PrivilegedTokenTTL <= 0 ||
		c.Auth.CodeTTL <= 0 ||
		c.Auth.LockoutWindow <= 0 {
		problems = append(problems, "token, code and lockout durations must be positive")
	}
	if c.Auth.CodeMaxAttempts < 1 {
		problems = append(problems, "CODE_MAX_ATTEMPTS must be at least 1")
	}
	if c.Auth.MaxFailedLogins < 1 {
		problems = append(problems, "MAX_FAILED_LOGINS must be at least 1")
	}

	if c.Admin.LoginIdentifier == "" {
		problems = append(problems, "ADMIN_LOGIN_IDENTIFIER must be set")
	}
	if len(c.Admin.Password) < 12 {
		problems = append(problems, "ADMIN_PASSWORD must be at least 12 characters")
	}
	if err := ipmatch.ValidateList(c.Admin.AllowedIPs); err != nil {
		problems = append(problems, fmt.Sprintf("ADMIN_ALLOWED_IPS: %v", err))
	}
	if len(c.Admin.DeliveryAddresses) == 0 {
		problems = append(problems, "ADMIN_DELIVERY_EMAILS must list at least one address")
	}
	for _, addr := range c.Admin.DeliveryAddresses {
		if _, err := mail.ParseAddress(addr); err != nil {
			problems = append(problems, fmt.Sprintf("ADMIN_DELIVERY_EMAILS entry %q is not a valid address", addr))
		}
	}

	if c.Throttle.Enabled && (c.Throttle.Limit < 1 || c.Throttle.Window <= 0) {
		problems = append(problems, "THROTTLE_LIMIT and THROTTLE_WINDOW must be positive when throttling is enabled")
	}

	if c.KMS.Enabled && c.KMS.KeyID == "" {
		problems = append(problems, "KMS_KEY_ID must be set when KMS_ENABLED is true")
	}

	if c.IsProduction() {
		// Out-of-band code delivery and login throttling are security
		// controls, not conveniences. Production refuses to start
		// without them.
		if len(c.Kafka.Brokers) == 0 {
			problems = append(problems, "KAFKA_BROKERS must be set in production")
		}
		if c.Redis.URL == "" {
			problems = append(problems, "REDIS_URL must be set in production")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// GetServerAddress returns the host:port the HTTP listener binds to.
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvSlice(key string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the process configuration, read once at startup.
type Config struct {
	Server       Server
	Database     DatabaseConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	Auth         AuthConfig
	Provisioning ProvisioningConfig
	Approval     ApprovalConfig
	RateLimit    RateLimitConfig
	LogLevel     string
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// DatabaseConfig selects Postgres stores when URL is set; memory stores otherwise.
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

// RedisConfig selects Redis-backed revocation, idempotency and rate limiting when URL is set.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig enables the outbox relay when Brokers is non-empty.
type KafkaConfig struct {
	Brokers       []string
	AuditTopic    string
	RelayInterval time.Duration
	RelayBatch    int
}

type AuthConfig struct {
	JWTSigningKey string
	JWTIssuer     string
	TokenTTL      time.Duration
	AdminAPIToken string
}

type ProvisioningConfig struct {
	PolicyFile string
}

type ApprovalConfig struct {
	TTL time.Duration
}

type RateLimitConfig struct {
	PerMinute int
}

// FromEnv builds the config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	var errs []string

	cfg := Config{
		Server: Server{
			Addr:            envOr("COREBANK_ADDR", ":8080"),
			ShutdownTimeout: durationOr("SHUTDOWN_TIMEOUT", 10*time.Second, &errs),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: intOr("DATABASE_MAX_OPEN_CONNS", 20, &errs),
			MaxIdleConns: intOr("DATABASE_MAX_IDLE_CONNS", 5, &errs),
			AutoMigrate:  os.Getenv("DATABASE_AUTO_MIGRATE") == "true",
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     intOr("REDIS_POOL_SIZE", 10, &errs),
			MinIdleConns: intOr("REDIS_MIN_IDLE_CONNS", 2, &errs),
			DialTimeout:  durationOr("REDIS_DIAL_TIMEOUT", 5*time.Second, &errs),
			ReadTimeout:  durationOr("REDIS_READ_TIMEOUT", 3*time.Second, &errs),
			WriteTimeout: durationOr("REDIS_WRITE_TIMEOUT", 3*time.Second, &errs),
		},
		Kafka: KafkaConfig{
			Brokers:       splitList(os.Getenv("KAFKA_BROKERS")),
			AuditTopic:    envOr("AUDIT_TOPIC", "corebank.audit"),
			RelayInterval: durationOr("AUDIT_RELAY_INTERVAL", 2*time.Second, &errs),
			RelayBatch:    intOr("AUDIT_RELAY_BATCH", 100, &errs),
		},
		Auth: AuthConfig{
			JWTSigningKey: os.Getenv("JWT_SIGNING_KEY"),
			JWTIssuer:     envOr("JWT_ISSUER", "corebank"),
			TokenTTL:      durationOr("JWT_TTL", 15*time.Minute, &errs),
			AdminAPIToken: os.Getenv("ADMIN_API_TOKEN"),
		},
		Provisioning: ProvisioningConfig{
			PolicyFile: os.Getenv("PROVISIONING_POLICY_FILE"),
		},
		Approval: ApprovalConfig{
			TTL: durationOr("APPROVAL_TTL", 72*time.Hour, &errs),
		},
		RateLimit: RateLimitConfig{
			PerMinute: intOr("RATE_LIMIT_PER_MINUTE", 300, &errs),
		},
		LogLevel: envOr("LOG_LEVEL", "info"),
	}

	if cfg.Auth.JWTSigningKey == "" {
		// Development default; production deployments must set JWT_SIGNING_KEY.
		cfg.Auth.JWTSigningKey = "dev-secret-key-change-in-production"
	}
	if len(errs) > 0 {
		return Config{}, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func intOr(key string, def int, errs *[]string) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		*errs = append(*errs, key+" must be a non-negative integer")
		return def
	}
	return v
}

func durationOr(key string, def time.Duration, errs *[]string) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		*errs = append(*errs, key+" must be a positive duration")
		return def
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

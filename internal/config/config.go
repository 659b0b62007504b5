package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	SecretsKey         string
	CORSAllowedOrigins []string

	GatewayBaseURL string
	PublicBaseURL  string
	Currency       string

	SuccessURL string
	PendingURL string
	FailURL    string

	StoreWebhookURL string

	WebhookReplayTTL time.Duration
	IdempotencyTTL   time.Duration

	RelayConcurrency int
	RelayTimeout     time.Duration
	RelayMaxAttempts int

	OutboundTimeout    time.Duration
	RetryBase          time.Duration
	RetryMaxAttempts   int
	RetryJitterPercent float64

	CircuitMinReq      int
	CircuitFailureRate float64
	CircuitOpenFor     time.Duration

	QueueRedisPrefix string
	QueueDedupTTL    time.Duration
	LockTTL          time.Duration
	LockRetryBackoff time.Duration

	ReturnRateLimitMax    int
	ReturnRateLimitWindow time.Duration
	CheckoutRateLimit     string

	AdminTokenHash string

	StatusLogRetention time.Duration
	StatusLogPruneCron string
	WorkerConcurrency  int
	WorkerVisibility   time.Duration

	MigrateOnStart bool
	MigrationsDir  string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		SecretsKey:         k.String("SECRETS_KEY"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		GatewayBaseURL: valueOrDefault(k.String("OMNIKASSA_BASE_URL"), "https://betalen.rabobank.nl/omnikassa-api"),
		PublicBaseURL:  k.String("PUBLIC_BASE_URL"),
		Currency:       valueOrDefault(k.String("CURRENCY_CODE"), "EUR"),

		SuccessURL: k.String("CHECKOUT_SUCCESS_URL"),
		PendingURL: k.String("CHECKOUT_PENDING_URL"),
		FailURL:    k.String("CHECKOUT_FAIL_URL"),

		StoreWebhookURL: k.String("STORE_WEBHOOK_URL"),

		WebhookReplayTTL: parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		IdempotencyTTL:   parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),

		RelayConcurrency: intOrDefault(k.Int("RELAY_CONCURRENCY"), 8),
		RelayTimeout:     parseDuration(k.String("RELAY_TIMEOUT"), "5s"),
		RelayMaxAttempts: intOrDefault(k.Int("RELAY_MAX_ATTEMPTS"), 6),

		OutboundTimeout:    parseDuration(k.String("OUTBOUND_TIMEOUT"), "10s"),
		RetryBase:          parseDuration(k.String("RETRY_BASE"), "200ms"),
		RetryMaxAttempts:   intOrDefault(k.Int("RETRY_MAX_ATTEMPTS"), 3),
		RetryJitterPercent: floatOrDefault(k.Float64("RETRY_JITTER_PERCENT"), 0.2),

		CircuitMinReq:      intOrDefault(k.Int("CIRCUIT_MIN_REQUESTS"), 10),
		CircuitFailureRate: floatOrDefault(k.Float64("CIRCUIT_FAILURE_RATE"), 0.5),
		CircuitOpenFor:     parseDuration(k.String("CIRCUIT_OPEN_FOR"), "30s"),

		QueueRedisPrefix: valueOrDefault(k.String("QUEUE_REDIS_PREFIX"), "relay"),
		QueueDedupTTL:    parseDuration(k.String("QUEUE_DEDUP_TTL"), "24h"),
		LockTTL:          parseDuration(k.String("LOCK_TTL"), "30s"),
		LockRetryBackoff: parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),

		ReturnRateLimitMax:    intOrDefault(k.Int("RETURN_RATE_LIMIT_MAX"), 60),
		ReturnRateLimitWindow: parseDuration(k.String("RETURN_RATE_LIMIT_WINDOW"), "1m"),
		CheckoutRateLimit:     valueOrDefault(k.String("CHECKOUT_RATE_LIMIT"), "30-M"),

		AdminTokenHash: k.String("ADMIN_TOKEN_HASH"),

		StatusLogRetention: parseDuration(k.String("STATUS_LOG_RETENTION"), "2160h"),
		StatusLogPruneCron: valueOrDefault(k.String("STATUS_LOG_PRUNE_CRON"), "0 4 * * *"),
		WorkerConcurrency:  intOrDefault(k.Int("WORKER_CONCURRENCY"), 4),
		WorkerVisibility:   parseDuration(k.String("WORKER_VISIBILITY"), "30s"),

		MigrateOnStart: parseBool(k.String("MIGRATE_ON_START")),
		MigrationsDir:  valueOrDefault(k.String("MIGRATIONS_DIR"), "migrations"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.SecretsKey == "" {
		return nil, errors.New("SECRETS_KEY is required")
	}
	if cfg.FailURL == "" {
		return nil, errors.New("CHECKOUT_FAIL_URL is required")
	}
	if cfg.StoreWebhookURL == "" {
		return nil, errors.New("STORE_WEBHOOK_URL is required")
	}

	return cfg, nil
}

// UseTestCredentials reports whether the deployment should use the gateway's
// test credentials instead of the live ones.
func (c *Config) UseTestCredentials() bool {
	switch strings.ToLower(strings.TrimSpace(c.AppEnv)) {
	case "development", "test":
		return true
	default:
		return false
	}
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// ReturnURL is the merchant return URL announced with every order.
func (c *Config) ReturnURL() string {
	return strings.TrimRight(strings.TrimSpace(c.PublicBaseURL), "/") + "/api/v1/payments/return"
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func intOrDefault(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func floatOrDefault(value, fallback float64) float64 {
	if value > 0 {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
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
	JWTSecret          string
	CORSAllowedOrigins []string

	// Engine defaults applied when a create request omits them.
	DefaultFailureThreshold int
	DefaultRecoveryTimeout  time.Duration
	DefaultRequestTimeout   time.Duration

	// ResetCooldown is the minimum interval between manual resets of one breaker.
	ResetCooldown time.Duration
	// BucketSize is the aggregation window sealed into one sample.
	BucketSize time.Duration

	// Retention windows enforced by the worker.
	SampleRetention time.Duration
	EventRetention  time.Duration
	AuditRetention  time.Duration
	// RetentionInterval is the worker's prune cadence.
	RetentionInterval time.Duration

	// Admin rate limiting.
	AdminRateMax    int
	AdminRateWindow time.Duration

	AuditEnabled      bool
	AuditSamplingRate float64

	WebhooksEnabled  bool
	WebhookTimeoutMs int
	WebhookMaxRetry  int
	WebhookLockTTL   time.Duration
	WebhookReplayTTL time.Duration

	AlertEmailEnabled   bool
	AlertEmailRecipient string
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
		JWTSecret:          k.String("JWT_SECRET"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		DefaultFailureThreshold: parseInt(k.String("BREAKER_DEFAULT_FAILURE_THRESHOLD"), 5),
		DefaultRecoveryTimeout:  parseDuration(k.String("BREAKER_DEFAULT_RECOVERY_TIMEOUT"), "30s"),
		DefaultRequestTimeout:   parseDuration(k.String("BREAKER_DEFAULT_REQUEST_TIMEOUT"), "5s"),

		ResetCooldown: parseDuration(k.String("BREAKER_RESET_COOLDOWN"), "1m"),
		BucketSize:    parseDuration(k.String("METRICS_BUCKET_SIZE"), "1m"),

		SampleRetention:   parseDuration(k.String("RETENTION_SAMPLES"), "168h"),
		EventRetention:    parseDuration(k.String("RETENTION_EVENTS"), "720h"),
		AuditRetention:    parseDuration(k.String("RETENTION_AUDIT"), "2160h"),
		RetentionInterval: parseDuration(k.String("RETENTION_INTERVAL"), "1h"),

		AdminRateMax:    parseInt(k.String("ADMIN_RATE_MAX"), 120),
		AdminRateWindow: parseDuration(k.String("ADMIN_RATE_WINDOW"), "1m"),

		AuditEnabled:      parseBoolDefault(k.String("AUDIT_ENABLED"), true),
		AuditSamplingRate: parseFloat(k.String("AUDIT_SAMPLING_RATE"), 1),

		WebhooksEnabled:  parseBoolDefault(k.String("WEBHOOKS_ENABLED"), true),
		WebhookTimeoutMs: parseInt(k.String("WEBHOOK_TIMEOUT_MS"), 5000),
		WebhookMaxRetry:  parseInt(k.String("WEBHOOK_MAX_RETRY"), 6),
		WebhookLockTTL:   parseDuration(k.String("WEBHOOK_LOCK_TTL"), "30s"),
		WebhookReplayTTL: parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "10m"),

		AlertEmailEnabled:   parseBool(k.String("ALERT_EMAIL_ENABLED")),
		AlertEmailRecipient: strings.TrimSpace(k.String("ALERT_EMAIL_RECIPIENT")),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.DefaultFailureThreshold <= 0 {
		return nil, errors.New("BREAKER_DEFAULT_FAILURE_THRESHOLD must be positive")
	}
	if cfg.BucketSize < time.Second {
		return nil, errors.New("METRICS_BUCKET_SIZE must be at least one second")
	}

	return cfg, nil
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

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseBoolDefault(value string, fallback bool) bool {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return fallback
	}
	return parseBool(trimmed)
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

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Port            string `validate:"required,numeric"`
	WSPort          string `validate:"required,numeric,nefield=Port"`
	DBPath          string `validate:"required"`
	Origin          string `validate:"required,hostname_rfc1123"`
	RedisURL        string `validate:"omitempty,url"`
	StoreQuotaBytes int64  `validate:"gte=0"`
	SessionSecret   string `validate:"required,min=32"`
	SessionTTLHours int    `validate:"gt=0"`
	AllowedOrigins  string
	VapidPublicKey  string
	VapidPrivateKey string `validate:"required_with=VapidPublicKey"`
	VapidSubject    string `validate:"required_with=VapidPublicKey"`
	SeedFile        string `validate:"omitempty,file"`
	SeedForce       bool
	EnableWorkers   bool
	RunMigrations   bool
	LogLevel        string `validate:"omitempty,oneof=debug info warn error"`
}

// DefaultQuota mirrors the per-origin localStorage budget of common browsers.
const DefaultQuota = 5 << 20

// Load reads the process environment, applies defaults and validates the
// result.
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		Port:            envOr(getenv, "PORT", "3000"),
		WSPort:          envOr(getenv, "WS_PORT", "3001"),
		DBPath:          envOr(getenv, "DB_PATH", "./data/wecare.db"),
		Origin:          envOr(getenv, "ORIGIN", "wecare.local"),
		RedisURL:        strings.TrimSpace(getenv("REDIS_URL")),
		StoreQuotaBytes: DefaultQuota,
		SessionSecret:   getenv("SESSION_SECRET"),
		SessionTTLHours: 12,
		AllowedOrigins:  normalizeOrigins(getenv("ALLOWED_ORIGINS")),
		VapidPublicKey:  getenv("VAPID_PUBLIC_KEY"),
		VapidPrivateKey: getenv("VAPID_PRIVATE_KEY"),
		VapidSubject:    getenv("VAPID_SUBJECT"),
		SeedFile:        getenv("SEED_FILE"),
		SeedForce:       getenv("SEED_FORCE") == "true",
		EnableWorkers:   envOr(getenv, "ENABLE_WORKERS", "true") == "true",
		RunMigrations:   getenv("RUN_MIGRATIONS") == "true",
		LogLevel:        strings.ToLower(getenv("LOG_LEVEL")),
	}

	if v := getenv("STORE_QUOTA_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid STORE_QUOTA_BYTES: %w", err)
		}
		cfg.StoreQuotaBytes = n
	}
	if v := getenv("SESSION_TTL_HOURS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SESSION_TTL_HOURS: %w", err)
		}
		cfg.SessionTTLHours = n
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// WebPushConfigured reports whether VAPID keys are present.
func (c *Config) WebPushConfigured() bool {
	return c.VapidPublicKey != "" && c.VapidPrivateKey != "" && c.VapidSubject != ""
}

func envOr(getenv func(string) string, key, def string) string {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		return v
	}
	return def
}

// normalizeOrigins trims whitespace around a comma-separated origin list and
// falls back to the local dev servers.
func normalizeOrigins(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "http://localhost:3000,http://localhost:5173"
	}
	if raw == "*" {
		return raw
	}
	parts := strings.Split(raw, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return strings.Join(parts, ",")
}

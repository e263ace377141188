package config

import (
	"strings"
	"testing"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(envMap(map[string]string{
		"SESSION_SECRET": strings.Repeat("s", 32),
	}))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "3000" || cfg.WSPort != "3001" {
		t.Fatalf("unexpected ports %s/%s", cfg.Port, cfg.WSPort)
	}
	if cfg.StoreQuotaBytes != DefaultQuota {
		t.Fatalf("expected default quota, got %d", cfg.StoreQuotaBytes)
	}
	if !cfg.EnableWorkers {
		t.Fatal("workers should default to enabled")
	}
	if cfg.RunMigrations {
		t.Fatal("migrations are opt-in")
	}
	if cfg.WebPushConfigured() {
		t.Fatal("web push should not be configured without keys")
	}
}

func TestLoadRejectsShortSecret(t *testing.T) {
	_, err := load(envMap(map[string]string{"SESSION_SECRET": "short"}))
	if err == nil {
		t.Fatal("expected validation error for short secret")
	}
}

func TestLoadRequiresCompleteVapidKeys(t *testing.T) {
	_, err := load(envMap(map[string]string{
		"SESSION_SECRET":   strings.Repeat("s", 32),
		"VAPID_PUBLIC_KEY": "pub",
	}))
	if err == nil {
		t.Fatal("expected error when only the public VAPID key is set")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	cfg, err := load(envMap(map[string]string{
		"SESSION_SECRET":    strings.Repeat("s", 32),
		"STORE_QUOTA_BYTES": "1024",
		"ALLOWED_ORIGINS":   " http://a.test , http://b.test",
		"ENABLE_WORKERS":    "false",
		"RUN_MIGRATIONS":    "true",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StoreQuotaBytes != 1024 {
		t.Fatalf("expected quota 1024, got %d", cfg.StoreQuotaBytes)
	}
	if cfg.AllowedOrigins != "http://a.test,http://b.test" {
		t.Fatalf("origins not normalized: %q", cfg.AllowedOrigins)
	}
	if cfg.EnableWorkers {
		t.Fatal("workers should be disabled")
	}
	if !cfg.RunMigrations {
		t.Fatal("migrations should be enabled")
	}
}

func TestLoadBadQuota(t *testing.T) {
	_, err := load(envMap(map[string]string{
		"SESSION_SECRET":    strings.Repeat("s", 32),
		"STORE_QUOTA_BYTES": "lots",
	}))
	if err == nil {
		t.Fatal("expected parse error")
	}
}

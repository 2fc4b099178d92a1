package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var allKeys = []string{
	"http_port", "log_level", "log_format", "store", "sqlite_dsn",
	"firestore_project", "firestore_credentials", "firestore_collection",
	"cache", "cache_dir", "redis_addr", "redis_password", "redis_db", "redis_prefix", "redis_ttl",
	"warning_threshold", "scan_interval", "snapshot_interval",
	"extension_time", "max_extensions", "extension_cooldown",
	"photo_dir", "photo_url_prefix", "rate_limit_rps", "rate_limit_burst",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allKeys {
		t.Setenv(envName(key), "")
	}
	t.Setenv(ConfigFileEnv, "")
}

func TestLoader_ParseEnvironment(t *testing.T) {
	t.Run("applies defaults when variables are missing", func(t *testing.T) {
		clearEnv(t)

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}

		if cfg != Default() {
			t.Fatalf("expected defaults, got %+v", cfg)
		}
		if cfg.WarningThreshold != 15*time.Minute || cfg.SnapshotInterval != 30*time.Second {
			t.Fatalf("unexpected default intervals: %+v", cfg)
		}
	})

	t.Run("parses duration and numeric fields", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("SESSIONTIMER_HTTP_PORT", "9090")
		t.Setenv("SESSIONTIMER_LOG_LEVEL", "debug")
		t.Setenv("SESSIONTIMER_STORE", "MEMORY")
		t.Setenv("SESSIONTIMER_WARNING_THRESHOLD", "5m")
		t.Setenv("SESSIONTIMER_MAX_EXTENSIONS", "2")
		t.Setenv("SESSIONTIMER_EXTENSION_COOLDOWN", "90m")
		t.Setenv("SESSIONTIMER_RATE_LIMIT_RPS", "2.5")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}

		if cfg.HTTPPort != 9090 {
			t.Fatalf("expected port 9090, got %d", cfg.HTTPPort)
		}
		if cfg.LogLevel != slog.LevelDebug {
			t.Fatalf("expected debug level, got %s", cfg.LogLevel)
		}
		if cfg.Store != StoreMemory {
			t.Fatalf("expected memory store, got %q", cfg.Store)
		}
		if cfg.WarningThreshold != 5*time.Minute {
			t.Fatalf("expected 5m threshold, got %s", cfg.WarningThreshold)
		}
		if cfg.MaxExtensions != 2 || cfg.ExtensionCooldown != 90*time.Minute {
			t.Fatalf("unexpected extension policy: %d / %s", cfg.MaxExtensions, cfg.ExtensionCooldown)
		}
		if cfg.RateLimitRPS != 2.5 {
			t.Fatalf("expected rps 2.5, got %v", cfg.RateLimitRPS)
		}
	})

	t.Run("reports every invalid value", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("SESSIONTIMER_HTTP_PORT", "zero")
		t.Setenv("SESSIONTIMER_STORE", "postgres")
		t.Setenv("SESSIONTIMER_SCAN_INTERVAL", "10ms")

		_, err := Load()
		if err == nil {
			t.Fatalf("expected error for invalid values")
		}
		expected := "configuration values are invalid: SESSIONTIMER_HTTP_PORT, SESSIONTIMER_STORE, SESSIONTIMER_SCAN_INTERVAL"
		if err.Error() != expected {
			t.Fatalf("unexpected error message: %q", err.Error())
		}
	})

	t.Run("errors when backend settings are missing", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("SESSIONTIMER_STORE", "firestore")
		t.Setenv("SESSIONTIMER_CACHE", "redis")

		_, err := Load()
		if err == nil {
			t.Fatalf("expected error when required values are missing")
		}
		expected := "required configuration is not set: SESSIONTIMER_FIRESTORE_PROJECT, SESSIONTIMER_REDIS_ADDR"
		if err.Error() != expected {
			t.Fatalf("unexpected error message: %q", err.Error())
		}
	})
}

func TestLoader_ConfigFile(t *testing.T) {
	write := func(t *testing.T, body string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "sessiontimer.yaml")
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
		return path
	}

	t.Run("reads values from the file", func(t *testing.T) {
		clearEnv(t)
		path := write(t, strings.Join([]string{
			"http_port: 7070",
			"store: firestore",
			"firestore_project: demo",
			"cache: redis",
			"redis_addr: localhost:6379",
			"redis_db: 2",
			"snapshot_interval: 1m",
		}, "\n"))

		cfg, err := LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile returned error: %v", err)
		}
		if cfg.HTTPPort != 7070 || cfg.Store != StoreFirestore || cfg.Firestore.ProjectID != "demo" {
			t.Fatalf("unexpected config: %+v", cfg)
		}
		if cfg.Redis.Addr != "localhost:6379" || cfg.Redis.DB != 2 {
			t.Fatalf("unexpected redis config: %+v", cfg.Redis)
		}
		if cfg.SnapshotInterval != time.Minute {
			t.Fatalf("expected 1m snapshot interval, got %s", cfg.SnapshotInterval)
		}
		if cfg.Firestore.Collection != "customers" {
			t.Fatalf("expected default collection, got %q", cfg.Firestore.Collection)
		}
	})

	t.Run("environment overrides the file", func(t *testing.T) {
		clearEnv(t)
		path := write(t, "http_port: 7070\n")
		t.Setenv(ConfigFileEnv, path)
		t.Setenv("SESSIONTIMER_HTTP_PORT", "6060")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if cfg.HTTPPort != 6060 {
			t.Fatalf("expected environment port 6060, got %d", cfg.HTTPPort)
		}
	})

	t.Run("rejects unreadable files", func(t *testing.T) {
		clearEnv(t)
		if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
			t.Fatalf("expected error for missing file")
		}
		if _, err := LoadFile(write(t, "http_port: [")); err == nil {
			t.Fatalf("expected error for malformed yaml")
		}
	})
}

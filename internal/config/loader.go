// Package config loads the service configuration.
//
// Values are resolved in order: built-in defaults, an optional YAML file,
// then SESSIONTIMER_* environment variables. A .env file in the working
// directory is read into the environment first without overriding
// variables that are already set.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every key to form its environment variable.
const EnvPrefix = "SESSIONTIMER_"

// ConfigFileEnv names the variable holding the YAML file path.
const ConfigFileEnv = EnvPrefix + "CONFIG"

const (
	StoreMemory    = "memory"
	StoreSQLite    = "sqlite"
	StoreFirestore = "firestore"

	CacheMemory = "memory"
	CacheFile   = "file"
	CacheRedis  = "redis"
)

// Config captures the settings of the session timer service.
type Config struct {
	HTTPPort  int
	LogLevel  slog.Level
	LogFormat string

	Store     string
	SQLiteDSN string
	Firestore FirestoreConfig

	Cache    string
	CacheDir string
	Redis    RedisConfig

	WarningThreshold time.Duration
	ScanInterval     time.Duration
	SnapshotInterval time.Duration

	ExtensionTime     time.Duration
	MaxExtensions     int
	ExtensionCooldown time.Duration

	PhotoDir       string
	PhotoURLPrefix string

	RateLimitRPS   float64
	RateLimitBurst int
}

// FirestoreConfig selects the remote document store.
type FirestoreConfig struct {
	ProjectID       string
	CredentialsFile string
	Collection      string
}

// RedisConfig selects the shared snapshot cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		HTTPPort:          8080,
		LogLevel:          slog.LevelInfo,
		LogFormat:         "json",
		Store:             StoreSQLite,
		SQLiteDSN:         "file:sessiontimer.db?_pragma=busy_timeout(5000)",
		Firestore:         FirestoreConfig{Collection: "customers"},
		Cache:             CacheFile,
		CacheDir:          "data/cache",
		Redis:             RedisConfig{Prefix: "sessiontimer:"},
		WarningThreshold:  15 * time.Minute,
		ScanInterval:      time.Second,
		SnapshotInterval:  30 * time.Second,
		ExtensionTime:     30 * time.Minute,
		MaxExtensions:     3,
		ExtensionCooldown: time.Hour,
		PhotoDir:          "uploads/customers",
		PhotoURLPrefix:    "/uploads/customers",
		RateLimitRPS:      20,
		RateLimitBurst:    40,
	}
}

// Load reads the configuration from the process environment and, when
// SESSIONTIMER_CONFIG is set, from that YAML file.
func Load() (Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit YAML path. An empty path falls back to
// SESSIONTIMER_CONFIG.
func LoadFile(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("reading .env: %w", err)
	}

	if path == "" {
		path = strings.TrimSpace(os.Getenv(ConfigFileEnv))
	}
	file, err := readFile(path)
	if err != nil {
		return Config{}, err
	}

	src := source{file: file}
	cfg := Default()

	missing := make([]string, 0, 2)
	invalid := make([]string, 0, 4)

	src.setInt("http_port", &cfg.HTTPPort, 1, &invalid)

	if value, ok := src.lookup("log_level"); ok {
		if err := cfg.LogLevel.UnmarshalText([]byte(value)); err != nil {
			invalid = append(invalid, envName("log_level"))
		}
	}

	src.setChoice("log_format", &cfg.LogFormat, &invalid, "json", "text")
	src.setChoice("store", &cfg.Store, &invalid, StoreMemory, StoreSQLite, StoreFirestore)
	src.setString("sqlite_dsn", &cfg.SQLiteDSN)
	src.setString("firestore_project", &cfg.Firestore.ProjectID)
	src.setString("firestore_credentials", &cfg.Firestore.CredentialsFile)
	src.setString("firestore_collection", &cfg.Firestore.Collection)

	src.setChoice("cache", &cfg.Cache, &invalid, CacheMemory, CacheFile, CacheRedis)
	src.setString("cache_dir", &cfg.CacheDir)
	src.setString("redis_addr", &cfg.Redis.Addr)
	src.setString("redis_password", &cfg.Redis.Password)
	src.setInt("redis_db", &cfg.Redis.DB, 0, &invalid)
	src.setString("redis_prefix", &cfg.Redis.Prefix)
	src.setDuration("redis_ttl", &cfg.Redis.TTL, 0, &invalid)

	src.setDuration("warning_threshold", &cfg.WarningThreshold, time.Second, &invalid)
	src.setDuration("scan_interval", &cfg.ScanInterval, time.Second, &invalid)
	src.setDuration("snapshot_interval", &cfg.SnapshotInterval, time.Second, &invalid)

	src.setDuration("extension_time", &cfg.ExtensionTime, time.Minute, &invalid)
	src.setInt("max_extensions", &cfg.MaxExtensions, 1, &invalid)
	src.setDuration("extension_cooldown", &cfg.ExtensionCooldown, time.Minute, &invalid)

	src.setString("photo_dir", &cfg.PhotoDir)
	src.setString("photo_url_prefix", &cfg.PhotoURLPrefix)

	if value, ok := src.lookup("rate_limit_rps"); ok {
		rps, err := strconv.ParseFloat(value, 64)
		if err != nil || rps < 0 {
			invalid = append(invalid, envName("rate_limit_rps"))
		} else {
			cfg.RateLimitRPS = rps
		}
	}
	src.setInt("rate_limit_burst", &cfg.RateLimitBurst, 0, &invalid)

	if cfg.Store == StoreFirestore && cfg.Firestore.ProjectID == "" {
		missing = append(missing, envName("firestore_project"))
	}
	if cfg.Store == StoreSQLite && cfg.SQLiteDSN == "" {
		missing = append(missing, envName("sqlite_dsn"))
	}
	if cfg.Cache == CacheFile && cfg.CacheDir == "" {
		missing = append(missing, envName("cache_dir"))
	}
	if cfg.Cache == CacheRedis && cfg.Redis.Addr == "" {
		missing = append(missing, envName("redis_addr"))
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required configuration is not set: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("configuration values are invalid: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

func readFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	out := make(map[string]string, len(raw))
	for key, value := range raw {
		if value == nil {
			continue
		}
		out[strings.ToLower(key)] = fmt.Sprint(value)
	}
	return out, nil
}

func envName(key string) string {
	return EnvPrefix + strings.ToUpper(key)
}

// source resolves a key from the environment first, then the file.
type source struct {
	file map[string]string
}

func (s source) lookup(key string) (string, bool) {
	if value := strings.TrimSpace(os.Getenv(envName(key))); value != "" {
		return value, true
	}
	if value := strings.TrimSpace(s.file[key]); value != "" {
		return value, true
	}
	return "", false
}

func (s source) setString(key string, dst *string) {
	if value, ok := s.lookup(key); ok {
		*dst = value
	}
}

func (s source) setInt(key string, dst *int, floor int, invalid *[]string) {
	value, ok := s.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < floor {
		*invalid = append(*invalid, envName(key))
		return
	}
	*dst = n
}

func (s source) setDuration(key string, dst *time.Duration, floor time.Duration, invalid *[]string) {
	value, ok := s.lookup(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < floor {
		*invalid = append(*invalid, envName(key))
		return
	}
	*dst = d
}

func (s source) setChoice(key string, dst *string, invalid *[]string, allowed ...string) {
	value, ok := s.lookup(key)
	if !ok {
		return
	}
	value = strings.ToLower(value)
	for _, candidate := range allowed {
		if value == candidate {
			*dst = value
			return
		}
	}
	*invalid = append(*invalid, envName(key))
}

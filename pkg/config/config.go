// Package config defines the pipeline's process configuration: the flat set
// of tunables every stage is constructed from, populated from environment
// variables and cobra flags by cmd/pipeline.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the fully resolved process configuration.
type Config struct {
	LogLevel  string
	LogJSON   bool
	ChainsFile string

	PostgresDSN      string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	ColumnarStoreURL string
	DeadLetterDir    string

	EncryptionKey string

	DedupTTL               time.Duration
	DedupLRUSize           int
	ConfigRefreshInterval  time.Duration

	EventChannelSize    int
	DeliveryChannelSize int

	BatchSize          int
	BatchFlushInterval time.Duration

	WorkerPoolSize        int
	DefaultMaxRetries     int
	DefaultTimeout        time.Duration
	DefaultRateLimit      int
	BreakerFailThreshold  int
	BreakerCooldown       time.Duration
	RetryBaseDelay        time.Duration
	RetryMaxDelay         time.Duration

	HTTPListenAddr       string
	ShutdownGracePeriod  time.Duration
	HealthCheckInterval  time.Duration
}

// ConfigError wraps a configuration validation failure. main treats it as
// fatal: the process cannot start with an invalid configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Default returns a Config populated with the pipeline's documented
// defaults, before environment and flag overrides are applied.
func Default() Config {
	return Config{
		LogLevel:              "info",
		LogJSON:               true,
		RedisDB:               0,
		ColumnarStoreURL:      "http://127.0.0.1:8123/insert",
		DeadLetterDir:         "./data/deadletter",
		DedupTTL:              24 * time.Hour,
		DedupLRUSize:          100_000,
		ConfigRefreshInterval: 30 * time.Second,
		EventChannelSize:      10_000,
		DeliveryChannelSize:   50_000,
		BatchSize:             100,
		BatchFlushInterval:    5 * time.Second,
		WorkerPoolSize:        50,
		DefaultMaxRetries:     5,
		DefaultTimeout:        10 * time.Second,
		DefaultRateLimit:      10,
		BreakerFailThreshold:  5,
		BreakerCooldown:       60 * time.Second,
		RetryBaseDelay:        2 * time.Second,
		RetryMaxDelay:         60 * time.Second,
		HTTPListenAddr:        ":9090",
		ShutdownGracePeriod:   30 * time.Second,
		HealthCheckInterval:   30 * time.Second,
	}
}

// LoadFromEnv overlays environment variables on top of the given base
// config, following the teacher's "env wins over compiled default, flags
// win over env" precedence.
func LoadFromEnv(base Config) Config {
	cfg := base

	if v := os.Getenv("PIPELINE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PIPELINE_LOG_JSON"); v != "" {
		cfg.LogJSON = v == "true" || v == "1"
	}
	if v := os.Getenv("PIPELINE_CHAINS_FILE"); v != "" {
		cfg.ChainsFile = v
	}
	if v := os.Getenv("PIPELINE_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("PIPELINE_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("PIPELINE_REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("PIPELINE_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RedisDB = n
		}
	}
	if v := os.Getenv("PIPELINE_COLUMNAR_STORE_URL"); v != "" {
		cfg.ColumnarStoreURL = v
	}
	if v := os.Getenv("PIPELINE_DEAD_LETTER_DIR"); v != "" {
		cfg.DeadLetterDir = v
	}
	if v := os.Getenv("PIPELINE_ENCRYPTION_KEY"); v != "" {
		cfg.EncryptionKey = v
	}
	if v := os.Getenv("PIPELINE_DEDUP_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.DedupTTL = d
		}
	}
	if v := os.Getenv("PIPELINE_CONFIG_REFRESH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ConfigRefreshInterval = d
		}
	}
	if v := os.Getenv("PIPELINE_WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("PIPELINE_HTTP_LISTEN_ADDR"); v != "" {
		cfg.HTTPListenAddr = v
	}

	return cfg
}

// Validate enforces the invariants every stage relies on at construction
// time, returning a *ConfigError (never a bare error) on the first
// violation found.
func (c Config) Validate() error {
	if c.PostgresDSN == "" {
		return &ConfigError{Field: "PostgresDSN", Reason: "must be set"}
	}
	if c.RedisAddr == "" {
		return &ConfigError{Field: "RedisAddr", Reason: "must be set"}
	}
	if len(c.EncryptionKey) != 32 {
		return &ConfigError{Field: "EncryptionKey", Reason: "must be exactly 32 bytes"}
	}
	if c.DedupTTL <= 0 {
		return &ConfigError{Field: "DedupTTL", Reason: "must be positive"}
	}
	if c.EventChannelSize <= 0 {
		return &ConfigError{Field: "EventChannelSize", Reason: "must be positive"}
	}
	if c.DeliveryChannelSize <= 0 {
		return &ConfigError{Field: "DeliveryChannelSize", Reason: "must be positive"}
	}
	if c.BatchSize <= 0 {
		return &ConfigError{Field: "BatchSize", Reason: "must be positive"}
	}
	if c.WorkerPoolSize <= 0 {
		return &ConfigError{Field: "WorkerPoolSize", Reason: "must be positive"}
	}
	if c.BreakerFailThreshold <= 0 {
		return &ConfigError{Field: "BreakerFailThreshold", Reason: "must be positive"}
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		return &ConfigError{Field: "RetryMaxDelay", Reason: "must be >= RetryBaseDelay"}
	}
	return nil
}

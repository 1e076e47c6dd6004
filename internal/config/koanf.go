// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order. The
// first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/correlatus/config.yaml",
	"/etc/correlatus/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with every default applied. Defaults load
// first; file and environment layers override them.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8806,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Path:                   "/data/correlatus.duckdb",
			MaxMemory:              "2GB",
			Threads:                0, // 0 = runtime.NumCPU()
			MaxOpenConns:           8,
			MaxIdleConns:           4,
			PreserveInsertionOrder: true,
		},
		Dedup: DedupConfig{
			CacheSize:               10000,
			CacheTTL:                time.Hour,
			StoreTimeout:            5 * time.Second,
			BreakerFailureThreshold: 5,
			BreakerTimeout:          30 * time.Second,
		},
		Correlator: CorrelatorConfig{
			ReconciliationWindow: 60 * time.Second,
			LockStripes:          256,
		},
		Aggregator: AggregatorConfig{
			RecomputeAsync:     true,
			RebuildParallelism: 4,
		},
		Pipeline: PipelineConfig{
			Transport:            "gochannel",
			Buffer:               1024,
			RetryCount:           3,
			RetryInitialInterval: 100 * time.Millisecond,
			CloseTimeout:         30 * time.Second,
		},
		NATS: NATSConfig{
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: false,
			StoreDir:       "/data/nats/jetstream",
			StreamName:     "CORRELATUS",
			MaxMemory:      1 << 30,  // 1GB
			MaxStore:       10 << 30, // 10GB
		},
		WAL: WALConfig{
			Enabled:            true,
			Dir:                "/data/wal",
			RetryInterval:      5 * time.Second,
			MaxRetries:         10,
			CompactionInterval: 10 * time.Minute,
		},
		Auth: AuthConfig{
			Enabled:       false,
			JWTSecret:     "",
			AdminUsername: "admin",
			TokenTTL:      24 * time.Hour,
		},
		API: APIConfig{
			DefaultPageSize: 100,
			MaxPageSize:     1000,
			RateLimitIngest: 600,
			RateLimitQuery:  300,
			RateLimitAuth:   10,
			RateLimitHealth: 1000,
			CORSOrigins:     []string{"*"},
			MaxBodyBytes:    1 << 20, // 1MiB
		},
		Export: ExportConfig{
			MaxDays:     31,
			DefaultDays: 7,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in values
//  2. Config file: optional YAML (if present)
//  3. Environment variables: highest priority
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct.
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional).
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables. Names map via the explicit table in
	// envTransformFunc; unmapped variables are ignored.
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Env values for slice fields arrive as comma-separated strings.
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths lists config paths parsed as comma-separated slices when
// they arrive from the environment.
var sliceConfigPaths = []string{
	"api.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice (from YAML): nothing to do.
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		if strVal, ok := val.(string); ok {
			if strVal == "" {
				continue
			}
			parts := strings.Split(strVal, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if len(trimmed) > 0 {
				if err := k.Set(path, trimmed); err != nil {
					return fmt.Errorf("failed to set %s: %w", path, err)
				}
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables return "" and are skipped, so stray environment noise
// never pollutes the config.
//
// Examples:
//   - HTTP_PORT -> server.port
//   - DUCKDB_PATH -> database.path
//   - DEDUP_CACHE_SIZE -> dedup.cache_size
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Server
		"http_host":             "server.host",
		"http_port":             "server.port",
		"http_read_timeout":     "server.read_timeout",
		"http_write_timeout":    "server.write_timeout",
		"http_shutdown_timeout": "server.shutdown_timeout",

		// Database
		"duckdb_path":           "database.path",
		"duckdb_max_memory":     "database.max_memory",
		"duckdb_threads":        "database.threads",
		"duckdb_max_open_conns": "database.max_open_conns",
		"duckdb_max_idle_conns": "database.max_idle_conns",

		// Deduplication gate
		"dedup_cache_size":        "dedup.cache_size",
		"dedup_cache_ttl":         "dedup.cache_ttl",
		"dedup_store_timeout":     "dedup.store_timeout",
		"dedup_breaker_threshold": "dedup.breaker_failure_threshold",
		"dedup_breaker_timeout":   "dedup.breaker_timeout",

		// Correlator
		"reconciliation_window": "correlator.reconciliation_window",
		"correlator_stripes":    "correlator.lock_stripes",

		// Aggregator
		"recompute_async":     "aggregator.recompute_async",
		"rebuild_parallelism": "aggregator.rebuild_parallelism",

		// Pipeline
		"pipeline_transport":      "pipeline.transport",
		"pipeline_buffer":         "pipeline.buffer",
		"pipeline_retry_count":    "pipeline.retry_count",
		"pipeline_retry_interval": "pipeline.retry_initial_interval",
		"pipeline_close_timeout":  "pipeline.close_timeout",

		// NATS
		"nats_url":        "nats.url",
		"nats_embedded":   "nats.embedded_server",
		"nats_store_dir":  "nats.store_dir",
		"nats_stream":     "nats.stream_name",
		"nats_max_memory": "nats.max_memory",
		"nats_max_store":  "nats.max_store",

		// WAL
		"wal_enabled":             "wal.enabled",
		"wal_dir":                 "wal.dir",
		"wal_retry_interval":      "wal.retry_interval",
		"wal_max_retries":         "wal.max_retries",
		"wal_compaction_interval": "wal.compaction_interval",

		// Auth
		"auth_enabled":        "auth.enabled",
		"jwt_secret":          "auth.jwt_secret",
		"admin_username":      "auth.admin_username",
		"admin_password_hash": "auth.admin_password_hash",
		"token_ttl":           "auth.token_ttl",

		// API
		"api_default_page_size": "api.default_page_size",
		"api_max_page_size":     "api.max_page_size",
		"rate_limit_ingest":     "api.rate_limit_ingest",
		"rate_limit_query":      "api.rate_limit_query",
		"rate_limit_auth":       "api.rate_limit_auth",
		"rate_limit_health":     "api.rate_limit_health",
		"cors_origins":          "api.cors_origins",
		"max_body_bytes":        "api.max_body_bytes",

		// Export
		"export_max_days":     "export.max_days",
		"export_default_days": "export.default_days",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	return ""
}

// WatchConfigFile watches the config file and invokes callback on change.
// The caller owns mutex protection around any reload.
func WatchConfigFile(path string, callback func()) error {
	provider := file.Provider(path)

	return provider.Watch(func(event interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}

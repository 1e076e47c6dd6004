// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration.
//
// Loading order (Koanf v2):
//  1. Defaults: built-in values for every optional setting
//  2. Config file: optional YAML file (config.yaml)
//  3. Environment variables: override any setting
//
// Config is immutable after Load() and safe for concurrent reads.
//
// Example:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    logging.Fatal().Err(err).Msg("configuration invalid")
//	}
//	db, err := database.New(cfg.Database)
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Dedup      DedupConfig      `koanf:"dedup"`
	Correlator CorrelatorConfig `koanf:"correlator"`
	Aggregator AggregatorConfig `koanf:"aggregator"`
	Pipeline   PipelineConfig   `koanf:"pipeline"`
	NATS       NATSConfig       `koanf:"nats"`
	WAL        WALConfig        `koanf:"wal"`
	Auth       AuthConfig       `koanf:"auth"`
	API        APIConfig        `koanf:"api"`
	Export     ExportConfig     `koanf:"export"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
//
// Environment variables: HTTP_HOST, HTTP_PORT, HTTP_READ_TIMEOUT,
// HTTP_WRITE_TIMEOUT, HTTP_SHUTDOWN_TIMEOUT.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Addr returns the host:port listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds DuckDB settings.
//
// Threads 0 means runtime.NumCPU(). MaxMemory uses DuckDB's size syntax
// ("2GB"). Environment variables: DUCKDB_PATH, DUCKDB_MAX_MEMORY,
// DUCKDB_THREADS.
type DatabaseConfig struct {
	Path                   string `koanf:"path"`
	MaxMemory              string `koanf:"max_memory"`
	Threads                int    `koanf:"threads"`
	MaxOpenConns           int    `koanf:"max_open_conns"`
	MaxIdleConns           int    `koanf:"max_idle_conns"`
	PreserveInsertionOrder bool   `koanf:"preserve_insertion_order"`
}

// DedupConfig tunes the deduplication gate.
//
// CacheSize bounds the in-memory recency cache; on a miss the gate falls
// through to the event store's unique index, so eviction never readmits a
// duplicate. StoreTimeout bounds the durability check; on expiry the gate
// fails closed.
type DedupConfig struct {
	CacheSize    int           `koanf:"cache_size"`
	CacheTTL     time.Duration `koanf:"cache_ttl"`
	StoreTimeout time.Duration `koanf:"store_timeout"`

	// Breaker settings guard the event store round trip.
	BreakerFailureThreshold uint32        `koanf:"breaker_failure_threshold"`
	BreakerTimeout          time.Duration `koanf:"breaker_timeout"`
}

// CorrelatorConfig tunes the session correlator.
//
// ReconciliationWindow is how far back a late leave may reconcile a forced
// closure. LockStripes sizes the keyed lock table; it must be a power of two.
type CorrelatorConfig struct {
	ReconciliationWindow time.Duration `koanf:"reconciliation_window"`
	LockStripes          int           `koanf:"lock_stripes"`
}

// AggregatorConfig tunes metric recomputation.
type AggregatorConfig struct {
	// RecomputeAsync recomputes affected partitions from the pipeline after
	// each session change. When false, recomputation happens only on demand.
	RecomputeAsync bool `koanf:"recompute_async"`

	// RebuildParallelism bounds concurrent partitions during a historical
	// rebuild.
	RebuildParallelism int `koanf:"rebuild_parallelism"`
}

// PipelineConfig selects and tunes the event pipeline transport.
//
// Transport is "gochannel" (in-process, default) or "nats" (JetStream,
// durable across restarts).
type PipelineConfig struct {
	Transport string `koanf:"transport"`
	Buffer    int    `koanf:"buffer"`

	RetryCount           int           `koanf:"retry_count"`
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval"`
	CloseTimeout         time.Duration `koanf:"close_timeout"`
}

// NATSConfig holds NATS JetStream settings, used when pipeline.transport is
// "nats". EmbeddedServer starts an in-process nats-server.
type NATSConfig struct {
	URL            string `koanf:"url"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`
	StreamName     string `koanf:"stream_name"`
	MaxMemory      int64  `koanf:"max_memory"`
	MaxStore       int64  `koanf:"max_store"`
}

// WALConfig holds write-ahead log settings for admitted events awaiting
// correlation.
type WALConfig struct {
	Enabled            bool          `koanf:"enabled"`
	Dir                string        `koanf:"dir"`
	RetryInterval      time.Duration `koanf:"retry_interval"`
	MaxRetries         int           `koanf:"max_retries"`
	CompactionInterval time.Duration `koanf:"compaction_interval"`
}

// AuthConfig holds query-API authentication settings. Ingestion is never
// authenticated here; this fences only the read and admin surface.
//
// When Enabled and AdminPasswordHash is empty, a random password is generated
// at startup and logged once.
type AuthConfig struct {
	Enabled           bool          `koanf:"enabled"`
	JWTSecret         string        `koanf:"jwt_secret"`
	AdminUsername     string        `koanf:"admin_username"`
	AdminPasswordHash string        `koanf:"admin_password_hash"`
	TokenTTL          time.Duration `koanf:"token_ttl"`
}

// APIConfig holds pagination, rate limiting, and CORS settings.
type APIConfig struct {
	DefaultPageSize int `koanf:"default_page_size"`
	MaxPageSize     int `koanf:"max_page_size"`

	// Rate limits are requests per minute per client IP, per route group.
	RateLimitIngest int `koanf:"rate_limit_ingest"`
	RateLimitQuery  int `koanf:"rate_limit_query"`
	RateLimitAuth   int `koanf:"rate_limit_auth"`
	RateLimitHealth int `koanf:"rate_limit_health"`

	CORSOrigins []string `koanf:"cors_origins"`

	// MaxBodyBytes caps ingestion request bodies.
	MaxBodyBytes int64 `koanf:"max_body_bytes"`
}

// ExportConfig bounds the data export endpoint.
type ExportConfig struct {
	MaxDays     int `koanf:"max_days"`
	DefaultDays int `koanf:"default_days"`
}

// LoggingConfig holds log output settings.
//
// Environment variables: LOG_LEVEL, LOG_FORMAT, LOG_CALLER.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Load loads, layers, and validates the full configuration. It is the only
// entry point main should use.
func Load() (*Config, error) {
	return LoadWithKoanf()
}

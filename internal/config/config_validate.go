// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package config

import (
	"fmt"
)

// Validate checks that the loaded configuration is internally consistent.
// Error messages name the environment variable an operator would set.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateDedup(); err != nil {
		return err
	}
	if err := c.validateCorrelator(); err != nil {
		return err
	}
	if err := c.validateAggregator(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateWAL(); err != nil {
		return err
	}
	if err := c.validateAuth(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateExport(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP_READ_TIMEOUT must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP_WRITE_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Path == "" {
		return fmt.Errorf("DUCKDB_PATH must not be empty")
	}
	if c.Database.Threads < 0 {
		return fmt.Errorf("DUCKDB_THREADS must be >= 0 (0 = all cores)")
	}
	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("DUCKDB_MAX_OPEN_CONNS must be >= 1")
	}
	return nil
}

func (c *Config) validateDedup() error {
	if c.Dedup.CacheSize < 1 {
		return fmt.Errorf("DEDUP_CACHE_SIZE must be >= 1")
	}
	if c.Dedup.CacheTTL <= 0 {
		return fmt.Errorf("DEDUP_CACHE_TTL must be positive")
	}
	if c.Dedup.StoreTimeout <= 0 {
		return fmt.Errorf("DEDUP_STORE_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) validateCorrelator() error {
	if c.Correlator.ReconciliationWindow < 0 {
		return fmt.Errorf("RECONCILIATION_WINDOW must not be negative")
	}
	if c.Correlator.LockStripes < 1 {
		return fmt.Errorf("CORRELATOR_STRIPES must be >= 1")
	}
	// Stripe index uses a mask, so the count must be a power of two.
	if c.Correlator.LockStripes&(c.Correlator.LockStripes-1) != 0 {
		return fmt.Errorf("CORRELATOR_STRIPES must be a power of two, got %d", c.Correlator.LockStripes)
	}
	return nil
}

func (c *Config) validateAggregator() error {
	if c.Aggregator.RebuildParallelism < 1 {
		return fmt.Errorf("REBUILD_PARALLELISM must be >= 1")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	switch c.Pipeline.Transport {
	case "gochannel", "nats":
	default:
		return fmt.Errorf("PIPELINE_TRANSPORT must be gochannel or nats, got %q", c.Pipeline.Transport)
	}
	if c.Pipeline.Buffer < 1 {
		return fmt.Errorf("PIPELINE_BUFFER must be >= 1")
	}
	if c.Pipeline.Transport == "nats" && c.NATS.URL == "" && !c.NATS.EmbeddedServer {
		return fmt.Errorf("NATS_URL is required when PIPELINE_TRANSPORT=nats without NATS_EMBEDDED=true")
	}
	return nil
}

func (c *Config) validateWAL() error {
	if !c.WAL.Enabled {
		return nil
	}
	if c.WAL.Dir == "" {
		return fmt.Errorf("WAL_DIR is required when WAL_ENABLED=true")
	}
	if c.WAL.RetryInterval <= 0 {
		return fmt.Errorf("WAL_RETRY_INTERVAL must be positive")
	}
	return nil
}

func (c *Config) validateAuth() error {
	if !c.Auth.Enabled {
		return nil
	}
	if len(c.Auth.JWTSecret) > 0 && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters when set")
	}
	if c.Auth.AdminUsername == "" {
		return fmt.Errorf("ADMIN_USERNAME must not be empty when AUTH_ENABLED=true")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive")
	}
	return nil
}

func (c *Config) validateAPI() error {
	if c.API.DefaultPageSize < 1 {
		return fmt.Errorf("API_DEFAULT_PAGE_SIZE must be >= 1")
	}
	if c.API.MaxPageSize < c.API.DefaultPageSize {
		return fmt.Errorf("API_MAX_PAGE_SIZE (%d) must be >= API_DEFAULT_PAGE_SIZE (%d)",
			c.API.MaxPageSize, c.API.DefaultPageSize)
	}
	if c.API.MaxBodyBytes < 1024 {
		return fmt.Errorf("MAX_BODY_BYTES must be at least 1024")
	}
	return nil
}

func (c *Config) validateExport() error {
	if c.Export.MaxDays < 1 {
		return fmt.Errorf("EXPORT_MAX_DAYS must be >= 1")
	}
	if c.Export.DefaultDays < 1 || c.Export.DefaultDays > c.Export.MaxDays {
		return fmt.Errorf("EXPORT_DEFAULT_DAYS must be between 1 and EXPORT_MAX_DAYS (%d)", c.Export.MaxDays)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "disabled":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error, fatal, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

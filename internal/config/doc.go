// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

/*
Package config provides layered configuration management using Koanf v2.

Configuration merges three sources, later layers overriding earlier ones:

 1. Built-in defaults (defaultConfig)
 2. Optional YAML file (config.yaml, or CONFIG_PATH)
 3. Environment variables via an explicit name table

The environment table in envTransformFunc is a closed mapping: unlisted
variables are ignored rather than guessed at, so shell noise never becomes
configuration. Slice-valued settings accept comma-separated env strings.

Load() validates the merged result before returning it; validation errors
name the environment variable an operator would fix.

Example:

	cfg, err := config.Load()
	if err != nil {
	    logging.Fatal().Err(err).Msg("configuration invalid")
	}
	logging.Init(logging.Config{
	    Level:  cfg.Logging.Level,
	    Format: cfg.Logging.Format,
	    Caller: cfg.Logging.Caller,
	})
*/
package config

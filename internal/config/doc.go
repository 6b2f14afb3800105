// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for evalchat.
//
// Configuration is TOML, with built-in defaults, environment variable
// overrides and validation that reports every problem at once.
//
// # Key Types
//
//   - Config: Main configuration structure
//   - ServerConfig: Service URL, timeouts, rate limit and paging
//   - AuthConfig: Bearer token location
//   - LogConfig: zerolog level, format and output file
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Command line flags (applied by the CLI)
//   - Environment variables (EVALCHAT_*)
//   - ~/.evalchat/config.toml, or the --config path
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	timeout := cfg.Server.Timeout()
package config

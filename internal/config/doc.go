// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides typed configuration loading and management for manthan.
//
// Configuration is read from TOML, filled with defaults, overridden from the
// environment and validated before any backend is contacted.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - ProviderConfig: One provider account and its models, in declaration order
//   - ModelConfig: Per-model parameters and policy overrides
//   - Watcher: Publishes reloaded configs when the file changes
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (MANTHAN_*)
//   - $MANTHAN_CONFIG or ~/.manthan/config.toml
//   - Built-in defaults
//
// API keys never live in the file. Each provider names the environment
// variable that holds its key; a .env file next to the config is loaded
// into the environment first.
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Resolve the models for a turn:
//
//	for _, desc := range cfg.EnabledModels() {
//	    fmt.Println(desc.Key())
//	}
package config

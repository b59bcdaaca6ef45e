// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for vaultsec.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, validation, and hot reload.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - SecurityConfig: auto-lock, screen recording and check timing
//   - ClipboardConfig: secure clipboard defaults
//   - VaultConfig: PIN hash, TOTP secret and lockout policy
//   - Watcher: reloads the file on change
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (VAULTSEC_*)
//   - ~/.vaultsec/config.toml
//   - ~/.vaultsec/config.json
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	coord, err := security.NewCoordinator(cfg.CoordinatorConfig(), deps)
//
// Reload on change:
//
//	w, err := config.Watch(path, func(c *config.Config) {
//	    coord.SetAutoLockMinutes(c.Security.AutoLockMinutes)
//	}, nil)
package config

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for orchat.
//
// Supports both TOML and JSON configuration formats, with defaults, a .env
// file, environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - $ORCHAT_HOME/config.toml (default ~/.orchat/config.toml)
//   - $ORCHAT_HOME/config.json
//   - Built-in defaults
//
// Environment overrides: OPENROUTER_API_KEY, ORCHAT_OPENROUTER_KEY,
// ORCHAT_MODEL, ORCHAT_BASE_URL, ORCHAT_ADDR, ORCHAT_SERVER_URL,
// ORCHAT_STORAGE_DRIVER, ORCHAT_STORAGE_PATH, ORCHAT_LOG_LEVEL and
// ORCHAT_LOG_FORMAT.
package config

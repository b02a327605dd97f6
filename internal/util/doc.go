// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across orchat.
//
//   - AtomicWriteFile, WriteJSON, ReadJSON: crash-safe file persistence
//   - TruncateRunes, SingleLine: UTF-8 safe display helpers
package util

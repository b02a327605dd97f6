// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transport reads a chunk-protocol response body and delivers the
// decoded events in arrival order.
//
// The read loop is cancellable through its context: a blocked read is
// released by closing the body, and the loop then reports ErrCanceled
// rather than a read failure.
package transport

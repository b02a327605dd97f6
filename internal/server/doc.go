// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the chat backend over HTTP.
//
// Each chat turn is relayed to OpenRouter and streamed back to the client as
// server-sent events in the orchat chunk protocol.
//
// # Endpoints
//
//   - POST   /api/chat/stream          - Streamed chat turn (text/event-stream)
//   - POST   /api/chat                 - Non-streamed chat turn
//   - GET    /api/threads              - List threads, optional ?q= search
//   - GET    /api/threads/{id}         - Thread with its messages
//   - GET    /api/threads/{id}/export  - Thread rendered as Markdown
//   - PATCH  /api/threads/{id}         - Update thread settings
//   - DELETE /api/threads/{id}         - Delete a thread
//   - GET    /api/models               - Model registry
//   - GET    /api/usage                - Token and cost usage, ?days= trends
//   - GET    /health                   - Liveness and upstream status
//   - GET    /metrics                  - Prometheus metrics
//
// # Stream Order
//
// A streamed turn emits thread_info (new threads only), user_message,
// ai_start, any reasoning/annotations/ai_chunk events, then ai_complete and
// the [DONE] sentinel. A failed turn emits an error event instead of
// ai_complete.
//
// # Middleware
//
// Requests pass through panic recovery, metrics, access logging, security
// headers, CORS, per-IP rate limiting, and optional bearer-token auth on
// /api routes.
//
// # Usage
//
//	srv := server.NewServer(cfg.Server, store, client).
//		WithLogger(logger).
//		WithLedger(ledger)
//	if err := srv.Start(); err != nil {
//		return err
//	}
package server

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session provides the streaming session controller.
//
// A Controller sends a chat message to the server and turns the chunk
// protocol response into typed callbacks. Each controller owns at most one
// in-flight stream: starting a new stream cancels the previous one, whose
// OnError receives ErrSuperseded before the new stream dispatches anything.
//
// # Key Types
//
//   - Controller: single entry point for sending messages
//   - Callbacks: per-stream event handlers
//   - Completion: the assembled result of a finished turn
//
// # Usage
//
//	ctrl := session.NewController("http://127.0.0.1:8787")
//	completion, err := ctrl.StreamMessage(ctx, session.StreamRequest{Content: "Hello"}, session.Callbacks{
//	    OnChunk: func(chunk, full string, _ *model.TokenMetrics) { fmt.Print(chunk) },
//	})
//	if errors.Is(err, session.ErrCanceled) {
//	    // user aborted, not a failure
//	}
//
// # State Machine
//
// Each stream moves idle -> requesting -> streaming -> completed, errored or
// canceled. A validation failure goes from idle straight to errored.
package session

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for threads and messages.
//
// This package defines the core domain types shared by the server, the
// streaming client and the storage layer.
//
// # Key Types
//
//   - Thread: an ordered conversation with its own id
//   - Message: single message with role, content, images and optional reasoning
//   - TokenMetrics: running or final token, throughput and cost estimate
//   - Descriptor: static configuration of an upstream model
//
// # Usage
//
// Start a thread from the first user message:
//
//	th := model.NewThread(model.TitleFromContent(text), model.DefaultModelID)
//	th.Append(model.NewUserMessage(text, nil))
//
// Resolve a model's feature flags:
//
//	desc, known := model.LookupDescriptor("anthropic/claude-3.7-sonnet")
//	if known && desc.SupportsThinking() {
//	    ...
//	}
package model

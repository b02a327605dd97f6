// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud provides the OpenRouter client used to reach upstream models.
//
// OpenRouter provides access to multiple LLM providers through a single API.
// This package builds the provider request for a model's feature flags,
// performs the call with bounded exponential-backoff retry, and parses the
// streaming response.
//
// # Key Types
//
//   - OpenRouterClient: HTTP client with retry and streaming support
//   - RetryPolicy: pure retry/backoff policy, testable without I/O
//   - ChatRequest: provider request built by BuildRequest
//   - APIError: non-retryable or exhausted provider failure
//
// # Usage
//
// Build a request and stream it:
//
//	desc, _ := model.LookupDescriptor("anthropic/claude-3.7-sonnet")
//	req := cloud.BuildRequest(desc, thread.History(), cloud.RequestOptions{
//	    Reasoning: true, ReasoningEffort: "high", Stream: true,
//	})
//	result, err := client.Stream(ctx, req, cloud.StreamHandler{
//	    OnContent: func(delta string) { fmt.Print(delta) },
//	})
//
// # Security
//
// API keys are never logged; a short SHA-256 fingerprint is used instead.
// Requests use TLS 1.2+ and response bodies are size-limited.
package cloud

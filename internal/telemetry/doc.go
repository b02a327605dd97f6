// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry estimates token usage, throughput and cost while a
// completion streams, and keeps a cumulative per-model usage ledger.
//
// Token counts are character based with a per-family divisor. They are an
// order-of-magnitude estimate and are never reconciled with the usage the
// provider reports.
//
// # Key Types
//
//   - Estimator: live metrics for one request, safe to peek mid-stream
//   - UsageLedger: cumulative tokens and cost per model, persisted as JSON
//
// # Usage
//
//	est := telemetry.NewEstimator()
//	est.StartTracking(prompt, "openai/gpt-4o")
//	for chunk := range chunks {
//	    est.AddTokensFromChunk(chunk)
//	    render(est.CurrentMetrics())
//	}
//	final := est.StopTracking()
//
// # Privacy
//
// Ledger entries hold token counts and costs only. Message content is never
// stored.
package telemetry

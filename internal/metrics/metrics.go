// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jeranaias/orchat/internal/model"
)

// Stream outcomes used as the "outcome" label of StreamsTotal.
const (
	OutcomeCompleted = "completed"
	OutcomeError     = "error"
	OutcomeCanceled  = "canceled"
)

// ============================================================================
// HTTP
// ============================================================================

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 15, 60},
		},
		[]string{"method", "path"},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchat_rate_limit_hits_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"path"},
	)
)

// ============================================================================
// STREAMS
// ============================================================================

var (
	StreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchat_streams_active",
			Help: "Chat turns currently streaming",
		},
	)

	StreamsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchat_streams_total",
			Help: "Finished chat turns by outcome",
		},
		[]string{"outcome"},
	)

	OutputTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchat_output_tokens_total",
			Help: "Estimated output tokens generated",
		},
		[]string{"model"},
	)

	ThreadsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orchat_threads_created_total",
			Help: "Threads created by chat requests",
		},
	)
)

// ============================================================================
// UPSTREAM
// ============================================================================

var (
	UpstreamAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchat_upstream_attempts_total",
			Help: "Upstream HTTP attempts by model and status (0 for transport failures)",
		},
		[]string{"model", "status"},
	)

	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchat_upstream_latency_seconds",
			Help:    "Time to upstream response headers",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"model"},
	)

	UpstreamRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchat_upstream_retries_total",
			Help: "Upstream retries scheduled",
		},
		[]string{"model"},
	)
)

// UpstreamObserver feeds upstream client measurements into the collectors.
// Model ids are reduced to their base id to bound label cardinality.
type UpstreamObserver struct{}

// ObserveAttempt records one HTTP attempt.
func (UpstreamObserver) ObserveAttempt(modelID string, status int, d time.Duration) {
	base := model.BaseModelID(modelID)
	UpstreamAttempts.WithLabelValues(base, strconv.Itoa(status)).Inc()
	UpstreamLatency.WithLabelValues(base).Observe(d.Seconds())
}

// ObserveRetry records a scheduled retry.
func (UpstreamObserver) ObserveRetry(modelID string, _ int) {
	UpstreamRetries.WithLabelValues(model.BaseModelID(modelID)).Inc()
}

// StreamStarted marks a chat turn as streaming and returns a function that
// records its outcome. The returned function must be called exactly once.
func StreamStarted() func(outcome string) {
	StreamsActive.Inc()
	return func(outcome string) {
		StreamsActive.Dec()
		StreamsTotal.WithLabelValues(outcome).Inc()
	}
}

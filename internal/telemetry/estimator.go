// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"math"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jeranaias/orchat/internal/model"
)

// RateWindow is the number of instantaneous rates averaged for throughput.
const RateWindow = 10

// minElapsed keeps the first chunk's rate finite.
const minElapsed = time.Millisecond

// EstimateTokens returns ceil(runes / divisor) for the model's family.
func EstimateTokens(text, modelID string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return int(math.Ceil(float64(n) / charsPerToken(modelID)))
}

// =============================================================================
// ESTIMATOR
// =============================================================================

// Estimator tracks the running token metrics of one request at a time.
// It is safe for concurrent use so a renderer can peek while chunks arrive.
type Estimator struct {
	mu  sync.Mutex
	now func() time.Time

	modelID      string
	start        time.Time
	end          time.Time
	inputTokens  int
	outputTokens int
	rates        []float64
}

// NewEstimator creates an idle estimator.
func NewEstimator() *Estimator {
	return &Estimator{now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (e *Estimator) WithClock(now func() time.Time) *Estimator {
	e.now = now
	return e
}

// StartTracking resets all counters, estimates the input tokens and records
// the start time.
func (e *Estimator) StartTracking(input, modelID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.modelID = modelID
	e.start = e.now()
	e.end = time.Time{}
	e.inputTokens = EstimateTokens(input, modelID)
	e.outputTokens = 0
	e.rates = e.rates[:0]
}

// AddTokensFromChunk counts one output chunk and returns the instantaneous
// rate, output tokens so far over elapsed seconds. The smoothed throughput
// is reported by CurrentMetrics. A chunk with no tokens adds no sample.
func (e *Estimator) AddTokensFromChunk(chunk string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	tokens := EstimateTokens(chunk, e.modelID)
	if tokens == 0 {
		if n := len(e.rates); n > 0 {
			return e.rates[n-1]
		}
		return 0
	}
	e.outputTokens += tokens

	elapsed := e.now().Sub(e.start)
	if elapsed < minElapsed {
		elapsed = minElapsed
	}
	rate := float64(e.outputTokens) / elapsed.Seconds()

	e.rates = append(e.rates, rate)
	if len(e.rates) > RateWindow {
		e.rates = e.rates[len(e.rates)-RateWindow:]
	}
	return rate
}

// StopTracking records the end time and returns the final metrics.
func (e *Estimator) StopTracking() model.TokenMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.end.IsZero() {
		e.end = e.now()
	}
	return e.snapshot()
}

// CurrentMetrics returns the metrics so far without changing any state.
func (e *Estimator) CurrentMetrics() model.TokenMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot()
}

func (e *Estimator) throughput() float64 {
	if len(e.rates) == 0 {
		return 0
	}
	var sum float64
	for _, r := range e.rates {
		sum += r
	}
	return sum / float64(len(e.rates))
}

func (e *Estimator) snapshot() model.TokenMetrics {
	total := e.inputTokens + e.outputTokens
	cost := EstimateCost(e.modelID, e.inputTokens, e.outputTokens)
	window := ContextUsage(e.modelID, total)

	m := model.TokenMetrics{
		InputTokens:     e.inputTokens,
		OutputTokens:    e.outputTokens,
		TotalTokens:     total,
		TokensPerSecond: e.throughput(),
		EstimatedCost:   &cost,
		ContextWindow:   &window,
	}
	if !e.start.IsZero() {
		m.StartTime = e.start.UnixMilli()
	}
	if !e.end.IsZero() {
		end := e.end.UnixMilli()
		m.EndTime = &end
	}
	return m
}

// ContextUsage returns how much of the model's context window totalTokens
// fills. The percentage is capped at 100 and rounded to 2 decimals.
func ContextUsage(modelID string, totalTokens int) model.ContextWindow {
	limit := MaxContext(modelID)
	pct := math.Min(100, 100*float64(totalTokens)/float64(limit))
	return model.ContextWindow{
		Used:       totalTokens,
		Total:      limit,
		Percentage: math.Round(pct*100) / 100,
	}
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"strings"

	"github.com/jeranaias/orchat/internal/model"
)

// DefaultContextWindow is assumed for models missing from the price table.
const DefaultContextWindow = 128000

// Price is a model's rate in dollars per 1K tokens and its context size.
type Price struct {
	InputPer1K  float64
	OutputPer1K float64
	MaxContext  int
}

// fallbackPrice is charged for models missing from the table. It sits at
// the top of the table so unknown models over-estimate.
var fallbackPrice = Price{InputPer1K: 0.01, OutputPer1K: 0.03, MaxContext: DefaultContextWindow}

var prices = map[string]Price{
	"anthropic/claude-3.7-sonnet": {0.003, 0.015, 200000},
	"anthropic/claude-sonnet-4":   {0.003, 0.015, 200000},
	"anthropic/claude-3.5-haiku":  {0.0008, 0.004, 200000},

	"openai/gpt-4o":                {0.0025, 0.01, 128000},
	"openai/gpt-4o-mini":           {0.00015, 0.0006, 128000},
	"openai/gpt-4o-search-preview": {0.0025, 0.01, 128000},
	"openai/o4-mini":               {0.0011, 0.0044, 200000},

	"google/gemini-2.5-flash-preview": {0.00015, 0.0006, 1048576},
	"google/gemini-2.5-pro-preview":   {0.00125, 0.01, 1048576},

	"x-ai/grok-3-mini-beta": {0.0003, 0.0005, 131072},

	"deepseek/deepseek-r1":           {0.00055, 0.00219, 163840},
	"deepseek/deepseek-chat-v3-0324": {0.00027, 0.0011, 163840},

	"perplexity/sonar":           {0.001, 0.001, 127072},
	"perplexity/sonar-reasoning": {0.001, 0.005, 127000},

	"mistralai/codestral-2501":         {0.0003, 0.0009, 262144},
	"qwen/qwen-2.5-coder-32b-instruct": {0.00007, 0.00016, 32768},

	"meta-llama/llama-4-maverick": {0.00017, 0.0006, 1048576},
}

// LookupPrice returns the price entry for a model id, ignoring feature
// suffixes. Unknown models get the fallback rate and a 128K window.
func LookupPrice(modelID string) (Price, bool) {
	if p, ok := prices[model.BaseModelID(modelID)]; ok {
		return p, true
	}
	return fallbackPrice, false
}

// EstimateCost returns the dollar cost of a request.
func EstimateCost(modelID string, inputTokens, outputTokens int) float64 {
	p, _ := LookupPrice(modelID)
	return float64(inputTokens)/1000*p.InputPer1K + float64(outputTokens)/1000*p.OutputPer1K
}

// MaxContext returns the model's context window in tokens.
func MaxContext(modelID string) int {
	p, _ := LookupPrice(modelID)
	if p.MaxContext <= 0 {
		return DefaultContextWindow
	}
	return p.MaxContext
}

// charsPerToken returns the divisor used by EstimateTokens.
func charsPerToken(modelID string) float64 {
	id := strings.ToLower(model.BaseModelID(modelID))
	switch {
	case strings.Contains(id, "codestral"), strings.Contains(id, "coder"), strings.Contains(id, "code"):
		return 3.5
	case strings.HasPrefix(id, "google/"), strings.Contains(id, "gemini"):
		return 3.8
	case strings.HasPrefix(id, "openai/"), strings.HasPrefix(id, "anthropic/"):
		return 4.0
	default:
		return 4.0
	}
}

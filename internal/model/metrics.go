// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "fmt"

// ContextWindow describes how much of a model's context a turn consumed.
type ContextWindow struct {
	Used       int     `json:"used"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// TokenMetrics is a running (or final) token and cost estimate for one
// request. StartTime and EndTime are Unix milliseconds.
type TokenMetrics struct {
	InputTokens     int            `json:"inputTokens"`
	OutputTokens    int            `json:"outputTokens"`
	TotalTokens     int            `json:"totalTokens"`
	TokensPerSecond float64        `json:"tokensPerSecond"`
	StartTime       int64          `json:"startTime"`
	EndTime         *int64         `json:"endTime,omitempty"`
	EstimatedCost   *float64       `json:"estimatedCost,omitempty"`
	ContextWindow   *ContextWindow `json:"contextWindow,omitempty"`
}

// Clone returns a deep copy of the metrics.
func (m *TokenMetrics) Clone() *TokenMetrics {
	if m == nil {
		return nil
	}
	c := *m
	if m.EndTime != nil {
		v := *m.EndTime
		c.EndTime = &v
	}
	if m.EstimatedCost != nil {
		v := *m.EstimatedCost
		c.EstimatedCost = &v
	}
	if m.ContextWindow != nil {
		v := *m.ContextWindow
		c.ContextWindow = &v
	}
	return &c
}

// Format returns a compact single-line summary, e.g.
// "412 tokens | 38.2 tok/s | $0.0031 | 1.2% ctx".
func (m *TokenMetrics) Format() string {
	if m == nil {
		return ""
	}
	s := fmt.Sprintf("%d tokens | %.1f tok/s", m.TotalTokens, m.TokensPerSecond)
	if m.EstimatedCost != nil {
		s += fmt.Sprintf(" | $%.4f", *m.EstimatedCost)
	}
	if m.ContextWindow != nil {
		s += fmt.Sprintf(" | %.1f%% ctx", m.ContextWindow.Percentage)
	}
	return s
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"strings"

	"github.com/jeranaias/orchat/internal/model"
)

// =============================================================================
// HTTP API TYPES
// =============================================================================

// Effort levels accepted for reasoning and web search.
const (
	EffortLow    = "low"
	EffortMedium = "medium"
	EffortHigh   = "high"
)

// Feature toggles an optional model feature for one request.
type Feature struct {
	Enabled bool   `json:"enabled"`
	Effort  string `json:"effort,omitempty"`
}

// IsOn reports whether the feature is present and enabled.
func (f *Feature) IsOn() bool {
	return f != nil && f.Enabled
}

// EffortOrDefault returns the requested effort, or medium when unset or
// unrecognized.
func (f *Feature) EffortOrDefault() string {
	if f == nil {
		return EffortMedium
	}
	switch f.Effort {
	case EffortLow, EffortMedium, EffortHigh:
		return f.Effort
	default:
		return EffortMedium
	}
}

// ChatRequest is the body of POST /api/chat and POST /api/chat/stream.
type ChatRequest struct {
	Content   string           `json:"content"`
	ThreadID  string           `json:"threadId,omitempty"`
	Model     string           `json:"model,omitempty"`
	Images    []model.Image    `json:"images,omitempty"`
	Documents []model.Document `json:"documents,omitempty"`
	Reasoning *Feature         `json:"reasoning,omitempty"`
	WebSearch *Feature         `json:"webSearch,omitempty"`
}

// HasInput reports whether the request carries text, an image or a
// document. Requests without input are rejected before any upstream call.
func (r *ChatRequest) HasInput() bool {
	return strings.TrimSpace(r.Content) != "" || len(r.Images) > 0 || len(r.Documents) > 0
}

// ChatResponse is the body returned by POST /api/chat.
type ChatResponse struct {
	ThreadID         string              `json:"threadId"`
	UserMessage      *model.Message      `json:"userMessage"`
	AssistantMessage *model.Message      `json:"assistantMessage"`
	TokenMetrics     *model.TokenMetrics `json:"tokenMetrics,omitempty"`
}

// ErrorBody describes a failed API call.
type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

// ErrorResponse is the JSON body of every non-2xx API response.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

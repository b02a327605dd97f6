// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jeranaias/orchat/internal/model"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// Content part types.
const (
	PartText     = "text"
	PartImageURL = "image_url"
)

// ImageURL is the payload of an image_url content part.
type ImageURL struct {
	URL string `json:"url"`
}

// ContentPart is one element of a multi-part message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// MessageContent is either plain text or a list of parts. Plain text is
// encoded as a bare JSON string; parts as an array.
type MessageContent struct {
	Text  string
	Parts []ContentPart
}

// IsMultipart reports whether the content is encoded as an array of parts.
func (c MessageContent) IsMultipart() bool {
	return c.Parts != nil
}

// MarshalJSON implements json.Marshaler.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = MessageContent{}
		return nil
	}
	if data[0] == '[' {
		var parts []ContentPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		*c = MessageContent{Parts: parts}
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("message content: %w", err)
	}
	*c = MessageContent{Text: text}
	return nil
}

// ChatMessage is a message in provider format.
type ChatMessage struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// NewTextMessage creates a text-only message.
func NewTextMessage(role, text string) ChatMessage {
	return ChatMessage{Role: role, Content: MessageContent{Text: text}}
}

// ReasoningConfig is the provider's reasoning block.
type ReasoningConfig struct {
	Effort    string `json:"effort,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
	Exclude   bool   `json:"exclude"`
}

// WebSearchOptions configures built-in web search.
type WebSearchOptions struct {
	SearchContextSize string `json:"search_context_size"`
}

// UsageOptions asks the provider to report token usage.
type UsageOptions struct {
	Include bool `json:"include"`
}

// ChatRequest represents a request to the chat completions endpoint.
type ChatRequest struct {
	Model            string            `json:"model"`
	Messages         []ChatMessage     `json:"messages"`
	Stream           bool              `json:"stream"`
	Reasoning        *ReasoningConfig  `json:"reasoning,omitempty"`
	WebSearchOptions *WebSearchOptions `json:"web_search_options,omitempty"`
	Usage            *UsageOptions     `json:"usage,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// Usage is provider-reported token accounting.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost,omitempty"`
}

// ResponseMessage is the assistant message of a non-streaming response.
type ResponseMessage struct {
	Role        string             `json:"role"`
	Content     string             `json:"content"`
	Reasoning   string             `json:"reasoning,omitempty"`
	Annotations []model.Annotation `json:"annotations,omitempty"`
}

// ChatResponse represents a response from the chat completions endpoint.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      ResponseMessage `json:"message"`
		FinishReason string          `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage,omitempty"`
}

// Result is the outcome of a completed upstream call.
type Result struct {
	ID           string
	Model        string
	Content      string
	Reasoning    string
	Annotations  []model.Annotation
	FinishReason string
	Usage        *Usage
}

// apiErrorResponse represents an error response from the API.
type apiErrorResponse struct {
	Error *apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
}

// code renders the error code, which OpenRouter sends as a number or string.
func (b *apiErrorBody) code() string {
	if len(b.Code) == 0 || string(b.Code) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(b.Code, &s); err == nil {
		return s
	}
	return string(b.Code)
}

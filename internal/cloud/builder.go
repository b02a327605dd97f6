// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"strings"

	"github.com/jeranaias/orchat/internal/model"
)

// Model id suffixes understood by OpenRouter.
const (
	SuffixThinking = ":thinking"
	SuffixOnline   = ":online"
)

// Effort levels.
const (
	EffortLow    = "low"
	EffortMedium = "medium"
	EffortHigh   = "high"
)

// thinkingBudgets maps effort to the reasoning token budget of
// thinking-style models.
var thinkingBudgets = map[string]int{
	EffortLow:    1000,
	EffortMedium: 2000,
	EffortHigh:   4000,
}

// RequestOptions selects the optional features of one request.
type RequestOptions struct {
	Reasoning       bool
	ReasoningEffort string
	WebSearch       bool
	WebSearchEffort string
	Stream          bool

	// Documents are folded into the text of the last user message.
	Documents []model.Document
}

// =============================================================================
// REQUEST BUILDER
// =============================================================================

// BuildRequest translates a model descriptor, conversation history and
// feature options into the provider request.
func BuildRequest(desc model.Descriptor, history []model.Message, opts RequestOptions) ChatRequest {
	req := ChatRequest{
		Model:    ResolveModelID(desc, opts),
		Messages: buildMessages(history, opts.Documents),
		Stream:   opts.Stream,
		Usage:    &UsageOptions{Include: true},
	}
	req.Reasoning = reasoningConfig(desc, opts)
	req.WebSearchOptions = webSearchOptions(desc, opts)
	return req
}

// ResolveModelID returns the model id with feature suffixes applied.
// ":thinking" always precedes ":online".
func ResolveModelID(desc model.Descriptor, opts RequestOptions) string {
	id := model.BaseModelID(desc.ID)

	if opts.WebSearch && desc.WebSearchOptional() {
		id += SuffixOnline
	}
	if opts.Reasoning && desc.SupportsThinking() && !desc.ReasoningForced() {
		if i := strings.Index(id, SuffixOnline); i >= 0 {
			id = id[:i] + SuffixThinking + id[i:]
		} else {
			id += SuffixThinking
		}
	}
	return id
}

// ThinkingBudget returns the reasoning token budget for an effort level.
// Unknown levels use the medium budget.
func ThinkingBudget(effort string) int {
	if b, ok := thinkingBudgets[effort]; ok {
		return b
	}
	return thinkingBudgets[EffortMedium]
}

// normalizeEffort returns effort if it is a known level, else medium.
func normalizeEffort(effort string) string {
	switch effort {
	case EffortLow, EffortMedium, EffortHigh:
		return effort
	default:
		return EffortMedium
	}
}

func reasoningConfig(desc model.Descriptor, opts RequestOptions) *ReasoningConfig {
	if !desc.HasReasoning {
		return nil
	}
	forced := desc.ReasoningForced()
	if !opts.Reasoning && !forced {
		return nil
	}

	cfg := &ReasoningConfig{Exclude: false}
	switch desc.ReasoningType {
	case model.ReasoningThinking:
		if opts.Reasoning {
			cfg.MaxTokens = ThinkingBudget(opts.ReasoningEffort)
		}
	case model.ReasoningEffort:
		cfg.Effort = normalizeEffort(opts.ReasoningEffort)
	}
	return cfg
}

func webSearchOptions(desc model.Descriptor, opts RequestOptions) *WebSearchOptions {
	if !opts.WebSearch || !desc.WebSearchOptional() {
		return nil
	}
	return &WebSearchOptions{SearchContextSize: normalizeEffort(opts.WebSearchEffort)}
}

// =============================================================================
// MESSAGE CONVERSION
// =============================================================================

func buildMessages(history []model.Message, docs []model.Document) []ChatMessage {
	lastUser := -1
	if len(docs) > 0 {
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].Role == model.RoleUser {
				lastUser = i
				break
			}
		}
	}

	out := make([]ChatMessage, 0, len(history))
	for i, m := range history {
		if !m.Role.Valid() {
			continue
		}
		text := m.Content
		if i == lastUser {
			text = FoldDocuments(text, docs)
		}
		out = append(out, ToChatMessage(m.Role, text, m.Images))
	}
	return out
}

// ToChatMessage builds a provider message. Text-only messages use a bare
// string; a message with any image uses a list of parts with the text part
// first.
func ToChatMessage(role model.Role, text string, images []model.Image) ChatMessage {
	if len(images) == 0 {
		return NewTextMessage(role.String(), text)
	}

	parts := make([]ContentPart, 0, len(images)+1)
	if strings.TrimSpace(text) != "" {
		parts = append(parts, ContentPart{Type: PartText, Text: text})
	}
	for _, img := range images {
		parts = append(parts, ContentPart{Type: PartImageURL, ImageURL: &ImageURL{URL: img.URL}})
	}
	return ChatMessage{Role: role.String(), Content: MessageContent{Parts: parts}}
}

// FoldDocuments appends attached documents to the message text.
func FoldDocuments(text string, docs []model.Document) string {
	if len(docs) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString(text)
	for _, d := range docs {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		name := d.Name
		if name == "" {
			name = "document"
		}
		b.WriteString("--- Document: ")
		b.WriteString(name)
		b.WriteString(" ---\n")
		b.WriteString(d.Content)
	}
	return b.String()
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"sort"
	"strings"
)

// Reasoning types understood by the request builder.
const (
	// ReasoningThinking models switch reasoning on with a ":thinking" model
	// suffix and take a token budget.
	ReasoningThinking = "thinking"
	// ReasoningEffort models take an effort level in the reasoning block.
	ReasoningEffort = "effort"
)

// Feature modes shared by reasoning and web search.
const (
	// ModeOptional means the caller decides per request.
	ModeOptional = "optional"
	// ModeForced means the feature is built into the model and cannot be
	// configured.
	ModeForced = "forced"
)

// Pricing tiers used for display.
const (
	TierBudget   = "budget"
	TierStandard = "standard"
	TierPremium  = "premium"
)

// =============================================================================
// MODEL DESCRIPTOR
// =============================================================================

// Descriptor is the static configuration of one upstream model.
// Descriptors are read-only after package initialization.
type Descriptor struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`

	HasReasoning  bool   `json:"hasReasoning"`
	ReasoningType string `json:"reasoningType,omitempty"`
	ReasoningMode string `json:"reasoningMode,omitempty"`

	HasWebSearch  bool   `json:"hasWebSearch"`
	WebSearchMode string `json:"webSearchMode,omitempty"`

	PricingTier string `json:"pricingTier"`
	Color       string `json:"color"`
}

// SupportsThinking reports whether reasoning is toggled with the
// ":thinking" suffix.
func (d Descriptor) SupportsThinking() bool {
	return d.HasReasoning && d.ReasoningType == ReasoningThinking
}

// SupportsEffort reports whether reasoning is configured with an effort level.
func (d Descriptor) SupportsEffort() bool {
	return d.HasReasoning && d.ReasoningType == ReasoningEffort
}

// ReasoningForced reports whether the model always reasons.
func (d Descriptor) ReasoningForced() bool {
	return d.HasReasoning && d.ReasoningMode == ModeForced
}

// WebSearchOptional reports whether web search is enabled per request via
// the ":online" suffix.
func (d Descriptor) WebSearchOptional() bool {
	return d.HasWebSearch && d.WebSearchMode == ModeOptional
}

// WebSearchForced reports whether the model always searches the web.
func (d Descriptor) WebSearchForced() bool {
	return d.HasWebSearch && d.WebSearchMode == ModeForced
}

// =============================================================================
// MODEL REGISTRY
// =============================================================================

// DefaultModelID is used when a request names no model.
const DefaultModelID = "openai/gpt-4o-mini"

var descriptors = []Descriptor{
	// Anthropic
	{
		ID: "anthropic/claude-3.7-sonnet", Name: "Claude 3.7 Sonnet", Provider: "Anthropic",
		HasReasoning: true, ReasoningType: ReasoningThinking, ReasoningMode: ModeOptional,
		HasWebSearch: true, WebSearchMode: ModeOptional,
		PricingTier: TierPremium, Color: "#d97706",
	},
	{
		ID: "anthropic/claude-sonnet-4", Name: "Claude Sonnet 4", Provider: "Anthropic",
		HasReasoning: true, ReasoningType: ReasoningThinking, ReasoningMode: ModeOptional,
		HasWebSearch: true, WebSearchMode: ModeOptional,
		PricingTier: TierPremium, Color: "#c2410c",
	},
	{
		ID: "anthropic/claude-3.5-haiku", Name: "Claude 3.5 Haiku", Provider: "Anthropic",
		HasWebSearch: true, WebSearchMode: ModeOptional,
		PricingTier: TierStandard, Color: "#f59e0b",
	},

	// OpenAI
	{
		ID: "openai/gpt-4o", Name: "GPT-4o", Provider: "OpenAI",
		HasWebSearch: true, WebSearchMode: ModeOptional,
		PricingTier: TierStandard, Color: "#10b981",
	},
	{
		ID: "openai/gpt-4o-mini", Name: "GPT-4o mini", Provider: "OpenAI",
		HasWebSearch: true, WebSearchMode: ModeOptional,
		PricingTier: TierBudget, Color: "#34d399",
	},
	{
		ID: "openai/gpt-4o-search-preview", Name: "GPT-4o Search", Provider: "OpenAI",
		HasWebSearch: true, WebSearchMode: ModeForced,
		PricingTier: TierStandard, Color: "#059669",
	},
	{
		ID: "openai/o4-mini", Name: "o4-mini", Provider: "OpenAI",
		HasReasoning: true, ReasoningType: ReasoningEffort, ReasoningMode: ModeForced,
		HasWebSearch: true, WebSearchMode: ModeOptional,
		PricingTier: TierStandard, Color: "#047857",
	},

	// Google
	{
		ID: "google/gemini-2.5-flash-preview", Name: "Gemini 2.5 Flash", Provider: "Google",
		HasReasoning: true, ReasoningType: ReasoningThinking, ReasoningMode: ModeOptional,
		HasWebSearch: true, WebSearchMode: ModeOptional,
		PricingTier: TierBudget, Color: "#3b82f6",
	},
	{
		ID: "google/gemini-2.5-pro-preview", Name: "Gemini 2.5 Pro", Provider: "Google",
		HasReasoning: true, ReasoningType: ReasoningEffort, ReasoningMode: ModeForced,
		HasWebSearch: true, WebSearchMode: ModeOptional,
		PricingTier: TierPremium, Color: "#1d4ed8",
	},

	// xAI
	{
		ID: "x-ai/grok-3-mini-beta", Name: "Grok 3 Mini", Provider: "xAI",
		HasReasoning: true, ReasoningType: ReasoningEffort, ReasoningMode: ModeOptional,
		HasWebSearch: true, WebSearchMode: ModeOptional,
		PricingTier: TierBudget, Color: "#6b7280",
	},

	// DeepSeek
	{
		ID: "deepseek/deepseek-r1", Name: "DeepSeek R1", Provider: "DeepSeek",
		HasReasoning: true, ReasoningMode: ModeForced,
		PricingTier: TierBudget, Color: "#6366f1",
	},
	{
		ID: "deepseek/deepseek-chat-v3-0324", Name: "DeepSeek V3", Provider: "DeepSeek",
		PricingTier: TierBudget, Color: "#818cf8",
	},

	// Perplexity
	{
		ID: "perplexity/sonar", Name: "Sonar", Provider: "Perplexity",
		HasWebSearch: true, WebSearchMode: ModeForced,
		PricingTier: TierStandard, Color: "#14b8a6",
	},
	{
		ID: "perplexity/sonar-reasoning", Name: "Sonar Reasoning", Provider: "Perplexity",
		HasReasoning: true, ReasoningMode: ModeForced,
		HasWebSearch: true, WebSearchMode: ModeForced,
		PricingTier: TierPremium, Color: "#0d9488",
	},

	// Code
	{
		ID: "mistralai/codestral-2501", Name: "Codestral", Provider: "Mistral",
		PricingTier: TierBudget, Color: "#f97316",
	},
	{
		ID: "qwen/qwen-2.5-coder-32b-instruct", Name: "Qwen2.5 Coder 32B", Provider: "Qwen",
		PricingTier: TierBudget, Color: "#a855f7",
	},

	// Meta
	{
		ID: "meta-llama/llama-4-maverick", Name: "Llama 4 Maverick", Provider: "Meta",
		HasWebSearch: true, WebSearchMode: ModeOptional,
		PricingTier: TierBudget, Color: "#0ea5e9",
	},
}

var descriptorIndex = func() map[string]Descriptor {
	idx := make(map[string]Descriptor, len(descriptors))
	for _, d := range descriptors {
		idx[d.ID] = d
	}
	return idx
}()

// LookupDescriptor returns the descriptor for a model id. Feature suffixes
// (":thinking", ":online") are ignored. The boolean is false for unknown
// models, in which case a plain descriptor with no reasoning or web search
// is returned.
func LookupDescriptor(id string) (Descriptor, bool) {
	base := BaseModelID(id)
	if d, ok := descriptorIndex[base]; ok {
		return d, true
	}
	return Descriptor{
		ID:          base,
		Name:        base,
		PricingTier: TierStandard,
		Color:       "#9ca3af",
	}, false
}

// Descriptors returns all known descriptors sorted by provider then name.
func Descriptors() []Descriptor {
	out := make([]Descriptor, len(descriptors))
	copy(out, descriptors)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// BaseModelID strips any ":suffix" variants from a model id.
func BaseModelID(id string) string {
	id = strings.TrimSpace(id)
	if i := strings.Index(id, ":"); i >= 0 {
		return id[:i]
	}
	return id
}

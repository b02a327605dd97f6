// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/orchat/internal/model"
)

// thinkingOptional is a thinking-type model with optional web search.
var thinkingOptional = model.Descriptor{
	ID: "x/thinker", HasReasoning: true, ReasoningType: model.ReasoningThinking, ReasoningMode: model.ModeOptional,
	HasWebSearch: true, WebSearchMode: model.ModeOptional,
}

var effortModel = model.Descriptor{
	ID: "x/effort", HasReasoning: true, ReasoningType: model.ReasoningEffort, ReasoningMode: model.ModeOptional,
	HasWebSearch: true, WebSearchMode: model.ModeOptional,
}

var forcedSearch = model.Descriptor{
	ID: "x/searcher", HasWebSearch: true, WebSearchMode: model.ModeForced,
}

var forcedReasoning = model.Descriptor{
	ID: "x/reasoner", HasReasoning: true, ReasoningMode: model.ModeForced,
}

// =============================================================================
// MODEL ID TESTS
// =============================================================================

func TestResolveModelID(t *testing.T) {
	tests := []struct {
		name string
		desc model.Descriptor
		opts RequestOptions
		want string
	}{
		{"plain", thinkingOptional, RequestOptions{}, "x/thinker"},
		{"thinking", thinkingOptional, RequestOptions{Reasoning: true}, "x/thinker:thinking"},
		{"online", thinkingOptional, RequestOptions{WebSearch: true}, "x/thinker:online"},
		{"thinking before online", thinkingOptional, RequestOptions{Reasoning: true, WebSearch: true}, "x/thinker:thinking:online"},
		{"effort model gets no suffix", effortModel, RequestOptions{Reasoning: true}, "x/effort"},
		{"effort model online", effortModel, RequestOptions{Reasoning: true, WebSearch: true}, "x/effort:online"},
		{"forced search gets no suffix", forcedSearch, RequestOptions{WebSearch: true}, "x/searcher"},
		{"forced reasoning gets no suffix", forcedReasoning, RequestOptions{Reasoning: true}, "x/reasoner"},
		{"existing suffix is stripped", model.Descriptor{ID: "x/plain:online"}, RequestOptions{}, "x/plain"},
		{"unsupported features ignored", model.Descriptor{ID: "x/plain"}, RequestOptions{Reasoning: true, WebSearch: true}, "x/plain"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ResolveModelID(tc.desc, tc.opts))
		})
	}
}

func TestResolveModelID_RegistryModel(t *testing.T) {
	desc, ok := model.LookupDescriptor("anthropic/claude-3.7-sonnet")
	require.True(t, ok)
	got := ResolveModelID(desc, RequestOptions{Reasoning: true, WebSearch: true})
	assert.Equal(t, "anthropic/claude-3.7-sonnet:thinking:online", got)
}

// =============================================================================
// REASONING AND WEB SEARCH TESTS
// =============================================================================

func TestThinkingBudget(t *testing.T) {
	assert.Equal(t, 1000, ThinkingBudget("low"))
	assert.Equal(t, 2000, ThinkingBudget("medium"))
	assert.Equal(t, 4000, ThinkingBudget("high"))
	assert.Equal(t, 2000, ThinkingBudget("extreme"))
}

func TestBuildRequest_ThinkingReasoning(t *testing.T) {
	req := BuildRequest(thinkingOptional, nil, RequestOptions{Reasoning: true, ReasoningEffort: "high"})
	require.NotNil(t, req.Reasoning)
	assert.Equal(t, 4000, req.Reasoning.MaxTokens)
	assert.Empty(t, req.Reasoning.Effort)
	assert.False(t, req.Reasoning.Exclude)

	data, err := json.Marshal(req.Reasoning)
	require.NoError(t, err)
	assert.JSONEq(t, `{"max_tokens":4000,"exclude":false}`, string(data))
}

func TestBuildRequest_EffortReasoning(t *testing.T) {
	req := BuildRequest(effortModel, nil, RequestOptions{Reasoning: true, ReasoningEffort: "low"})
	require.NotNil(t, req.Reasoning)
	assert.Equal(t, "low", req.Reasoning.Effort)
	assert.Zero(t, req.Reasoning.MaxTokens)

	req = BuildRequest(effortModel, nil, RequestOptions{})
	assert.Nil(t, req.Reasoning)
}

func TestBuildRequest_ForcedReasoningStillStreamsReasoning(t *testing.T) {
	req := BuildRequest(forcedReasoning, nil, RequestOptions{})
	require.NotNil(t, req.Reasoning)
	assert.False(t, req.Reasoning.Exclude)
	assert.Equal(t, "x/reasoner", req.Model)
}

func TestBuildRequest_WebSearchOptions(t *testing.T) {
	for _, effort := range []string{"low", "medium", "high"} {
		req := BuildRequest(thinkingOptional, nil, RequestOptions{WebSearch: true, WebSearchEffort: effort})
		require.NotNil(t, req.WebSearchOptions)
		assert.Equal(t, effort, req.WebSearchOptions.SearchContextSize)
	}

	req := BuildRequest(forcedSearch, nil, RequestOptions{WebSearch: true, WebSearchEffort: "high"})
	assert.Nil(t, req.WebSearchOptions, "forced web search takes no options block")

	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "web_search_options")

	req = BuildRequest(thinkingOptional, nil, RequestOptions{})
	assert.Nil(t, req.WebSearchOptions)
}

// =============================================================================
// CONTENT SHAPE TESTS
// =============================================================================

func TestBuildRequest_TextContentIsBareString(t *testing.T) {
	history := []model.Message{
		*model.NewUserMessage("Hello", nil),
		*model.NewAssistantMessage("Hi!", "x/thinker"),
	}
	req := BuildRequest(thinkingOptional, history, RequestOptions{Stream: true})

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var raw struct {
		Model    string `json:"model"`
		Stream   bool   `json:"stream"`
		Messages []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))

	assert.True(t, raw.Stream)
	require.Len(t, raw.Messages, 2)
	assert.Equal(t, "user", raw.Messages[0].Role)
	assert.Equal(t, `"Hello"`, string(raw.Messages[0].Content))
	assert.Equal(t, "assistant", raw.Messages[1].Role)
	assert.Equal(t, `"Hi!"`, string(raw.Messages[1].Content))
}

func TestBuildRequest_ImageContentIsPartArray(t *testing.T) {
	images := []model.Image{{URL: "data:image/png;base64,AAAA"}, {URL: "https://example.com/b.jpg"}}
	history := []model.Message{*model.NewUserMessage("What is this?", images)}

	req := BuildRequest(thinkingOptional, history, RequestOptions{})
	data, err := json.Marshal(req.Messages[0])
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"role": "user",
		"content": [
			{"type": "text", "text": "What is this?"},
			{"type": "image_url", "image_url": {"url": "data:image/png;base64,AAAA"}},
			{"type": "image_url", "image_url": {"url": "https://example.com/b.jpg"}}
		]
	}`, string(data))
}

func TestBuildRequest_ImageOnlyOmitsTextPart(t *testing.T) {
	history := []model.Message{*model.NewUserMessage("", []model.Image{{URL: "https://example.com/a.png"}})}
	req := BuildRequest(thinkingOptional, history, RequestOptions{})

	content := req.Messages[0].Content
	require.True(t, content.IsMultipart())
	require.Len(t, content.Parts, 1)
	assert.Equal(t, PartImageURL, content.Parts[0].Type)
}

func TestBuildRequest_DocumentsFoldedIntoLastUserMessage(t *testing.T) {
	history := []model.Message{
		*model.NewUserMessage("first", nil),
		*model.NewAssistantMessage("ok", "m"),
		*model.NewUserMessage("summarize", nil),
	}
	docs := []model.Document{{Name: "notes.txt", Content: "alpha beta"}}

	req := BuildRequest(thinkingOptional, history, RequestOptions{Documents: docs})
	assert.Equal(t, "first", req.Messages[0].Content.Text)
	assert.Equal(t, "summarize\n\n--- Document: notes.txt ---\nalpha beta", req.Messages[2].Content.Text)
	assert.Equal(t, "summarize", history[2].Content, "history is not modified")
}

func TestMessageContent_UnmarshalBothShapes(t *testing.T) {
	var c MessageContent
	require.NoError(t, json.Unmarshal([]byte(`"plain"`), &c))
	assert.Equal(t, "plain", c.Text)
	assert.False(t, c.IsMultipart())

	require.NoError(t, json.Unmarshal([]byte(`[{"type":"text","text":"a"}]`), &c))
	assert.True(t, c.IsMultipart())
	assert.Equal(t, "a", c.Parts[0].Text)

	assert.Error(t, json.Unmarshal([]byte(`42`), &c))
}

func TestBuildRequest_RequestsUsage(t *testing.T) {
	req := BuildRequest(model.Descriptor{ID: "x/plain"}, nil, RequestOptions{})
	require.NotNil(t, req.Usage)
	assert.True(t, req.Usage.Include)
}

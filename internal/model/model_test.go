// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestMessage_Preview(t *testing.T) {
	tests := []struct {
		name    string
		content string
		maxLen  int
		want    string
	}{
		{"short", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"truncated", "hello world", 8, "hello..."},
		{"unicode", "héllo wörld", 8, "héllo..."},
		{"tiny limit", "hello", 2, "he"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMessage(RoleUser, tc.content)
			assert.Equal(t, tc.want, m.Preview(tc.maxLen))
		})
	}
}

func TestMessage_IsEmpty(t *testing.T) {
	assert.True(t, NewUserMessage("   ", nil).IsEmpty())
	assert.False(t, NewUserMessage("hi", nil).IsEmpty())
	assert.False(t, NewUserMessage("", []Image{{URL: "data:image/png;base64,AA=="}}).IsEmpty())
}

func TestMessage_CloneIsDeep(t *testing.T) {
	m := NewAssistantMessage("answer", "openai/gpt-4o")
	m.Annotations = []Annotation{{
		Type:        "url_citation",
		URLCitation: &URLCitation{URL: "https://example.com", StartIndex: 0, EndIndex: 6},
	}}

	c := m.Clone()
	c.Annotations[0].URLCitation.URL = "https://changed.example"
	c.Images = append(c.Images, Image{URL: "x"})

	assert.Equal(t, "https://example.com", m.Annotations[0].URLCitation.URL)
	assert.Empty(t, m.Images)
}

func TestMessage_JSONShape(t *testing.T) {
	m := NewAssistantMessage("hi", "openai/gpt-4o")
	data, err := json.Marshal(m)
	require.NoError(t, err)

	s := string(data)
	assert.Contains(t, s, `"modelId":"openai/gpt-4o"`)
	assert.Contains(t, s, `"images":[]`)
	assert.NotContains(t, s, `"reasoning"`)
}

func TestRole_Valid(t *testing.T) {
	assert.True(t, RoleUser.Valid())
	assert.True(t, RoleAssistant.Valid())
	assert.False(t, Role("system").Valid())
	assert.Equal(t, "You", RoleUser.DisplayName())
}

// =============================================================================
// THREAD TESTS
// =============================================================================

func TestThread_AppendKeepsOrderAndBumpsUpdatedAt(t *testing.T) {
	th := NewThread("", "")
	assert.Equal(t, DefaultTitle, th.Title)

	prev := th.UpdatedAt
	for i := 0; i < 50; i++ {
		th.Append(NewUserMessage("msg", nil))
		require.True(t, th.UpdatedAt.After(prev), "UpdatedAt must strictly increase")
		prev = th.UpdatedAt
	}
	assert.Len(t, th.Messages, 50)
}

func TestThread_AppendAssistantSetsCurrentModel(t *testing.T) {
	th := NewThread("t", "openai/gpt-4o")
	th.Append(NewAssistantMessage("a", "anthropic/claude-3.7-sonnet"))
	assert.Equal(t, "anthropic/claude-3.7-sonnet", th.CurrentModel)
}

func TestThread_HistoryDoesNotShare(t *testing.T) {
	th := NewThread("t", "")
	th.Append(NewUserMessage("original", nil))

	h := th.History()
	h[0].Content = "changed"
	assert.Equal(t, "original", th.Messages[0].Content)
}

func TestThread_Meta(t *testing.T) {
	th := NewThread("t", "")
	th.Append(NewUserMessage("first question", nil))
	th.Append(NewAssistantMessage("answer", "openai/gpt-4o"))

	meta := th.Meta()
	assert.Equal(t, 2, meta.MessageCount)
	assert.Equal(t, "first question", meta.Preview)
	assert.Equal(t, th.ID, meta.ID)
}

func TestTitleFromContent(t *testing.T) {
	assert.Equal(t, DefaultTitle, TitleFromContent("  \n "))
	assert.Equal(t, "hello world", TitleFromContent("hello\n  world"))

	long := strings.Repeat("a", 80)
	got := TitleFromContent(long)
	assert.Equal(t, strings.Repeat("a", TitleMaxLen)+"...", got)
}

// =============================================================================
// METRICS TESTS
// =============================================================================

func TestTokenMetrics_CloneAndFormat(t *testing.T) {
	cost := 0.0031
	m := &TokenMetrics{
		TotalTokens:     412,
		TokensPerSecond: 38.24,
		EstimatedCost:   &cost,
		ContextWindow:   &ContextWindow{Used: 412, Total: 128000, Percentage: 0.32},
	}

	c := m.Clone()
	*c.EstimatedCost = 1
	assert.Equal(t, 0.0031, *m.EstimatedCost)

	assert.Equal(t, "412 tokens | 38.2 tok/s | $0.0031 | 0.3% ctx", m.Format())

	var nilMetrics *TokenMetrics
	assert.Nil(t, nilMetrics.Clone())
	assert.Equal(t, "", nilMetrics.Format())
}

// =============================================================================
// DESCRIPTOR TESTS
// =============================================================================

func TestLookupDescriptor(t *testing.T) {
	d, ok := LookupDescriptor("anthropic/claude-3.7-sonnet:thinking:online")
	require.True(t, ok)
	assert.Equal(t, "anthropic/claude-3.7-sonnet", d.ID)
	assert.True(t, d.SupportsThinking())
	assert.True(t, d.WebSearchOptional())

	d, ok = LookupDescriptor("perplexity/sonar")
	require.True(t, ok)
	assert.True(t, d.WebSearchForced())
	assert.False(t, d.WebSearchOptional())

	d, ok = LookupDescriptor("openai/o4-mini")
	require.True(t, ok)
	assert.True(t, d.SupportsEffort())
	assert.True(t, d.ReasoningForced())

	d, ok = LookupDescriptor("someone/unknown-model")
	assert.False(t, ok)
	assert.False(t, d.HasReasoning)
	assert.False(t, d.HasWebSearch)
	assert.Equal(t, "someone/unknown-model", d.ID)
}

func TestDescriptors_SortedAndComplete(t *testing.T) {
	all := Descriptors()
	require.NotEmpty(t, all)

	seen := make(map[string]bool)
	for i, d := range all {
		assert.False(t, seen[d.ID], "duplicate descriptor %s", d.ID)
		seen[d.ID] = true
		assert.NotEmpty(t, d.Name)
		assert.NotEmpty(t, d.Color)
		if d.HasReasoning {
			assert.NotEmpty(t, d.ReasoningMode, d.ID)
		}
		if d.HasWebSearch {
			assert.NotEmpty(t, d.WebSearchMode, d.ID)
		}
		if i > 0 {
			assert.LessOrEqual(t, all[i-1].Provider, d.Provider)
		}
	}
	assert.True(t, seen[DefaultModelID])
}

func TestBaseModelID(t *testing.T) {
	assert.Equal(t, "x/y", BaseModelID(" x/y:thinking:online "))
	assert.Equal(t, "x/y", BaseModelID("x/y"))
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"
)

// TitleMaxLen is the maximum length of a derived thread title, in runes.
const TitleMaxLen = 50

// DefaultTitle is used when no title can be derived from the first message.
const DefaultTitle = "New Chat"

// =============================================================================
// THREAD TYPE
// =============================================================================

// Thread is a persisted, ordered conversation.
// Messages are strictly append-ordered and UpdatedAt increases with every
// mutation.
type Thread struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Messages     []*Message `json:"messages"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	CurrentModel string     `json:"currentModel,omitempty"`
	IsPinned     bool       `json:"isPinned,omitempty"`
}

// NewThread creates an empty thread with a generated ID.
func NewThread(title, modelID string) *Thread {
	now := time.Now()
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	return &Thread{
		ID:           NewID(),
		Title:        title,
		Messages:     make([]*Message, 0),
		CreatedAt:    now,
		UpdatedAt:    now,
		CurrentModel: modelID,
	}
}

// Append adds a message to the end of the thread and bumps UpdatedAt.
func (t *Thread) Append(msg *Message) {
	t.Messages = append(t.Messages, msg)
	if msg.Role == RoleAssistant && msg.ModelID != "" {
		t.CurrentModel = msg.ModelID
	}
	t.Touch()
}

// Touch advances UpdatedAt, guaranteeing it strictly increases even when
// the wall clock has not moved since the previous mutation.
func (t *Thread) Touch() {
	now := time.Now()
	if !now.After(t.UpdatedAt) {
		now = t.UpdatedAt.Add(time.Nanosecond)
	}
	t.UpdatedAt = now
}

// LastMessage returns the trailing message, or nil for an empty thread.
func (t *Thread) LastMessage() *Message {
	if len(t.Messages) == 0 {
		return nil
	}
	return t.Messages[len(t.Messages)-1]
}

// History returns copies of the messages, suitable for building upstream
// context without sharing ownership.
func (t *Thread) History() []Message {
	out := make([]Message, 0, len(t.Messages))
	for _, m := range t.Messages {
		out = append(out, *m.Clone())
	}
	return out
}

// Clone returns a deep copy of the thread.
func (t *Thread) Clone() *Thread {
	if t == nil {
		return nil
	}
	c := *t
	c.Messages = make([]*Message, len(t.Messages))
	for i, m := range t.Messages {
		c.Messages[i] = m.Clone()
	}
	return &c
}

// Meta returns the listing metadata for the thread.
func (t *Thread) Meta() ThreadMeta {
	meta := ThreadMeta{
		ID:           t.ID,
		Title:        t.Title,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
		CurrentModel: t.CurrentModel,
		IsPinned:     t.IsPinned,
		MessageCount: len(t.Messages),
	}
	for _, m := range t.Messages {
		if m.Role == RoleUser {
			meta.Preview = m.Preview(80)
			break
		}
	}
	return meta
}

// ThreadMeta contains metadata for listing threads.
type ThreadMeta struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	CurrentModel string    `json:"currentModel,omitempty"`
	IsPinned     bool      `json:"isPinned,omitempty"`
	MessageCount int       `json:"messageCount"`
	Preview      string    `json:"preview,omitempty"`
}

// TitleFromContent derives a thread title from the first user message.
func TitleFromContent(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	if title == "" {
		return DefaultTitle
	}
	runes := []rune(title)
	if len(runes) > TitleMaxLen {
		return string(runes[:TitleMaxLen]) + "..."
	}
	return title
}

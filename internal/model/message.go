// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for threads and messages.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is a role the chat pipeline accepts.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// ATTACHMENTS
// =============================================================================

// Image is an image reference attached to a user message.
// URL may be a remote URL or a data: URL.
type Image struct {
	URL      string `json:"url"`
	MimeType string `json:"mimeType,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Document is a text document attached to a user message. Its content is
// folded into the text sent upstream; it is not persisted on the message.
type Document struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType,omitempty"`
	Content  string `json:"content"`
}

// URLCitation is the payload of a url_citation annotation.
type URLCitation struct {
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	Content    string `json:"content,omitempty"`
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
}

// Annotation ties a span of the answer to a web-search source.
type Annotation struct {
	Type        string       `json:"type"`
	URLCitation *URLCitation `json:"url_citation,omitempty"`
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a thread.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	Images      []Image      `json:"images"`
	Reasoning   string       `json:"reasoning,omitempty"`
	ModelID     string       `json:"modelId,omitempty"`
	Annotations []Annotation `json:"annotations,omitempty"`
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        NewID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		Images:    []Image{},
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string, images []Image) *Message {
	msg := NewMessage(RoleUser, content)
	if len(images) > 0 {
		msg.Images = append(msg.Images, images...)
	}
	return msg
}

// NewAssistantMessage creates a new assistant message for the given model.
func NewAssistantMessage(content, modelID string) *Message {
	msg := NewMessage(RoleAssistant, content)
	msg.ModelID = modelID
	return msg
}

// HasImages reports whether the message carries at least one image.
func (m *Message) HasImages() bool {
	return len(m.Images) > 0
}

// IsEmpty returns true if the message has neither text nor images.
func (m *Message) IsEmpty() bool {
	return strings.TrimSpace(m.Content) == "" && len(m.Images) == 0
}

// Preview returns a truncated preview of the message content.
// Uses rune-based truncation to handle Unicode correctly.
func (m *Message) Preview(maxLen int) string {
	runes := []rune(m.Content)
	if len(runes) <= maxLen {
		return m.Content
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.Images = append([]Image{}, m.Images...)
	if m.Annotations != nil {
		c.Annotations = make([]Annotation, len(m.Annotations))
		for i, a := range m.Annotations {
			c.Annotations[i] = a
			if a.URLCitation != nil {
				cit := *a.URLCitation
				c.Annotations[i].URLCitation = &cit
			}
		}
	}
	return &c
}

// NewID returns a fresh identifier for threads and messages.
func NewID() string {
	return uuid.NewString()
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import "github.com/jeranaias/orchat/internal/model"

// accumulator collects the incremental events of one stream into a
// Completion.
type accumulator struct {
	threadID    string
	user        *model.Message
	content     string
	reasoning   string
	annotations []model.Annotation
	metrics     *model.TokenMetrics
	completion  *Completion
}

// observe keeps the latest metrics snapshot.
func (a *accumulator) observe(m *model.TokenMetrics) {
	if m != nil {
		a.metrics = m
	}
}

// assemble builds the completion record. Fields missing from the final
// assistant message are filled from the streamed chunks.
func (a *accumulator) assemble(assistant *model.Message) *Completion {
	if assistant == nil {
		assistant = &model.Message{Role: model.RoleAssistant}
	}
	if assistant.Content == "" {
		assistant.Content = a.content
	}
	if assistant.Reasoning == "" {
		assistant.Reasoning = a.reasoning
	}
	if len(assistant.Annotations) == 0 && len(a.annotations) > 0 {
		assistant.Annotations = a.annotations
	}
	return &Completion{
		ThreadID:         a.threadID,
		UserMessage:      a.user,
		AssistantMessage: assistant,
		TokenMetrics:     a.metrics,
	}
}

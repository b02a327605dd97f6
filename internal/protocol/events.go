// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jeranaias/orchat/internal/model"
)

// =============================================================================
// EVENT KINDS
// =============================================================================

// Kind is the value of an event's "type" discriminator.
type Kind string

const (
	KindThreadInfo       Kind = "thread_info"
	KindUserMessage      Kind = "user_message"
	KindAIStart          Kind = "ai_start"
	KindReasoningChunk   Kind = "reasoning_chunk"
	KindAnnotationsChunk Kind = "annotations_chunk"
	KindAIChunk          Kind = "ai_chunk"
	KindAIComplete       Kind = "ai_complete"
	KindError            Kind = "error"
)

// Event is one decoded record of the chunk protocol.
// The set of implementations is closed; see Unknown for kinds this
// version does not understand.
type Event interface {
	Type() Kind
	isEvent()
}

// =============================================================================
// EVENT TYPES
// =============================================================================

// ThreadInfo announces the id of a newly created thread.
type ThreadInfo struct {
	ThreadID string `json:"threadId"`
}

// UserMessage confirms the persisted user message.
type UserMessage struct {
	Message *model.Message `json:"message"`
}

// AIStart marks the beginning of the assistant's answer.
type AIStart struct{}

// ReasoningChunk carries a piece of reasoning text and the reasoning so far.
type ReasoningChunk struct {
	Content       string              `json:"content"`
	FullReasoning string              `json:"fullReasoning"`
	TokenMetrics  *model.TokenMetrics `json:"tokenMetrics,omitempty"`
}

// AnnotationsChunk carries web-search citations.
type AnnotationsChunk struct {
	Annotations []model.Annotation `json:"annotations"`
}

// AIChunk carries a piece of answer text and the answer so far.
type AIChunk struct {
	Content      string              `json:"content"`
	FullContent  string              `json:"fullContent"`
	TokenMetrics *model.TokenMetrics `json:"tokenMetrics,omitempty"`
}

// AIComplete carries the final assistant message.
type AIComplete struct {
	AssistantMessage *model.Message     `json:"assistantMessage"`
	TokenMetrics     *model.TokenMetrics `json:"tokenMetrics,omitempty"`
}

// ErrorEvent reports a terminal failure of the turn.
type ErrorEvent struct {
	Message string `json:"error"`
}

// Unknown holds an event whose kind is not recognized. Raw is the
// complete JSON payload.
type Unknown struct {
	Kind Kind
	Raw  json.RawMessage
}

func (*ThreadInfo) Type() Kind       { return KindThreadInfo }
func (*UserMessage) Type() Kind      { return KindUserMessage }
func (*AIStart) Type() Kind          { return KindAIStart }
func (*ReasoningChunk) Type() Kind   { return KindReasoningChunk }
func (*AnnotationsChunk) Type() Kind { return KindAnnotationsChunk }
func (*AIChunk) Type() Kind          { return KindAIChunk }
func (*AIComplete) Type() Kind       { return KindAIComplete }
func (*ErrorEvent) Type() Kind       { return KindError }
func (u *Unknown) Type() Kind        { return u.Kind }

func (*ThreadInfo) isEvent()       {}
func (*UserMessage) isEvent()      {}
func (*AIStart) isEvent()          {}
func (*ReasoningChunk) isEvent()   {}
func (*AnnotationsChunk) isEvent() {}
func (*AIChunk) isEvent()          {}
func (*AIComplete) isEvent()       {}
func (*ErrorEvent) isEvent()       {}
func (*Unknown) isEvent()          {}

// =============================================================================
// JSON
// =============================================================================

// ErrMissingType is returned by Unmarshal for a payload without a "type".
var ErrMissingType = errors.New("event has no type")

// Marshal returns the JSON payload of an event with the "type"
// discriminator as its first field.
func Marshal(ev Event) ([]byte, error) {
	if u, ok := ev.(*Unknown); ok {
		return append([]byte(nil), u.Raw...), nil
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", ev.Type(), err)
	}
	typ, err := json.Marshal(string(ev.Type()))
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(body)+len(typ)+10)
	out = append(out, `{"type":`...)
	out = append(out, typ...)
	if len(body) > 2 {
		out = append(out, ',')
		out = append(out, body[1:]...)
	} else {
		out = append(out, '}')
	}
	return out, nil
}

// Unmarshal decodes a JSON payload into its typed event.
// Payloads with an unrecognized type decode to *Unknown.
func Unmarshal(data []byte) (Event, error) {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	if head.Type == "" {
		return nil, ErrMissingType
	}

	var ev Event
	switch head.Type {
	case KindThreadInfo:
		ev = &ThreadInfo{}
	case KindUserMessage:
		ev = &UserMessage{}
	case KindAIStart:
		return &AIStart{}, nil
	case KindReasoningChunk:
		ev = &ReasoningChunk{}
	case KindAnnotationsChunk:
		ev = &AnnotationsChunk{}
	case KindAIChunk:
		ev = &AIChunk{}
	case KindAIComplete:
		ev = &AIComplete{}
	case KindError:
		ev = &ErrorEvent{}
	default:
		return &Unknown{Kind: head.Type, Raw: append(json.RawMessage(nil), data...)}, nil
	}

	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", head.Type, err)
	}
	return ev, nil
}

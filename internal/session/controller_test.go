// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/orchat/internal/model"
	"github.com/jeranaias/orchat/internal/protocol"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func writeEvents(w http.ResponseWriter, events ...protocol.Event) {
	for _, ev := range events {
		_ = protocol.Encode(w, ev)
	}
	w.(http.Flusher).Flush()
}

func writeDone(w http.ResponseWriter) {
	_ = protocol.EncodeDone(w)
	w.(http.Flusher).Flush()
}

func startStream(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
}

// fullTurn writes a complete new-thread turn for content.
func fullTurn(w http.ResponseWriter, content string) {
	user := model.NewUserMessage(content, nil)
	assistant := model.NewAssistantMessage("Hello back", "openai/gpt-4o")
	metrics := &model.TokenMetrics{InputTokens: 2, OutputTokens: 3, TotalTokens: 5}

	startStream(w)
	writeEvents(w,
		&protocol.ThreadInfo{ThreadID: "thread-" + content},
		&protocol.UserMessage{Message: user},
		&protocol.AIStart{},
		&protocol.ReasoningChunk{Content: "hmm", FullReasoning: "hmm"},
		&protocol.AnnotationsChunk{Annotations: []model.Annotation{{Type: "url_citation", URLCitation: &model.URLCitation{URL: "https://example.com"}}}},
		&protocol.AIChunk{Content: "Hello", FullContent: "Hello"},
		&protocol.AIChunk{Content: " back", FullContent: "Hello back", TokenMetrics: metrics},
		&protocol.AIComplete{AssistantMessage: assistant, TokenMetrics: metrics},
	)
	writeDone(w)
}

func decodeRequest(t *testing.T, r *http.Request) protocol.ChatRequest {
	t.Helper()
	var req protocol.ChatRequest
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	return req
}

// eventLog records callback invocations across streams in order.
type eventLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, fmt.Sprintf(format, args...))
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

func (l *eventLog) callbacks(tag string) Callbacks {
	return Callbacks{
		OnThreadCreated:        func(id string) { l.add("%s:thread:%s", tag, id) },
		OnUserMessageConfirmed: func(*model.Message) { l.add("%s:user", tag) },
		OnAIStart:              func() { l.add("%s:start", tag) },
		OnReasoningChunk:       func(string, string, *model.TokenMetrics) { l.add("%s:reasoning", tag) },
		OnAnnotationsChunk:     func([]model.Annotation) { l.add("%s:annotations", tag) },
		OnChunk:                func(_, full string, _ *model.TokenMetrics) { l.add("%s:chunk:%s", tag, full) },
		OnComplete:             func(*Completion) { l.add("%s:complete", tag) },
		OnError: func(err error) {
			switch {
			case errors.Is(err, ErrSuperseded):
				l.add("%s:error:superseded", tag)
			case IsCanceled(err):
				l.add("%s:error:canceled", tag)
			default:
				l.add("%s:error:%v", tag, err)
			}
		},
	}
}

// =============================================================================
// STREAM TESTS
// =============================================================================

func TestStreamMessage_NewThreadTurn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, StreamPath, r.URL.Path)
		req := decodeRequest(t, r)
		assert.Equal(t, "Hello", req.Content)
		fullTurn(w, req.Content)
	}))
	defer srv.Close()

	ctrl := NewController(srv.URL)
	log := &eventLog{}

	completion, err := ctrl.StreamMessage(context.Background(), StreamRequest{Content: "Hello"}, log.callbacks("a"))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"a:thread:thread-Hello",
		"a:user",
		"a:start",
		"a:reasoning",
		"a:annotations",
		"a:chunk:Hello",
		"a:chunk:Hello back",
		"a:complete",
	}, log.snapshot())

	assert.Equal(t, "thread-Hello", completion.ThreadID)
	assert.Equal(t, "Hello", completion.UserMessage.Content)
	assert.Equal(t, "Hello back", completion.AssistantMessage.Content)
	assert.Equal(t, "hmm", completion.AssistantMessage.Reasoning)
	assert.Len(t, completion.AssistantMessage.Annotations, 1)
	assert.Equal(t, 5, completion.TokenMetrics.TotalTokens)
	assert.Equal(t, StateCompleted, ctrl.State())
	assert.False(t, ctrl.IsStreaming())
}

func TestStreamMessage_ExistingThreadKeepsID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startStream(w)
		writeEvents(w,
			&protocol.UserMessage{Message: model.NewUserMessage("again", nil)},
			&protocol.AIStart{},
			&protocol.AIChunk{Content: "ok", FullContent: "ok"},
			&protocol.AIComplete{AssistantMessage: &model.Message{Role: model.RoleAssistant}},
		)
		writeDone(w)
	}))
	defer srv.Close()

	completion, err := NewController(srv.URL).StreamMessage(context.Background(),
		StreamRequest{Content: "again", ThreadID: "existing"}, Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, "existing", completion.ThreadID)
	assert.Equal(t, "ok", completion.AssistantMessage.Content, "content falls back to streamed text")
}

func TestStreamMessage_ValidationShortCircuits(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	ctrl := NewController(srv.URL)
	var got error
	_, err := ctrl.StreamMessage(context.Background(), StreamRequest{Content: "  \n "}, Callbacks{
		OnError: func(err error) { got = err },
	})

	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, got, ErrValidation)
	assert.Equal(t, int32(0), hits.Load(), "no network I/O on validation failure")
	assert.Equal(t, StateErrored, ctrl.State())
}

func TestStreamMessage_ImageOnlyIsValid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		assert.Len(t, req.Images, 1)
		fullTurn(w, "img")
	}))
	defer srv.Close()

	_, err := NewController(srv.URL).StreamMessage(context.Background(),
		StreamRequest{Images: []model.Image{{URL: "https://example.com/cat.png"}}}, Callbacks{})
	assert.NoError(t, err)
}

func TestStreamMessage_SupersedeCancelsPrevious(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		if req.Content == "B" {
			fullTurn(w, "B")
			return
		}
		startStream(w)
		writeEvents(w, &protocol.AIStart{}, &protocol.AIChunk{Content: "partial", FullContent: "partial"})
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctrl := NewController(srv.URL)
	log := &eventLog{}

	started := make(chan struct{})
	aCallbacks := log.callbacks("A")
	aChunk := aCallbacks.OnChunk
	aCallbacks.OnChunk = func(chunk, full string, m *model.TokenMetrics) {
		aChunk(chunk, full, m)
		close(started)
	}

	aErr := make(chan error, 1)
	go func() {
		_, err := ctrl.StreamMessage(context.Background(), StreamRequest{Content: "A"}, aCallbacks)
		aErr <- err
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("stream A never started")
	}
	require.True(t, ctrl.IsStreaming())

	_, err := ctrl.StreamMessage(context.Background(), StreamRequest{Content: "B"}, log.callbacks("B"))
	require.NoError(t, err)

	select {
	case err := <-aErr:
		assert.ErrorIs(t, err, ErrSuperseded)
		assert.ErrorIs(t, err, ErrCanceled)
	case <-time.After(5 * time.Second):
		t.Fatal("stream A did not return")
	}

	entries := log.snapshot()
	supersededAt, firstBAt := -1, -1
	for i, e := range entries {
		if e == "A:error:superseded" && supersededAt < 0 {
			supersededAt = i
		}
		if len(e) > 1 && e[0] == 'B' && firstBAt < 0 {
			firstBAt = i
		}
	}
	require.GreaterOrEqual(t, supersededAt, 0, "A must be told it was superseded: %v", entries)
	require.GreaterOrEqual(t, firstBAt, 0)
	assert.Less(t, supersededAt, firstBAt, "A's cancellation must precede B's first event: %v", entries)
	assert.Equal(t, StateCompleted, ctrl.State())
}

func TestCancelActiveStream(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startStream(w)
		writeEvents(w, &protocol.AIStart{})
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctrl := NewController(srv.URL)
	ctrl.CancelActiveStream() // idle: no-op
	assert.Equal(t, StateIdle, ctrl.State())

	started := make(chan struct{})
	var onErr error
	errCh := make(chan error, 1)
	go func() {
		_, err := ctrl.StreamMessage(context.Background(), StreamRequest{Content: "x"}, Callbacks{
			OnAIStart: func() { close(started) },
			OnError:   func(err error) { onErr = err },
		})
		errCh <- err
	}()
	<-started
	assert.Equal(t, StateStreaming, ctrl.State())

	ctrl.CancelActiveStream()
	ctrl.CancelActiveStream()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrCanceled)
		assert.False(t, errors.Is(err, ErrSuperseded))
		assert.ErrorIs(t, onErr, ErrCanceled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancel did not stop the stream")
	}
	assert.Equal(t, StateCanceled, ctrl.State())
	ctrl.CancelActiveStream()
}

func TestStreamMessage_ParentContextCanceled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startStream(w)
		writeEvents(w, &protocol.AIStart{})
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := NewController(srv.URL).StreamMessage(ctx, StreamRequest{Content: "x"}, Callbacks{
		OnAIStart: cancel,
	})
	assert.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// FAILURE TESTS
// =============================================================================

func TestStreamMessage_RemoteErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startStream(w)
		writeEvents(w, &protocol.AIStart{}, &protocol.ErrorEvent{Message: "upstream unavailable"})
		writeDone(w)
	}))
	defer srv.Close()

	ctrl := NewController(srv.URL)
	completed := false
	_, err := ctrl.StreamMessage(context.Background(), StreamRequest{Content: "x"}, Callbacks{
		OnComplete: func(*Completion) { completed = true },
	})

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "upstream unavailable", remote.Message)
	assert.False(t, IsCanceled(err))
	assert.False(t, completed)
	assert.Equal(t, StateErrored, ctrl.State())
}

func TestStreamMessage_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(protocol.ErrorResponse{Error: protocol.ErrorBody{Message: "bad input", Code: 400}})
	}))
	defer srv.Close()

	_, err := NewController(srv.URL).StreamMessage(context.Background(), StreamRequest{Content: "x"}, Callbacks{})

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
	assert.Equal(t, "bad input", httpErr.Message)
}

func TestStreamMessage_IncompleteStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startStream(w)
		writeEvents(w, &protocol.AIStart{}, &protocol.AIChunk{Content: "a", FullContent: "a"})
		writeDone(w)
	}))
	defer srv.Close()

	_, err := NewController(srv.URL).StreamMessage(context.Background(), StreamRequest{Content: "x"}, Callbacks{})
	assert.ErrorIs(t, err, ErrIncompleteStream)
}

func TestStreamMessage_SkipsMalformedLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startStream(w)
		writeEvents(w, &protocol.AIStart{})
		_, _ = w.Write([]byte("data: {broken\n\n"))
		writeEvents(w,
			&protocol.AIChunk{Content: "ok", FullContent: "ok"},
			&protocol.AIComplete{AssistantMessage: model.NewAssistantMessage("ok", "m")},
		)
		writeDone(w)
	}))
	defer srv.Close()

	completion, err := NewController(srv.URL).StreamMessage(context.Background(), StreamRequest{Content: "x"}, Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, "ok", completion.AssistantMessage.Content)
}

func TestControllers_AreIndependent(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		if req.Content == "fast" {
			fullTurn(w, "fast")
			return
		}
		startStream(w)
		writeEvents(w, &protocol.AIStart{})
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()

	slow := NewController(srv.URL)
	started := make(chan struct{})
	slowErr := make(chan error, 1)
	go func() {
		_, err := slow.StreamMessage(context.Background(), StreamRequest{Content: "slow"}, Callbacks{
			OnAIStart: func() { close(started) },
		})
		slowErr <- err
	}()
	<-started

	_, err := NewController(srv.URL).StreamMessage(context.Background(), StreamRequest{Content: "fast"}, Callbacks{})
	require.NoError(t, err)
	assert.True(t, slow.IsStreaming(), "another controller must not supersede this one")

	slow.CancelActiveStream()
	assert.ErrorIs(t, <-slowErr, ErrCanceled)
	close(release)
}

// =============================================================================
// NON-STREAMING TESTS
// =============================================================================

func TestSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ChatPath, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(protocol.ChatResponse{
			ThreadID:         "t1",
			UserMessage:      model.NewUserMessage("q", nil),
			AssistantMessage: model.NewAssistantMessage("a", "m"),
			TokenMetrics:     &model.TokenMetrics{TotalTokens: 2},
		})
	}))
	defer srv.Close()

	ctrl := NewController(srv.URL)
	completion, err := ctrl.Send(context.Background(), StreamRequest{Content: "q"})
	require.NoError(t, err)
	assert.Equal(t, "t1", completion.ThreadID)
	assert.Equal(t, "a", completion.AssistantMessage.Content)
	assert.Equal(t, 2, completion.TokenMetrics.TotalTokens)

	_, err = ctrl.Send(context.Background(), StreamRequest{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAuthToken(t *testing.T) {
	var headers []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		headers = append(headers, r.Header.Get("Authorization"))
		mu.Unlock()
		if r.URL.Path == ChatPath {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(protocol.ChatResponse{ThreadID: "t1"})
			return
		}
		fullTurn(w, "hi")
	}))
	defer srv.Close()

	ctrl := NewController(srv.URL).WithAuthToken(" secret ")
	_, err := ctrl.StreamMessage(context.Background(), StreamRequest{Content: "hi"}, Callbacks{})
	require.NoError(t, err)
	_, err = ctrl.Send(context.Background(), StreamRequest{Content: "hi"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"Bearer secret", "Bearer secret"}, headers)
}

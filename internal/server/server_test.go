// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/orchat/internal/cloud"
	"github.com/jeranaias/orchat/internal/config"
	"github.com/jeranaias/orchat/internal/model"
	"github.com/jeranaias/orchat/internal/protocol"
	"github.com/jeranaias/orchat/internal/session"
	"github.com/jeranaias/orchat/internal/storage"
	"github.com/jeranaias/orchat/internal/telemetry"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// fakeUpstream replays a fixed answer through the stream handler.
type fakeUpstream struct {
	reasoning    []string
	content      []string
	annotations  []model.Annotation
	usage        *cloud.Usage
	err          error
	unconfigured bool

	mu       sync.Mutex
	requests []cloud.ChatRequest
}

func (f *fakeUpstream) record(req cloud.ChatRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
}

func (f *fakeUpstream) calls() []cloud.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]cloud.ChatRequest(nil), f.requests...)
}

func (f *fakeUpstream) result() *cloud.Result {
	return &cloud.Result{
		Model:        "openai/gpt-4o",
		Content:      strings.Join(f.content, ""),
		Reasoning:    strings.Join(f.reasoning, ""),
		Annotations:  f.annotations,
		FinishReason: "stop",
		Usage:        f.usage,
	}
}

func (f *fakeUpstream) Stream(ctx context.Context, req cloud.ChatRequest, h cloud.StreamHandler) (*cloud.Result, error) {
	f.record(req)
	if f.err != nil {
		return nil, f.err
	}
	for _, r := range f.reasoning {
		h.OnReasoning(r)
	}
	if len(f.annotations) > 0 {
		h.OnAnnotations(f.annotations)
	}
	for _, c := range f.content {
		h.OnContent(c)
	}
	return f.result(), nil
}

func (f *fakeUpstream) Complete(ctx context.Context, req cloud.ChatRequest) (*cloud.Result, error) {
	f.record(req)
	if f.err != nil {
		return nil, f.err
	}
	return f.result(), nil
}

func (f *fakeUpstream) IsConfigured() bool { return !f.unconfigured }

func helloUpstream() *fakeUpstream {
	return &fakeUpstream{
		reasoning: []string{"Greeting back."},
		content:   []string{"Hello", " world"},
		annotations: []model.Annotation{{
			Type:        "url_citation",
			URLCitation: &model.URLCitation{URL: "https://example.com", Title: "Example"},
		}},
	}
}

func testConfig() config.ServerConfig {
	cfg := config.Default().Server
	cfg.RateLimit = 0
	return cfg
}

func newTestServer(t *testing.T, up Upstream) (*Server, *httptest.Server, storage.Store) {
	t.Helper()
	store := storage.NewMemoryStore()
	srv := NewServer(testConfig(), store, up)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts, store
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", strings.NewReader(string(data)))
	require.NoError(t, err)
	return resp
}

// streamEvents posts a chat request and decodes the whole event stream.
func streamEvents(t *testing.T, baseURL string, req protocol.ChatRequest) ([]protocol.Event, bool) {
	t.Helper()
	resp := postJSON(t, baseURL+session.StreamPath, req)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	dec := protocol.NewDecoder()
	events := dec.Feed(data)
	events = append(events, dec.Flush()...)
	return events, dec.Done()
}

func kinds(events []protocol.Event) []protocol.Kind {
	out := make([]protocol.Kind, len(events))
	for i, ev := range events {
		out[i] = ev.Type()
	}
	return out
}

func decodeError(t *testing.T, resp *http.Response) protocol.ErrorResponse {
	t.Helper()
	var body protocol.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

func TestChatStream_NewThreadEventOrder(t *testing.T) {
	up := helloUpstream()
	_, ts, store := newTestServer(t, up)

	events, done := streamEvents(t, ts.URL, protocol.ChatRequest{Content: "Hello there", Model: "openai/gpt-4o"})
	require.True(t, done, "stream ends with [DONE]")
	require.Equal(t, []protocol.Kind{
		protocol.KindThreadInfo,
		protocol.KindUserMessage,
		protocol.KindAIStart,
		protocol.KindReasoningChunk,
		protocol.KindAnnotationsChunk,
		protocol.KindAIChunk,
		protocol.KindAIChunk,
		protocol.KindAIComplete,
	}, kinds(events))

	threadID := events[0].(*protocol.ThreadInfo).ThreadID
	assert.NotEmpty(t, threadID)
	assert.Equal(t, "Hello there", events[1].(*protocol.UserMessage).Message.Content)

	reasoning := events[3].(*protocol.ReasoningChunk)
	assert.Equal(t, "Greeting back.", reasoning.FullReasoning)
	require.NotNil(t, reasoning.TokenMetrics)

	last := events[6].(*protocol.AIChunk)
	assert.Equal(t, " world", last.Content)
	assert.Equal(t, "Hello world", last.FullContent)
	require.NotNil(t, last.TokenMetrics)
	assert.Positive(t, last.TokenMetrics.OutputTokens)

	complete := events[7].(*protocol.AIComplete)
	assert.Equal(t, "Hello world", complete.AssistantMessage.Content)
	assert.Equal(t, "Greeting back.", complete.AssistantMessage.Reasoning)
	assert.Equal(t, "openai/gpt-4o", complete.AssistantMessage.ModelID)
	require.Len(t, complete.AssistantMessage.Annotations, 1)
	require.NotNil(t, complete.TokenMetrics)
	assert.NotNil(t, complete.TokenMetrics.EndTime)

	thread, err := store.GetThread(context.Background(), threadID)
	require.NoError(t, err)
	assert.Equal(t, "Hello there", thread.Title)
	assert.Equal(t, "openai/gpt-4o", thread.CurrentModel)
	require.Len(t, thread.Messages, 2)
	assert.Equal(t, model.RoleUser, thread.Messages[0].Role)
	assert.Equal(t, model.RoleAssistant, thread.Messages[1].Role)

	calls := up.calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].Stream)
	assert.Equal(t, "openai/gpt-4o", calls[0].Model)
}

func TestChatStream_ExistingThreadSendsHistory(t *testing.T) {
	up := helloUpstream()
	_, ts, store := newTestServer(t, up)

	thread := model.NewThread("Earlier", "anthropic/claude-3.5-haiku")
	require.NoError(t, store.CreateThread(context.Background(), thread))
	require.NoError(t, store.AppendMessage(context.Background(), thread.ID, model.NewUserMessage("first", nil)))
	require.NoError(t, store.AppendMessage(context.Background(), thread.ID, model.NewAssistantMessage("reply", "anthropic/claude-3.5-haiku")))

	events, done := streamEvents(t, ts.URL, protocol.ChatRequest{Content: "second", ThreadID: thread.ID})
	require.True(t, done)
	assert.NotContains(t, kinds(events), protocol.KindThreadInfo)
	assert.Equal(t, protocol.KindUserMessage, events[0].Type())

	calls := up.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "anthropic/claude-3.5-haiku", calls[0].Model, "thread model is reused")
	assert.Len(t, calls[0].Messages, 3)

	got, err := store.GetThread(context.Background(), thread.ID)
	require.NoError(t, err)
	assert.Len(t, got.Messages, 4)
}

func TestChatStream_UnknownThread(t *testing.T) {
	up := helloUpstream()
	_, ts, _ := newTestServer(t, up)

	events, done := streamEvents(t, ts.URL, protocol.ChatRequest{Content: "hi", ThreadID: "missing"})
	assert.True(t, done)
	require.Equal(t, []protocol.Kind{protocol.KindError}, kinds(events))
	assert.Equal(t, "Thread not found", events[0].(*protocol.ErrorEvent).Message)
	assert.Empty(t, up.calls())
}

func TestChatStream_UpstreamErrorKeepsUserMessage(t *testing.T) {
	up := &fakeUpstream{err: &cloud.APIError{Status: http.StatusPaymentRequired, Message: "no credits on key sk-or-xyz"}}
	_, ts, store := newTestServer(t, up)

	events, done := streamEvents(t, ts.URL, protocol.ChatRequest{Content: "hi"})
	assert.True(t, done)
	require.Equal(t, []protocol.Kind{
		protocol.KindThreadInfo,
		protocol.KindUserMessage,
		protocol.KindAIStart,
		protocol.KindError,
	}, kinds(events))

	msg := events[3].(*protocol.ErrorEvent).Message
	assert.Equal(t, "Insufficient OpenRouter credits", msg)
	assert.NotContains(t, msg, "sk-or")

	thread, err := store.GetThread(context.Background(), events[0].(*protocol.ThreadInfo).ThreadID)
	require.NoError(t, err)
	require.Len(t, thread.Messages, 1)
	assert.Equal(t, model.RoleUser, thread.Messages[0].Role)
}

func TestChatStream_Validation(t *testing.T) {
	_, ts, _ := newTestServer(t, helloUpstream())

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"empty content", `{"content":"   "}`, http.StatusBadRequest},
		{"bad json", `{"content":`, http.StatusBadRequest},
		{"too long", fmt.Sprintf(`{"content":%q}`, strings.Repeat("a", MaxContentLength+1)), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+session.StreamPath, "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
			body := decodeError(t, resp)
			assert.Equal(t, tt.status, body.Error.Code)
			assert.NotEmpty(t, body.Error.Message)
		})
	}
}

func TestChatStream_BodyTooLarge(t *testing.T) {
	store := storage.NewMemoryStore()
	cfg := testConfig()
	cfg.MaxBodyBytes = 64
	ts := httptest.NewServer(NewServer(cfg, store, helloUpstream()).Handler())
	defer ts.Close()

	resp := postJSON(t, ts.URL+session.StreamPath, protocol.ChatRequest{Content: strings.Repeat("x", 200)})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestChatStream_ImageOnlyMessage(t *testing.T) {
	up := helloUpstream()
	_, ts, _ := newTestServer(t, up)

	events, done := streamEvents(t, ts.URL, protocol.ChatRequest{
		Images: []model.Image{{URL: "data:image/png;base64,AAAA", MimeType: "image/png"}},
	})
	require.True(t, done)
	require.NotEmpty(t, events)
	assert.Equal(t, protocol.KindAIComplete, events[len(events)-1].Type())

	calls := up.calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].Messages[0].Content.IsMultipart())
}

// =============================================================================
// END TO END WITH THE SESSION CONTROLLER
// =============================================================================

// openRouterStub serves OpenRouter-style SSE, including a malformed line.
func openRouterStub(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, line := range []string{
			": OPENROUTER PROCESSING",
			`data: {"id":"gen-1","choices":[{"delta":{"content":"","reasoning":"Thinking."}}]}`,
			`data: {not json}`,
			`data: {"choices":[{"delta":{"content":"Hello"}}]}`,
			`data: {"choices":[{"delta":{"content":" world"},"finish_reason":"stop"}]}`,
			`data: {"choices":[],"usage":{"prompt_tokens":7,"completion_tokens":3,"total_tokens":10}}`,
			`data: [DONE]`,
		} {
			fmt.Fprintf(w, "%s\n\n", line)
			w.(http.Flusher).Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEndToEnd_ControllerAgainstServer(t *testing.T) {
	stub := openRouterStub(t)
	client := cloud.NewOpenRouterClient("sk-or-test-abcdefghijklmnopqrstuvwxyz0123456789").WithBaseURL(stub.URL)

	ledger, err := telemetry.NewUsageLedger("")
	require.NoError(t, err)

	store := storage.NewMemoryStore()
	srv := NewServer(testConfig(), store, client).WithLedger(ledger)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	var (
		mu    sync.Mutex
		order []string
	)
	note := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, s)
	}
	cb := session.Callbacks{
		OnThreadCreated:        func(string) { note("thread") },
		OnUserMessageConfirmed: func(*model.Message) { note("user") },
		OnAIStart:              func() { note("start") },
		OnReasoningChunk:       func(string, string, *model.TokenMetrics) { note("reasoning") },
		OnChunk:                func(string, string, *model.TokenMetrics) { note("chunk") },
		OnComplete:             func(*session.Completion) { note("complete") },
		OnError:                func(error) { note("error") },
	}

	ctrl := session.NewController(ts.URL)
	completion, err := ctrl.StreamMessage(context.Background(), session.StreamRequest{Content: "Hi"}, cb)
	require.NoError(t, err)
	assert.Equal(t, []string{"thread", "user", "start", "reasoning", "chunk", "chunk", "complete"}, order)
	assert.Equal(t, "Hello world", completion.AssistantMessage.Content)
	assert.Equal(t, "Thinking.", completion.AssistantMessage.Reasoning)
	require.NotNil(t, completion.TokenMetrics)
	assert.Equal(t, 7, completion.TokenMetrics.InputTokens, "provider usage replaces the estimate")
	assert.Equal(t, 3, completion.TokenMetrics.OutputTokens)
	assert.Equal(t, session.StateCompleted, ctrl.State())

	// Follow-up on the same thread announces no new thread.
	mu.Lock()
	order = nil
	mu.Unlock()
	second, err := ctrl.StreamMessage(context.Background(),
		session.StreamRequest{Content: "Again", ThreadID: completion.ThreadID}, cb)
	require.NoError(t, err)
	assert.Equal(t, completion.ThreadID, second.ThreadID)
	assert.NotContains(t, order, "thread")

	thread, err := store.GetThread(context.Background(), completion.ThreadID)
	require.NoError(t, err)
	assert.Len(t, thread.Messages, 4)

	usage := ledger.Snapshot()
	require.Len(t, usage, 1)
	assert.Equal(t, model.DefaultModelID, usage[0].Model)
	assert.Equal(t, 2, usage[0].Requests)
}

func TestEndToEnd_UnknownThreadSurfacesRemoteError(t *testing.T) {
	_, ts, _ := newTestServer(t, helloUpstream())

	var started bool
	ctrl := session.NewController(ts.URL)
	_, err := ctrl.StreamMessage(context.Background(),
		session.StreamRequest{Content: "Hi", ThreadID: "nope"},
		session.Callbacks{OnAIStart: func() { started = true }})

	var remote *session.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "Thread not found", remote.Message)
	assert.False(t, started)
}

// =============================================================================
// NON-STREAMING CHAT
// =============================================================================

func TestChat_NonStreaming(t *testing.T) {
	up := helloUpstream()
	up.usage = &cloud.Usage{PromptTokens: 4, CompletionTokens: 2, TotalTokens: 6, Cost: 0.0012}
	_, ts, store := newTestServer(t, up)

	completion, err := session.NewController(ts.URL).Send(context.Background(), session.StreamRequest{Content: "Hello"})
	require.NoError(t, err)
	assert.NotEmpty(t, completion.ThreadID)
	assert.Equal(t, "Hello", completion.UserMessage.Content)
	assert.Equal(t, "Hello world", completion.AssistantMessage.Content)
	require.NotNil(t, completion.TokenMetrics)
	assert.Equal(t, 6, completion.TokenMetrics.TotalTokens)
	require.NotNil(t, completion.TokenMetrics.EstimatedCost)
	assert.InDelta(t, 0.0012, *completion.TokenMetrics.EstimatedCost, 1e-9)

	calls := up.calls()
	require.Len(t, calls, 1)
	assert.False(t, calls[0].Stream)

	thread, err := store.GetThread(context.Background(), completion.ThreadID)
	require.NoError(t, err)
	assert.Len(t, thread.Messages, 2)
}

func TestChat_NonStreamingErrors(t *testing.T) {
	tests := []struct {
		name     string
		upstream *fakeUpstream
		req      session.StreamRequest
		status   int
		message  string
	}{
		{"unknown thread", helloUpstream(), session.StreamRequest{Content: "x", ThreadID: "missing"}, http.StatusNotFound, "Thread not found"},
		{"not configured", &fakeUpstream{err: cloud.ErrNotConfigured}, session.StreamRequest{Content: "x"}, http.StatusServiceUnavailable, "OpenRouter API key is not configured"},
		{"empty answer", &fakeUpstream{err: cloud.ErrEmptyResponse}, session.StreamRequest{Content: "x"}, http.StatusBadGateway, "The model returned an empty response"},
		{"rate limited", &fakeUpstream{err: fmt.Errorf("max retries exceeded: %w", &cloud.APIError{Status: 429})}, session.StreamRequest{Content: "x"}, http.StatusTooManyRequests, "Rate limited by the model provider, please retry shortly"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ts, _ := newTestServer(t, tt.upstream)
			_, err := session.NewController(ts.URL).Send(context.Background(), tt.req)

			var httpErr *session.HTTPError
			require.ErrorAs(t, err, &httpErr)
			assert.Equal(t, tt.status, httpErr.StatusCode)
			assert.Equal(t, tt.message, httpErr.Message)
		})
	}
}

// =============================================================================
// THREADS
// =============================================================================

func doRequest(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestThreads_CRUD(t *testing.T) {
	_, ts, _ := newTestServer(t, helloUpstream())

	events, _ := streamEvents(t, ts.URL, protocol.ChatRequest{Content: "Tell me about otters"})
	id := events[0].(*protocol.ThreadInfo).ThreadID
	streamEvents(t, ts.URL, protocol.ChatRequest{Content: "Something else"})

	// List
	resp := doRequest(t, http.MethodGet, ts.URL+"/api/threads", "")
	var list struct {
		Threads []model.ThreadMeta `json:"threads"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Len(t, list.Threads, 2)

	// Search
	resp = doRequest(t, http.MethodGet, ts.URL+"/api/threads?q=OTTERS", "")
	list.Threads = nil
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Len(t, list.Threads, 1)
	assert.Equal(t, id, list.Threads[0].ID)

	// Get
	resp = doRequest(t, http.MethodGet, ts.URL+"/api/threads/"+id, "")
	var thread model.Thread
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&thread))
	resp.Body.Close()
	assert.Equal(t, "Tell me about otters", thread.Title)
	assert.Len(t, thread.Messages, 2)

	// Patch
	resp = doRequest(t, http.MethodPatch, ts.URL+"/api/threads/"+id, `{"title":"Otters","isPinned":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var meta model.ThreadMeta
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&meta))
	resp.Body.Close()
	assert.Equal(t, "Otters", meta.Title)
	assert.True(t, meta.IsPinned)

	resp = doRequest(t, http.MethodPatch, ts.URL+"/api/threads/"+id, `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// Export
	resp = doRequest(t, http.MethodGet, ts.URL+"/api/threads/"+id+"/export", "")
	md, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(md), "# Otters\n"))
	assert.Contains(t, string(md), "Hello world")

	// Delete
	resp = doRequest(t, http.MethodDelete, ts.URL+"/api/threads/"+id, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/threads/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Thread not found", decodeError(t, resp).Error.Message)
	resp.Body.Close()

	resp = doRequest(t, http.MethodDelete, ts.URL+"/api/threads/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

// =============================================================================
// MODELS, USAGE, HEALTH, METRICS
// =============================================================================

func TestHandleModels(t *testing.T) {
	srv, ts, _ := newTestServer(t, helloUpstream())
	srv.WithDefaultModel("openai/gpt-4o:online")

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/models", "")
	defer resp.Body.Close()

	var body struct {
		Models       []model.Descriptor `json:"models"`
		DefaultModel string             `json:"defaultModel"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Len(t, body.Models, len(model.Descriptors()))
	assert.Equal(t, "openai/gpt-4o", body.DefaultModel)
}

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name     string
		upstream *fakeUpstream
		status   string
	}{
		{"configured", &fakeUpstream{}, "ok"},
		{"no key", &fakeUpstream{unconfigured: true}, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ts, _ := newTestServer(t, tt.upstream)
			resp := doRequest(t, http.MethodGet, ts.URL+"/health", "")
			defer resp.Body.Close()

			var body map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.status, body["status"])
			assert.Equal(t, Version, body["version"])
			assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
		})
	}
}

func TestHandleUsage(t *testing.T) {
	ledger, err := telemetry.NewUsageLedger("")
	require.NoError(t, err)

	store := storage.NewMemoryStore()
	srv := NewServer(testConfig(), store, helloUpstream()).WithLedger(ledger)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	streamEvents(t, ts.URL, protocol.ChatRequest{Content: "hi", Model: "openai/gpt-4o"})

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/usage?days=3", "")
	defer resp.Body.Close()
	var body struct {
		Models []telemetry.ModelUsage `json:"models"`
		Trends *telemetry.UsageTrends `json:"trends"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Models, 1)
	assert.Equal(t, "openai/gpt-4o", body.Models[0].Model)
	require.NotNil(t, body.Trends)
	assert.Equal(t, 3, body.Trends.Days)

	bad := doRequest(t, http.MethodGet, ts.URL+"/api/usage?days=0", "")
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
	bad.Body.Close()
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts, _ := newTestServer(t, helloUpstream())
	streamEvents(t, ts.URL, protocol.ChatRequest{Content: "hi"})

	resp := doRequest(t, http.MethodGet, ts.URL+"/metrics", "")
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "orchat_http_requests_total")
	assert.Contains(t, string(data), `orchat_streams_total{outcome="completed"}`)
}

// =============================================================================
// HELPERS
// =============================================================================

func TestReconcileUsage(t *testing.T) {
	estimated := 0.5
	m := &model.TokenMetrics{InputTokens: 10, OutputTokens: 20, TotalTokens: 30, EstimatedCost: &estimated}

	reconcileUsage(m, "openai/gpt-4o", nil)
	assert.Equal(t, 30, m.TotalTokens, "nil usage keeps the estimate")

	reconcileUsage(m, "openai/gpt-4o", &cloud.Usage{PromptTokens: 1000, CompletionTokens: 1000, TotalTokens: 2000})
	assert.Equal(t, 1000, m.InputTokens)
	assert.Equal(t, 2000, m.TotalTokens)
	require.NotNil(t, m.EstimatedCost)
	assert.InDelta(t, telemetry.EstimateCost("openai/gpt-4o", 1000, 1000), *m.EstimatedCost, 1e-12)
	require.NotNil(t, m.ContextWindow)
	assert.Equal(t, 2000, m.ContextWindow.Used)
}

func TestClientMessage_HidesDetails(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&cloud.APIError{Status: 401, Message: "bad key sk-or-abc"}, "OpenRouter rejected the API key"},
		{&cloud.APIError{Status: 404}, "Model not found"},
		{&cloud.APIError{Status: 500, Message: "boom"}, "The model provider returned HTTP 500"},
		{&cloud.StreamError{Err: &cloud.APIError{Message: "overloaded"}}, "The model provider reported an error: overloaded"},
		{&cloud.NetworkError{Err: io.ErrUnexpectedEOF}, "Could not reach the model provider"},
		{fmt.Errorf("save user message: %w", io.ErrClosedPipe), "Failed to process message"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, clientMessage(tt.err), "%v", tt.err)
	}
}

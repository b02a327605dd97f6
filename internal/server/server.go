// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/jeranaias/orchat/internal/cloud"
	"github.com/jeranaias/orchat/internal/config"
	"github.com/jeranaias/orchat/internal/metrics"
	"github.com/jeranaias/orchat/internal/model"
	"github.com/jeranaias/orchat/internal/protocol"
	"github.com/jeranaias/orchat/internal/storage"
	"github.com/jeranaias/orchat/internal/telemetry"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// Version is the server version reported by /health.
	Version = "0.3.0"

	// MaxContentLength is the maximum length of a message in bytes.
	MaxContentLength = 100000

	// MaxImages is the maximum number of images per message.
	MaxImages = 8

	// MaxDocuments is the maximum number of documents per message.
	MaxDocuments = 8
)

// Upstream is the model provider used to answer chat turns.
type Upstream interface {
	Stream(ctx context.Context, req cloud.ChatRequest, h cloud.StreamHandler) (*cloud.Result, error)
	Complete(ctx context.Context, req cloud.ChatRequest) (*cloud.Result, error)
	IsConfigured() bool
}

var errThreadNotFound = errors.New("thread not found")

// ============================================================================
// SERVER
// ============================================================================

// Server is the chat HTTP API.
type Server struct {
	cfg    config.ServerConfig
	router *http.ServeMux
	server *http.Server

	store        storage.Store
	upstream     Upstream
	ledger       *telemetry.UsageLedger
	defaultModel string
	logger       zerolog.Logger
	limiter      *RateLimiter
	started      time.Time

	mu sync.Mutex
}

// NewServer creates a Server over the given store and upstream.
func NewServer(cfg config.ServerConfig, store storage.Store, upstream Upstream) *Server {
	s := &Server{
		cfg:          cfg,
		router:       http.NewServeMux(),
		store:        store,
		upstream:     upstream,
		defaultModel: model.DefaultModelID,
		logger:       zerolog.Nop(),
		limiter:      NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		started:      time.Now(),
	}
	if s.cfg.MaxBodyBytes <= 0 {
		s.cfg.MaxBodyBytes = 20 << 20
	}
	s.setupRoutes()
	return s
}

// WithLogger sets the server logger.
func (s *Server) WithLogger(logger zerolog.Logger) *Server {
	s.logger = logger
	return s
}

// WithLedger records every completed turn in the usage ledger.
func (s *Server) WithLedger(l *telemetry.UsageLedger) *Server {
	s.ledger = l
	return s
}

// WithDefaultModel sets the model used when neither the request nor the
// thread names one.
func (s *Server) WithDefaultModel(id string) *Server {
	if id = model.BaseModelID(id); id != "" {
		s.defaultModel = id
	}
	return s
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.router.HandleFunc("POST /api/chat/stream", s.handleChatStream)
	s.router.HandleFunc("POST /api/chat", s.handleChat)

	s.router.HandleFunc("GET /api/threads", s.handleListThreads)
	s.router.HandleFunc("GET /api/threads/{id}", s.handleGetThread)
	s.router.HandleFunc("GET /api/threads/{id}/export", s.handleExportThread)
	s.router.HandleFunc("PATCH /api/threads/{id}", s.handleUpdateThread)
	s.router.HandleFunc("DELETE /api/threads/{id}", s.handleDeleteThread)

	s.router.HandleFunc("GET /api/models", s.handleModels)
	s.router.HandleFunc("GET /api/usage", s.handleUsage)

	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.Handle("GET /metrics", promhttp.Handler())
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return Chain(
		RecoveryMiddleware(s.logger),
		MetricsMiddleware,
		LoggingMiddleware(s.logger),
		SecurityHeadersMiddleware(),
		CORSMiddleware(DefaultCORSConfig(s.cfg.AllowedOrigins)),
		RateLimitMiddleware(s.limiter, s.logger),
		AuthMiddleware(s.cfg.AuthToken, s.logger),
	)(s.router)
}

// ============================================================================
// CHAT TURN
// ============================================================================

// decodeChatRequest reads and validates a chat request body. On failure it
// has already written the error response.
func (s *Server) decodeChatRequest(w http.ResponseWriter, r *http.Request) (protocol.ChatRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)

	var req protocol.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "invalid_request_error",
				fmt.Sprintf("Request body exceeds maximum size of %d bytes", s.cfg.MaxBodyBytes))
			return req, false
		}
		s.logger.Debug().Err(err).Msg("invalid chat request body")
		writeError(w, http.StatusBadRequest, "invalid_request_error", "Invalid request format")
		return req, false
	}

	switch {
	case !req.HasInput():
		writeError(w, http.StatusBadRequest, "invalid_request_error", "Message must contain text, an image or a document")
	case len(req.Content) > MaxContentLength:
		writeError(w, http.StatusBadRequest, "invalid_request_error",
			fmt.Sprintf("Message exceeds maximum length of %d", MaxContentLength))
	case len(req.Images) > MaxImages:
		writeError(w, http.StatusBadRequest, "invalid_request_error",
			fmt.Sprintf("Too many images: maximum is %d", MaxImages))
	case len(req.Documents) > MaxDocuments:
		writeError(w, http.StatusBadRequest, "invalid_request_error",
			fmt.Sprintf("Too many documents: maximum is %d", MaxDocuments))
	default:
		return req, true
	}
	return req, false
}

// turn is one user message and its upstream request.
type turn struct {
	thread  *model.Thread
	created bool
	modelID string
	user    *model.Message
	request cloud.ChatRequest
	prompt  string
}

// openThread loads the requested thread or creates a new one titled after
// the message.
func (s *Server) openThread(ctx context.Context, req protocol.ChatRequest) (*turn, error) {
	t := &turn{}
	if id := strings.TrimSpace(req.ThreadID); id != "" {
		thread, err := s.store.GetThread(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errThreadNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("load thread: %w", err)
		}
		t.thread = thread
	} else {
		t.thread = model.NewThread(model.TitleFromContent(req.Content), "")
		t.created = true
	}

	t.modelID = s.resolveModel(req, t.thread)
	if t.created {
		t.thread.CurrentModel = t.modelID
		if err := s.store.CreateThread(ctx, t.thread); err != nil {
			return nil, fmt.Errorf("create thread: %w", err)
		}
		metrics.ThreadsCreated.Inc()
	}
	return t, nil
}

// addUserMessage persists the user message and builds the upstream request
// from the full history.
func (s *Server) addUserMessage(ctx context.Context, t *turn, req protocol.ChatRequest, stream bool) error {
	t.user = model.NewUserMessage(req.Content, req.Images)
	if err := s.store.AppendMessage(ctx, t.thread.ID, t.user); err != nil {
		return fmt.Errorf("save user message: %w", err)
	}
	t.thread.Append(t.user)

	desc, _ := model.LookupDescriptor(t.modelID)
	history := t.thread.History()
	t.request = cloud.BuildRequest(desc, history, cloud.RequestOptions{
		Reasoning:       req.Reasoning.IsOn(),
		ReasoningEffort: req.Reasoning.EffortOrDefault(),
		WebSearch:       req.WebSearch.IsOn(),
		WebSearchEffort: req.WebSearch.EffortOrDefault(),
		Stream:          stream,
		Documents:       req.Documents,
	})
	t.prompt = promptText(history, req.Documents)
	return nil
}

// finish persists the assistant message and records usage.
func (s *Server) finish(ctx context.Context, t *turn, res *cloud.Result, m *model.TokenMetrics) (*model.Message, error) {
	reconcileUsage(m, t.modelID, res.Usage)

	msg := model.NewAssistantMessage(res.Content, t.modelID)
	msg.Reasoning = res.Reasoning
	msg.Annotations = res.Annotations
	if err := s.store.AppendMessage(ctx, t.thread.ID, msg); err != nil {
		return nil, fmt.Errorf("save assistant message: %w", err)
	}

	metrics.OutputTokens.WithLabelValues(t.modelID).Add(float64(m.OutputTokens))
	if s.ledger != nil {
		s.ledger.Record(t.modelID, *m)
	}
	return msg, nil
}

func (s *Server) resolveModel(req protocol.ChatRequest, thread *model.Thread) string {
	if id := model.BaseModelID(req.Model); id != "" {
		return id
	}
	if thread != nil && thread.CurrentModel != "" {
		return thread.CurrentModel
	}
	return s.defaultModel
}

// promptText is the text the input token estimate is taken from.
func promptText(history []model.Message, docs []model.Document) string {
	var b strings.Builder
	for _, m := range history {
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	for _, d := range docs {
		b.WriteString(d.Content)
		b.WriteByte('\n')
	}
	return b.String()
}

// reconcileUsage replaces estimated counts with provider-reported ones.
func reconcileUsage(m *model.TokenMetrics, modelID string, u *cloud.Usage) {
	if u == nil || u.TotalTokens == 0 {
		return
	}
	m.InputTokens = u.PromptTokens
	m.OutputTokens = u.CompletionTokens
	m.TotalTokens = u.PromptTokens + u.CompletionTokens

	cost := u.Cost
	if cost == 0 {
		cost = telemetry.EstimateCost(modelID, m.InputTokens, m.OutputTokens)
	}
	m.EstimatedCost = &cost
	window := telemetry.ContextUsage(modelID, m.TotalTokens)
	m.ContextWindow = &window
}

// clientMessage maps an internal error to the text shown to the user.
// Details stay in the log.
func clientMessage(err error) string {
	var apiErr *cloud.APIError
	switch {
	case errors.Is(err, errThreadNotFound):
		return "Thread not found"
	case errors.Is(err, cloud.ErrNotConfigured):
		return "OpenRouter API key is not configured"
	case errors.Is(err, cloud.ErrAuthFailed):
		return "OpenRouter rejected the API key"
	case errors.Is(err, cloud.ErrInsufficientCredits):
		return "Insufficient OpenRouter credits"
	case errors.Is(err, cloud.ErrRateLimited):
		return "Rate limited by the model provider, please retry shortly"
	case errors.Is(err, cloud.ErrModelNotFound):
		return "Model not found"
	case errors.Is(err, cloud.ErrEmptyResponse):
		return "The model returned an empty response"
	case errors.As(err, &apiErr):
		if apiErr.Status == 0 {
			return "The model provider reported an error: " + apiErr.Message
		}
		return fmt.Sprintf("The model provider returned HTTP %d", apiErr.Status)
	}
	var netErr *cloud.NetworkError
	if errors.As(err, &netErr) {
		return "Could not reach the model provider"
	}
	return "Failed to process message"
}

// statusFor maps an error of the non-streaming endpoint to an HTTP status.
func statusFor(err error) int {
	var apiErr *cloud.APIError
	switch {
	case errors.Is(err, errThreadNotFound):
		return http.StatusNotFound
	case errors.Is(err, cloud.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, cloud.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.As(err, &apiErr), errors.Is(err, cloud.ErrEmptyResponse):
		return http.StatusBadGateway
	}
	var netErr *cloud.NetworkError
	if errors.As(err, &netErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// ============================================================================
// STREAMING CHAT HANDLER
// ============================================================================

// sseWriter emits chunk-protocol events and remembers the first write
// failure, after which writes are dropped.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	err     error
	cancel  context.CancelCauseFunc
}

func (e *sseWriter) send(ev protocol.Event) {
	if e.err != nil {
		return
	}
	if err := protocol.Encode(e.w, ev); err != nil {
		e.fail(err)
		return
	}
	e.flusher.Flush()
}

func (e *sseWriter) done() {
	if e.err != nil {
		return
	}
	if err := protocol.EncodeDone(e.w); err != nil {
		e.fail(err)
		return
	}
	e.flusher.Flush()
}

func (e *sseWriter) fail(err error) {
	e.err = err
	e.cancel(fmt.Errorf("write event: %w", err))
}

// handleChatStream handles POST /api/chat/stream.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "server_error", "Streaming not supported")
		return
	}

	ctx, cancel := context.WithCancelCause(r.Context())
	defer cancel(nil)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	out := &sseWriter{w: w, flusher: flusher, cancel: cancel}
	record := metrics.StreamStarted()
	outcome := metrics.OutcomeError
	defer func() { record(outcome) }()

	fail := func(err error) {
		if ctx.Err() != nil {
			outcome = metrics.OutcomeCanceled
			s.logger.Debug().Err(context.Cause(ctx)).Msg("STREAM_CANCELED")
			return
		}
		s.logger.Error().Err(err).Msg("STREAM_ERROR")
		out.send(&protocol.ErrorEvent{Message: clientMessage(err)})
		out.done()
	}

	t, err := s.openThread(ctx, req)
	if err != nil {
		fail(err)
		return
	}
	if t.created {
		out.send(&protocol.ThreadInfo{ThreadID: t.thread.ID})
	}

	if err := s.addUserMessage(ctx, t, req, true); err != nil {
		fail(err)
		return
	}
	out.send(&protocol.UserMessage{Message: t.user})
	out.send(&protocol.AIStart{})

	est := telemetry.NewEstimator()
	est.StartTracking(t.prompt, t.modelID)

	var content, reasoning strings.Builder
	handler := cloud.StreamHandler{
		OnContent: func(delta string) {
			content.WriteString(delta)
			est.AddTokensFromChunk(delta)
			m := est.CurrentMetrics()
			out.send(&protocol.AIChunk{Content: delta, FullContent: content.String(), TokenMetrics: &m})
		},
		OnReasoning: func(delta string) {
			reasoning.WriteString(delta)
			est.AddTokensFromChunk(delta)
			m := est.CurrentMetrics()
			out.send(&protocol.ReasoningChunk{Content: delta, FullReasoning: reasoning.String(), TokenMetrics: &m})
		},
		OnAnnotations: func(annotations []model.Annotation) {
			out.send(&protocol.AnnotationsChunk{Annotations: annotations})
		},
	}

	s.logger.Debug().
		Str("thread", t.thread.ID).
		Str("model", t.request.Model).
		Int("messages", len(t.request.Messages)).
		Msg("STREAM_START")

	res, err := s.upstream.Stream(ctx, t.request, handler)
	if err != nil {
		fail(err)
		return
	}
	if out.err != nil {
		fail(out.err)
		return
	}

	m := est.StopTracking()
	msg, err := s.finish(ctx, t, res, &m)
	if err != nil {
		fail(err)
		return
	}

	out.send(&protocol.AIComplete{AssistantMessage: msg, TokenMetrics: &m})
	out.done()
	if out.err == nil {
		outcome = metrics.OutcomeCompleted
	}

	s.logger.Info().
		Str("thread", t.thread.ID).
		Str("model", t.modelID).
		Int("input_tokens", m.InputTokens).
		Int("output_tokens", m.OutputTokens).
		Float64("tps", m.TokensPerSecond).
		Msg("STREAM_COMPLETE")
}

// ============================================================================
// NON-STREAMING CHAT HANDLER
// ============================================================================

// handleChat handles POST /api/chat.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	respondErr := func(err error) {
		s.logger.Error().Err(err).Msg("CHAT_ERROR")
		writeError(w, statusFor(err), "api_error", clientMessage(err))
	}

	t, err := s.openThread(ctx, req)
	if err != nil {
		respondErr(err)
		return
	}
	if err := s.addUserMessage(ctx, t, req, false); err != nil {
		respondErr(err)
		return
	}

	est := telemetry.NewEstimator()
	est.StartTracking(t.prompt, t.modelID)

	res, err := s.upstream.Complete(ctx, t.request)
	if err != nil {
		respondErr(err)
		return
	}
	est.AddTokensFromChunk(res.Reasoning)
	est.AddTokensFromChunk(res.Content)
	m := est.StopTracking()

	msg, err := s.finish(ctx, t, res, &m)
	if err != nil {
		respondErr(err)
		return
	}

	writeJSON(w, http.StatusOK, protocol.ChatResponse{
		ThreadID:         t.thread.ID,
		UserMessage:      t.user,
		AssistantMessage: msg,
		TokenMetrics:     &m,
	})
}

// ============================================================================
// THREAD HANDLERS
// ============================================================================

// handleListThreads handles GET /api/threads. ?q= filters by text.
func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	var (
		metas []model.ThreadMeta
		err   error
	)
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		metas, err = s.store.SearchThreads(r.Context(), q)
	} else {
		metas, err = s.store.ListThreads(r.Context())
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("list threads failed")
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to list threads")
		return
	}
	if metas == nil {
		metas = []model.ThreadMeta{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": metas})
}

func (s *Server) loadThread(w http.ResponseWriter, r *http.Request) (*model.Thread, bool) {
	thread, err := s.store.GetThread(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return nil, false
	}
	return thread, true
}

// handleGetThread handles GET /api/threads/{id}.
func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	if thread, ok := s.loadThread(w, r); ok {
		writeJSON(w, http.StatusOK, thread)
	}
}

// handleExportThread handles GET /api/threads/{id}/export.
func (s *Server) handleExportThread(w http.ResponseWriter, r *http.Request) {
	thread, ok := s.loadThread(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", thread.ID+".md"))
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, storage.ExportMarkdown(thread))
}

// threadPatch is the body of PATCH /api/threads/{id}.
type threadPatch struct {
	Title        *string `json:"title"`
	IsPinned     *bool   `json:"isPinned"`
	CurrentModel *string `json:"currentModel"`
}

// handleUpdateThread handles PATCH /api/threads/{id}.
func (s *Server) handleUpdateThread(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)

	var patch threadPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "Invalid request format")
		return
	}
	upd := storage.ThreadUpdate{Title: patch.Title, IsPinned: patch.IsPinned}
	if patch.CurrentModel != nil {
		id := model.BaseModelID(*patch.CurrentModel)
		upd.CurrentModel = &id
	}
	if upd.IsEmpty() {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "Nothing to update")
		return
	}

	thread, err := s.store.UpdateThread(r.Context(), r.PathValue("id"), upd)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, thread.Meta())
}

// handleDeleteThread handles DELETE /api/threads/{id}.
func (s *Server) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteThread(r.Context(), r.PathValue("id")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found_error", "Thread not found")
		return
	}
	s.logger.Error().Err(err).Msg("store operation failed")
	writeError(w, http.StatusInternalServerError, "server_error", "Storage error")
}

// ============================================================================
// MODELS, USAGE AND HEALTH
// ============================================================================

// handleModels handles GET /api/models.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"models":       model.Descriptors(),
		"defaultModel": s.defaultModel,
	})
}

// handleUsage handles GET /api/usage. ?days= selects the trend window.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeJSON(w, http.StatusOK, map[string]any{"models": []telemetry.ModelUsage{}})
		return
	}
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 365 {
			writeError(w, http.StatusBadRequest, "invalid_request_error", "days must be between 1 and 365")
			return
		}
		days = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"models": s.ledger.Snapshot(),
		"trends": s.ledger.Trends(days),
	})
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if !s.upstream.IsConfigured() {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             status,
		"version":            Version,
		"upstreamConfigured": s.upstream.IsConfigured(),
		"uptimeSeconds":      int64(time.Since(s.started).Seconds()),
	})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

func (s *Server) httpServer() *http.Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		// No WriteTimeout: streams last as long as the model keeps talking.
		s.server = &http.Server{
			Addr:              s.cfg.Addr,
			Handler:           s.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
	}
	return s.server
}

// Start listens on the configured address and serves until Shutdown.
// It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Str("version", Version).
		Str("default_model", s.defaultModel).
		Bool("auth", s.cfg.AuthToken != "").
		Msg("SERVER_START")

	err := s.httpServer().Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for active streams to
// finish until ctx expires.
// A Serve call that starts after Shutdown returns immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("SERVER_SHUTDOWN")
	return s.httpServer().Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, protocol.ErrorResponse{
		Error: protocol.ErrorBody{Message: message, Type: errType, Code: status},
	})
}

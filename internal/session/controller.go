// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jeranaias/orchat/internal/model"
	"github.com/jeranaias/orchat/internal/protocol"
	"github.com/jeranaias/orchat/internal/transport"
)

// API paths on the chat server.
const (
	StreamPath = "/api/chat/stream"
	ChatPath   = "/api/chat"
)

// maxErrorBody limits how much of a non-2xx response body is read.
const maxErrorBody = 64 * 1024

// =============================================================================
// TYPES
// =============================================================================

// State is the lifecycle state of the controller's most recent stream.
type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting"
	StateStreaming  State = "streaming"
	StateCompleted  State = "completed"
	StateErrored    State = "errored"
	StateCanceled   State = "canceled"
)

// StreamRequest is the message to send.
type StreamRequest = protocol.ChatRequest

// Completion is the assembled result of a turn.
type Completion struct {
	ThreadID         string
	UserMessage      *model.Message
	AssistantMessage *model.Message
	TokenMetrics     *model.TokenMetrics
}

// Callbacks receive the events of one stream in arrival order. Every field
// is optional. Callbacks run on the goroutine that called StreamMessage and
// must not start another stream on the same controller synchronously.
type Callbacks struct {
	OnThreadCreated        func(threadID string)
	OnUserMessageConfirmed func(msg *model.Message)
	OnAIStart              func()
	OnReasoningChunk       func(chunk, fullReasoning string, metrics *model.TokenMetrics)
	OnAnnotationsChunk     func(annotations []model.Annotation)
	OnChunk                func(chunk, fullContent string, metrics *model.TokenMetrics)
	OnComplete             func(c *Completion)
	OnError                func(err error)
}

// handle is the cancellation handle of the active stream.
type handle struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller sends messages to a chat server. It is safe for concurrent
// use; concurrent StreamMessage calls supersede each other.
type Controller struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
	authToken  string

	mu     sync.Mutex
	active *handle
	state  State
}

// NewController creates a controller for the server at baseURL.
func NewController(baseURL string) *Controller {
	return &Controller{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     zerolog.Nop(),
		state:      StateIdle,
	}
}

// WithHTTPClient sets the HTTP client. The client should not set a total
// Timeout, since it would cut long streams.
func (c *Controller) WithHTTPClient(client *http.Client) *Controller {
	c.httpClient = client
	return c
}

// WithAuthToken sends token as a Bearer credential on every request.
func (c *Controller) WithAuthToken(token string) *Controller {
	c.authToken = strings.TrimSpace(token)
	return c
}

// WithLogger sets the logger.
func (c *Controller) WithLogger(logger zerolog.Logger) *Controller {
	c.logger = logger
	return c
}

// State returns the state of the most recent stream.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsStreaming reports whether a stream is in flight.
func (c *Controller) IsStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// CancelActiveStream cancels the in-flight stream, if any. It does not wait
// for the stream to unwind and is safe to call at any time.
func (c *Controller) CancelActiveStream() {
	c.mu.Lock()
	h := c.active
	c.mu.Unlock()

	if h != nil {
		h.cancel(ErrCanceled)
	}
}

// =============================================================================
// STREAMING
// =============================================================================

// StreamMessage sends req and dispatches the response events to cb. It
// blocks until the stream finishes and returns the assembled completion.
//
// A stream already in flight on this controller is canceled first, and its
// OnError(ErrSuperseded) has returned before this stream dispatches any
// event. Every failure is also passed to cb.OnError.
func (c *Controller) StreamMessage(ctx context.Context, req StreamRequest, cb Callbacks) (*Completion, error) {
	if !req.HasInput() {
		c.mu.Lock()
		if c.active == nil {
			c.state = StateErrored
		}
		c.mu.Unlock()
		if cb.OnError != nil {
			cb.OnError(ErrValidation)
		}
		return nil, ErrValidation
	}

	streamCtx, cancel := context.WithCancelCause(ctx)
	h := &handle{cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	prev := c.active
	c.active = h
	c.state = StateRequesting
	c.mu.Unlock()

	if prev != nil {
		c.logger.Debug().Msg("superseding active stream")
		prev.cancel(ErrSuperseded)
		<-prev.done
	}

	completion, err := c.run(streamCtx, h, req, cb)

	c.mu.Lock()
	if c.active == h {
		c.active = nil
		switch {
		case err == nil:
			c.state = StateCompleted
		case IsCanceled(err):
			c.state = StateCanceled
		default:
			c.state = StateErrored
		}
	}
	c.mu.Unlock()

	cancel(nil)
	close(h.done)
	return completion, err
}

// run performs one stream and reports its outcome through cb.
func (c *Controller) run(ctx context.Context, h *handle, req StreamRequest, cb Callbacks) (*Completion, error) {
	completion, err := c.stream(ctx, h, req, cb)
	if err != nil {
		err = c.classify(ctx, err)
		if IsCanceled(err) {
			c.logger.Debug().Err(err).Msg("stream canceled")
		} else {
			c.logger.Warn().Err(err).Msg("stream failed")
		}
		if cb.OnError != nil {
			cb.OnError(err)
		}
		return nil, err
	}
	return completion, nil
}

func (c *Controller) stream(ctx context.Context, h *handle, req StreamRequest, cb Callbacks) (*Completion, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+StreamPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	c.setAuth(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readHTTPError(resp)
	}

	c.setState(h, StateStreaming)

	// Existing threads get no thread_info event.
	acc := &accumulator{threadID: req.ThreadID}
	reader := transport.NewReader(resp.Body).WithLogger(c.logger)
	res, err := reader.Run(ctx, func(ev protocol.Event) error {
		return c.dispatch(acc, ev, cb)
	})

	// A completion already handed to OnComplete is final even if the
	// connection fails before the sentinel.
	if acc.completion != nil {
		if err != nil {
			c.logger.Debug().Err(err).Msg("stream ended after completion")
		}
		return acc.completion, nil
	}
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Bool("done", res.Done).
		Int("events", res.Events).
		Int("skipped", res.Skipped).
		Msg("stream ended without completion")
	return nil, ErrIncompleteStream
}

// dispatch routes one event to its callback and folds it into acc.
func (c *Controller) dispatch(acc *accumulator, ev protocol.Event, cb Callbacks) error {
	switch e := ev.(type) {
	case *protocol.ThreadInfo:
		acc.threadID = e.ThreadID
		if cb.OnThreadCreated != nil {
			cb.OnThreadCreated(e.ThreadID)
		}

	case *protocol.UserMessage:
		acc.user = e.Message
		if cb.OnUserMessageConfirmed != nil {
			cb.OnUserMessageConfirmed(e.Message)
		}

	case *protocol.AIStart:
		if cb.OnAIStart != nil {
			cb.OnAIStart()
		}

	case *protocol.ReasoningChunk:
		acc.reasoning = e.FullReasoning
		acc.observe(e.TokenMetrics)
		if cb.OnReasoningChunk != nil {
			cb.OnReasoningChunk(e.Content, e.FullReasoning, e.TokenMetrics)
		}

	case *protocol.AnnotationsChunk:
		acc.annotations = append(acc.annotations, e.Annotations...)
		if cb.OnAnnotationsChunk != nil {
			cb.OnAnnotationsChunk(e.Annotations)
		}

	case *protocol.AIChunk:
		acc.content = e.FullContent
		acc.observe(e.TokenMetrics)
		if cb.OnChunk != nil {
			cb.OnChunk(e.Content, e.FullContent, e.TokenMetrics)
		}

	case *protocol.AIComplete:
		acc.observe(e.TokenMetrics)
		acc.completion = acc.assemble(e.AssistantMessage)
		if cb.OnComplete != nil {
			cb.OnComplete(acc.completion)
		}

	case *protocol.ErrorEvent:
		return &RemoteError{Message: e.Message}

	case *protocol.Unknown:
		c.logger.Debug().Str("type", string(e.Kind)).Msg("ignoring unknown event")

	default:
		c.logger.Debug().Str("type", string(ev.Type())).Msg("ignoring unhandled event")
	}
	return nil
}

// classify maps transport and context failures to this package's errors.
func (c *Controller) classify(ctx context.Context, err error) error {
	if ctx.Err() == nil {
		return err
	}
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, ErrCanceled):
		return cause
	case cause != nil:
		return fmt.Errorf("%w: %w", ErrCanceled, cause)
	default:
		return ErrCanceled
	}
}

func (c *Controller) setState(h *handle, s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == h {
		c.state = s
	}
}

// =============================================================================
// NON-STREAMING
// =============================================================================

// Send performs a non-streaming chat call. It does not take part in stream
// supersession.
func (c *Controller) Send(ctx context.Context, req StreamRequest) (*Completion, error) {
	if !req.HasInput() {
		return nil, ErrValidation
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ChatPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setAuth(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, c.classify(ctx, err)
		}
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readHTTPError(resp)
	}

	var out protocol.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &Completion{
		ThreadID:         out.ThreadID,
		UserMessage:      out.UserMessage,
		AssistantMessage: out.AssistantMessage,
		TokenMetrics:     out.TokenMetrics,
	}, nil
}

func (c *Controller) setAuth(req *http.Request) {
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

// readHTTPError builds an HTTPError from a non-2xx response.
func readHTTPError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body protocol.ErrorResponse
	if err := json.Unmarshal(data, &body); err == nil && body.Error.Message != "" {
		return &HTTPError{StatusCode: resp.StatusCode, Message: body.Error.Message}
	}

	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &HTTPError{StatusCode: resp.StatusCode, Message: msg}
}

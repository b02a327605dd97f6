// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/jeranaias/orchat/internal/model"
)

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

// MaxChunkSize is the maximum allowed size for a single SSE event.
const MaxChunkSize = 1024 * 1024

// ErrChunkTooLarge is returned when one SSE event exceeds MaxChunkSize.
var ErrChunkTooLarge = errors.New("stream chunk too large")

// =============================================================================
// STREAMING TYPES
// =============================================================================

// StreamDelta is the incremental payload of one streamed choice.
type StreamDelta struct {
	Role        string             `json:"role,omitempty"`
	Content     string             `json:"content"`
	Reasoning   string             `json:"reasoning,omitempty"`
	Annotations []model.Annotation `json:"annotations,omitempty"`
}

// StreamChunk represents a single chunk from the OpenRouter streaming response.
type StreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta        StreamDelta `json:"delta"`
		FinishReason *string     `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage        `json:"usage,omitempty"`
	Error *apiErrorBody `json:"error,omitempty"`
}

// Delta returns the first choice's delta.
func (c *StreamChunk) Delta() StreamDelta {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta
	}
	return StreamDelta{}
}

// FinishReason returns the finish reason, or "" while streaming.
func (c *StreamChunk) FinishReason() string {
	if len(c.Choices) > 0 && c.Choices[0].FinishReason != nil {
		return *c.Choices[0].FinishReason
	}
	return ""
}

// StreamHandler receives the increments of a streamed completion in order.
// Every field is optional.
type StreamHandler struct {
	OnContent     func(delta string)
	OnReasoning   func(delta string)
	OnAnnotations func(annotations []model.Annotation)
}

// =============================================================================
// SSE READER
// =============================================================================

// SSEReader parses Server-Sent Events from a stream.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{
		reader: bufio.NewReader(r),
	}
}

// ReadEvent reads the next SSE event and returns its joined data lines.
// Comment lines (": OPENROUTER PROCESSING") and other fields are ignored.
// Returns io.EOF when the stream ends.
func (s *SSEReader) ReadEvent() ([]byte, error) {
	var dataLines [][]byte
	size := 0

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
			if errors.Is(err, io.EOF) && len(dataLines) > 0 {
				return bytes.Join(dataLines, []byte("\n")), nil
			}
			return nil, err
		}

		line = bytes.TrimRight(line, "\r\n")

		// Empty line signals end of event
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return bytes.Join(dataLines, []byte("\n")), nil
			}
			if err != nil {
				return nil, err
			}
			continue
		}

		if bytes.HasPrefix(line, []byte("data:")) {
			data := bytes.TrimPrefix(line[5:], []byte(" "))
			size += len(data)
			if size > MaxChunkSize {
				return nil, fmt.Errorf("%w: %d bytes", ErrChunkTooLarge, size)
			}
			dataLines = append(dataLines, append([]byte(nil), data...))
		}

		if err != nil {
			// Final line without trailing newline.
			if len(dataLines) > 0 {
				return bytes.Join(dataLines, []byte("\n")), nil
			}
			return nil, err
		}
	}
}

// =============================================================================
// STREAMING COMPLETION
// =============================================================================

// Stream performs a streaming chat completion. Increments are passed to h
// as they arrive and the assembled result is returned at the end.
//
// Retries apply only to opening the stream. Once any content has been
// delivered a failure is terminal and returned as *StreamError. A stream
// that finishes without content fails with ErrEmptyResponse.
func (c *OpenRouterClient) Stream(ctx context.Context, req ChatRequest, h StreamHandler) (*Result, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}
	req.Stream = true

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.doWithRetry(ctx, req.Model, body, true)
	if err != nil {
		return nil, err
	}

	// Closing the body unblocks a read waiting on the network.
	var closeOnce sync.Once
	closeBody := func() { closeOnce.Do(func() { resp.Body.Close() }) }
	defer closeBody()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			closeBody()
		case <-stop:
		}
	}()

	return c.processStream(ctx, resp.Body, h)
}

// processStream reads and processes the SSE stream.
func (c *OpenRouterClient) processStream(ctx context.Context, body io.Reader, h StreamHandler) (*Result, error) {
	reader := NewSSEReader(body)
	result := &Result{}

	var content, reasoning strings.Builder
	fail := func(err error) (*Result, error) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &StreamError{Partial: content.String(), Err: err}
	}

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		data, err := reader.ReadEvent()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fail(err)
		}

		if bytes.Equal(bytes.TrimSpace(data), []byte("[DONE]")) {
			break
		}

		var chunk StreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			c.logger.Debug().Err(err).Msg("skipping malformed upstream chunk")
			continue
		}

		if chunk.Error != nil {
			msg := chunk.Error.Message
			if msg == "" {
				msg = "upstream stream error"
			}
			return fail(&APIError{Code: chunk.Error.code(), Message: msg})
		}

		if chunk.ID != "" {
			result.ID = chunk.ID
		}
		if chunk.Model != "" {
			result.Model = chunk.Model
		}
		if chunk.Usage != nil {
			result.Usage = chunk.Usage
		}
		if fr := chunk.FinishReason(); fr != "" {
			result.FinishReason = fr
		}

		delta := chunk.Delta()
		if delta.Reasoning != "" {
			reasoning.WriteString(delta.Reasoning)
			if h.OnReasoning != nil {
				h.OnReasoning(delta.Reasoning)
			}
		}
		if len(delta.Annotations) > 0 {
			result.Annotations = append(result.Annotations, delta.Annotations...)
			if h.OnAnnotations != nil {
				h.OnAnnotations(delta.Annotations)
			}
		}
		if delta.Content != "" {
			content.WriteString(delta.Content)
			if h.OnContent != nil {
				h.OnContent(delta.Content)
			}
		}
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	result.Content = content.String()
	result.Reasoning = reasoning.String()
	if strings.TrimSpace(result.Content) == "" {
		return nil, ErrEmptyResponse
	}
	return result, nil
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jeranaias/orchat/internal/protocol"
)

// DefaultBufferSize is the size of a single read from the body.
const DefaultBufferSize = 8 * 1024

// =============================================================================
// ERRORS
// =============================================================================

// ErrCanceled is returned when the context ends the read loop.
var ErrCanceled = errors.New("stream canceled")

// ReadError is a network-level failure while reading the body. It is
// distinct from a protocol error event, which is delivered as an event.
type ReadError struct {
	Err error
}

// Error implements the error interface.
func (e *ReadError) Error() string {
	return fmt.Sprintf("stream read failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *ReadError) Unwrap() error {
	return e.Err
}

// canceled wraps the context's cause under ErrCanceled so both can be
// matched with errors.Is.
func canceled(ctx context.Context) error {
	cause := context.Cause(ctx)
	if cause == nil || errors.Is(cause, ErrCanceled) {
		return ErrCanceled
	}
	return fmt.Errorf("%w: %w", ErrCanceled, cause)
}

// =============================================================================
// READER
// =============================================================================

// Result summarizes a finished read loop.
type Result struct {
	// Done is true when the stream ended with the [DONE] sentinel, false
	// when the body simply reached EOF.
	Done bool
	// Events is the number of events delivered.
	Events int
	// Skipped is the number of malformed lines dropped by the decoder.
	Skipped int
}

// Reader drives a protocol.Decoder from a response body.
type Reader struct {
	body    io.ReadCloser
	dec     *protocol.Decoder
	bufSize int
	logger  zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewReader creates a reader that owns body and closes it when Run returns.
func NewReader(body io.ReadCloser) *Reader {
	return &Reader{
		body:    body,
		dec:     protocol.NewDecoder(),
		bufSize: DefaultBufferSize,
		logger:  zerolog.Nop(),
	}
}

// WithLogger sets the logger used by the reader and its decoder.
func (r *Reader) WithLogger(logger zerolog.Logger) *Reader {
	r.logger = logger
	r.dec.WithLogger(logger)
	return r
}

// WithBufferSize sets the size of each read.
func (r *Reader) WithBufferSize(n int) *Reader {
	if n > 0 {
		r.bufSize = n
	}
	return r
}

// Close releases the body. It is safe to call more than once.
func (r *Reader) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.body.Close()
	})
	return r.closeErr
}

// Run reads the body until [DONE], EOF, a read failure, cancellation, or an
// error from fn. Events are passed to fn one at a time in arrival order.
// The body is always closed before Run returns.
func (r *Reader) Run(ctx context.Context, fn func(protocol.Event) error) (Result, error) {
	var res Result
	defer r.Close()

	if ctx.Err() != nil {
		return res, canceled(ctx)
	}

	// Closing the body unblocks a Read that is waiting on the network.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			r.Close()
		case <-stop:
		}
	}()

	deliver := func(events []protocol.Event) error {
		for _, ev := range events {
			if ctx.Err() != nil {
				return canceled(ctx)
			}
			if err := fn(ev); err != nil {
				return err
			}
			res.Events++
		}
		return nil
	}

	buf := make([]byte, r.bufSize)
	for {
		if ctx.Err() != nil {
			return r.finish(res), canceled(ctx)
		}

		n, readErr := r.body.Read(buf)

		if ctx.Err() != nil {
			return r.finish(res), canceled(ctx)
		}

		if n > 0 {
			if err := deliver(r.dec.Feed(buf[:n])); err != nil {
				return r.finish(res), err
			}
			if r.dec.Done() {
				res = r.finish(res)
				res.Done = true
				return res, nil
			}
		}

		if readErr == nil {
			continue
		}
		if errors.Is(readErr, io.EOF) {
			if err := deliver(r.dec.Flush()); err != nil {
				return r.finish(res), err
			}
			res = r.finish(res)
			res.Done = r.dec.Done()
			if !res.Done {
				r.logger.Debug().Int("events", res.Events).Msg("stream reached EOF without [DONE]")
			}
			return res, nil
		}

		r.logger.Warn().Err(readErr).Int("events", res.Events).Msg("stream read failed")
		return r.finish(res), &ReadError{Err: readErr}
	}
}

func (r *Reader) finish(res Result) Result {
	res.Skipped = r.dec.Skipped()
	return res
}

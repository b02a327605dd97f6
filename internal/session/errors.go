// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrValidation is returned for a request with no text, image or document.
	ErrValidation = errors.New("message must contain text, an image or a document")

	// ErrCanceled tags every intentional abort of a stream.
	ErrCanceled = errors.New("stream canceled")

	// ErrSuperseded is reported to a stream canceled by a newer one.
	ErrSuperseded = fmt.Errorf("%w: superseded by a newer stream", ErrCanceled)

	// ErrIncompleteStream is returned when the stream ended without a
	// completion or error event.
	ErrIncompleteStream = errors.New("stream ended before the response completed")
)

// IsCanceled reports whether err is an intentional abort rather than a
// failure.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}

// RemoteError is an error event sent by the server mid-stream.
type RemoteError struct {
	Message string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	return "server error: " + e.Message
}

// HTTPError is a non-2xx response from the server before streaming began.
type HTTPError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

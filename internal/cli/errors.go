// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Exit codes and error types for CLI commands.
//
// Commands always return errors; Execute prints them once and maps them to
// an exit code.

package cli

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/jeranaias/orchat/internal/cloud"
	"github.com/jeranaias/orchat/internal/config"
	"github.com/jeranaias/orchat/internal/session"
)

// =============================================================================
// EXIT CODES
// =============================================================================

// Process exit codes.
const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitUsageError    = 2
	ExitConfigError   = 3
	ExitAuthError     = 4 // missing key, or a 401/403 from the server
	ExitNetworkError  = 5 // server or OpenRouter unreachable
	ExitNotFoundError = 7
	ExitCanceled      = 130 // 128 + SIGINT
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// CommandError adds the failing command and step to err.
type CommandError struct {
	Command string
	Action  string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Command, e.Action, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// UsageError reports invalid arguments.
type UsageError struct {
	Reason  string
	Example string
}

func (e *UsageError) Error() string {
	if e.Example != "" {
		return fmt.Sprintf("%s\nExample: %s", e.Reason, e.Example)
	}
	return e.Reason
}

// NotFoundError reports a thread or model id the server does not know.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// ExitCodeFor maps an error returned by a command to a process exit code.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var (
		usageErr    *UsageError
		notFound    *NotFoundError
		httpErr     *session.HTTPError
		netErr      *cloud.NetworkError
		urlErr      *url.Error
		validateErr config.ValidateErrors
	)
	switch {
	case session.IsCanceled(err):
		return ExitCanceled
	case errors.As(err, &usageErr):
		return ExitUsageError
	case errors.As(err, &notFound):
		return ExitNotFoundError
	case errors.As(err, &validateErr):
		return ExitConfigError
	case errors.Is(err, cloud.ErrNotConfigured), errors.Is(err, cloud.ErrAuthFailed):
		return ExitAuthError
	case errors.As(err, &netErr), errors.As(err, &urlErr):
		return ExitNetworkError
	case errors.As(err, &httpErr):
		switch httpErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return ExitAuthError
		case http.StatusNotFound:
			return ExitNotFoundError
		}
	}
	return ExitGeneralError
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Configuration constants for OpenRouter API.
const (
	// DefaultOpenRouterURL is the base URL for OpenRouter API.
	DefaultOpenRouterURL = "https://openrouter.ai/api/v1"

	// MaxResponseSize is the maximum allowed response body size.
	MaxResponseSize = 10 * 1024 * 1024

	// maxErrorBodySize limits how much of an error body is read.
	maxErrorBodySize = 64 * 1024

	// userAgent is sent with every request.
	userAgent = "orchat/0.3.0"
)

// Observer receives upstream call measurements.
type Observer interface {
	ObserveAttempt(model string, status int, d time.Duration)
	ObserveRetry(model string, attempt int)
}

type nopObserver struct{}

func (nopObserver) ObserveAttempt(string, int, time.Duration) {}
func (nopObserver) ObserveRetry(string, int)                  {}

// newHTTPClient returns a pooled client without a total timeout. Streams
// are bounded by the request context only.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// OpenRouterClient is a client for communicating with the OpenRouter API.
// It is safe for concurrent use.
type OpenRouterClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	policy     RetryPolicy
	siteURL    string
	siteName   string
	logger     zerolog.Logger
	observer   Observer

	// sleep waits between retries; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewOpenRouterClient creates a new OpenRouter client with the given API key.
// If the API key is empty, the client is still created but calls fail with
// ErrNotConfigured.
func NewOpenRouterClient(apiKey string) *OpenRouterClient {
	return &OpenRouterClient{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    DefaultOpenRouterURL,
		httpClient: newHTTPClient(),
		policy:     DefaultRetryPolicy(),
		siteName:   "orchat",
		logger:     zerolog.Nop(),
		observer:   nopObserver{},
		sleep:      sleepContext,
	}
}

// WithBaseURL sets a custom base URL for the API.
func (c *OpenRouterClient) WithBaseURL(url string) *OpenRouterClient {
	c.baseURL = strings.TrimSuffix(url, "/")
	return c
}

// WithHTTPClient sets the HTTP client.
func (c *OpenRouterClient) WithHTTPClient(client *http.Client) *OpenRouterClient {
	c.httpClient = client
	return c
}

// WithRetryPolicy sets the retry policy.
func (c *OpenRouterClient) WithRetryPolicy(p RetryPolicy) *OpenRouterClient {
	c.policy = p
	return c
}

// WithSiteURL sets the site URL sent as HTTP-Referer.
func (c *OpenRouterClient) WithSiteURL(url string) *OpenRouterClient {
	c.siteURL = url
	return c
}

// WithSiteName sets the site name sent as X-Title.
func (c *OpenRouterClient) WithSiteName(name string) *OpenRouterClient {
	c.siteName = name
	return c
}

// WithLogger sets the logger.
func (c *OpenRouterClient) WithLogger(logger zerolog.Logger) *OpenRouterClient {
	c.logger = logger
	return c
}

// WithObserver sets the observer for upstream metrics.
func (c *OpenRouterClient) WithObserver(o Observer) *OpenRouterClient {
	if o == nil {
		o = nopObserver{}
	}
	c.observer = o
	return c
}

// RetryPolicy returns the client's retry policy.
func (c *OpenRouterClient) RetryPolicy() RetryPolicy {
	return c.policy
}

// IsConfigured returns true if the client has an API key configured.
func (c *OpenRouterClient) IsConfigured() bool {
	return c.apiKey != ""
}

// APIKeyMasked returns a masked version of the API key for display.
// No part of the key is shown.
func (c *OpenRouterClient) APIKeyMasked() string {
	if c.apiKey == "" {
		return "[not set]"
	}
	return fmt.Sprintf("[REDACTED, length=%d, fingerprint=%s]", len(c.apiKey), c.KeyFingerprint())
}

// KeyFingerprint returns a short SHA-256 fingerprint of the API key for
// logging.
func (c *OpenRouterClient) KeyFingerprint() string {
	return KeyFingerprint(c.apiKey)
}

// KeyFingerprint returns the first 8 hex chars of the key's SHA-256.
func KeyFingerprint(apiKey string) string {
	if apiKey == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(h[:4])
}

// ValidateAPIKey checks if the API key format appears valid.
// It does not verify the key with OpenRouter.
func ValidateAPIKey(apiKey string) bool {
	apiKey = strings.TrimSpace(apiKey)

	if !strings.HasPrefix(apiKey, "sk-or-") {
		return false
	}
	if len(apiKey) < 38 {
		return false
	}

	// Reject obvious placeholder keys like "sk-or-aaaaaaaa...".
	uniqueChars := make(map[rune]bool)
	for _, char := range apiKey[6:] {
		uniqueChars[char] = true
	}
	return len(uniqueChars) >= 10
}

// =============================================================================
// REQUEST EXECUTION
// =============================================================================

// setHeaders sets the required headers for OpenRouter API requests.
func (c *OpenRouterClient) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	if c.siteURL != "" {
		req.Header.Set("HTTP-Referer", c.siteURL)
	}
	if c.siteName != "" {
		req.Header.Set("X-Title", c.siteName)
	}
}

// doWithRetry posts body to the chat completions endpoint, retrying
// transient failures according to the client's policy. On success the
// caller owns the response body.
func (c *OpenRouterClient) doWithRetry(ctx context.Context, modelID string, body []byte, stream bool) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := c.doOnce(ctx, modelID, body, stream)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !c.policy.ShouldRetry(err, attempt) {
			if attempt > 0 && IsRetryable(err) {
				c.logger.Warn().
					Str("model", modelID).
					Int("attempts", attempt+1).
					Err(err).
					Msg("upstream retries exhausted")
				return nil, fmt.Errorf("max retries exceeded: %w", err)
			}
			return nil, err
		}

		// The schedule is fixed; a provider Retry-After is only logged.
		delay := c.policy.Delay(attempt)
		event := c.logger.Warn().
			Str("model", modelID).
			Int("attempt", attempt+1).
			Dur("backoff", delay)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
			event = event.Dur("retry_after", apiErr.RetryAfter)
		}
		event.Err(err).Msg("upstream call failed, retrying")
		c.observer.ObserveRetry(modelID, attempt+1)

		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// doOnce performs a single HTTP attempt. Non-200 responses are converted
// to *APIError and transport failures to *NetworkError.
func (c *OpenRouterClient) doOnce(ctx context.Context, modelID string, body []byte, stream bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Cache-Control", "no-cache")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observer.ObserveAttempt(modelID, 0, time.Since(start))
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &NetworkError{Err: err}
	}
	c.observer.ObserveAttempt(modelID, resp.StatusCode, time.Since(start))
	c.logger.Debug().
		Str("model", modelID).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Str("key", c.KeyFingerprint()).
		Msg("upstream response")

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, handleErrorResponse(resp, data)
	}
	return resp, nil
}

// handleErrorResponse converts an HTTP error response to *APIError. The
// body is parsed defensively; when it carries no usable message the
// message is "HTTP <status>: <statusText>".
func handleErrorResponse(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{
		Status:     resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}

	var parsed apiErrorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil && parsed.Error.Message != "" {
		apiErr.Code = parsed.Error.code()
		apiErr.Message = parsed.Error.Message
		return apiErr
	}

	apiErr.Message = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	return apiErr
}

// parseRetryAfter parses a Retry-After header given in seconds or as an
// HTTP date.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// readResponse reads the response body with size limits to prevent memory
// exhaustion.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, &NetworkError{Err: fmt.Errorf("failed to read response: %w", err)}
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// =============================================================================
// NON-STREAMING COMPLETION
// =============================================================================

// Complete performs a non-streaming chat completion. A response with no
// choices or blank content fails with ErrEmptyResponse and is not retried.
func (c *OpenRouterClient) Complete(ctx context.Context, req ChatRequest) (*Result, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}
	req.Stream = false

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.doWithRetry(ctx, req.Model, body, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := readResponse(resp)
	if err != nil {
		return nil, err
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(data, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrEmptyResponse)
	}

	choice := chatResp.Choices[0]
	if strings.TrimSpace(choice.Message.Content) == "" {
		return nil, ErrEmptyResponse
	}

	return &Result{
		ID:           chatResp.ID,
		Model:        chatResp.Model,
		Content:      choice.Message.Content,
		Reasoning:    choice.Message.Reasoning,
		Annotations:  choice.Message.Annotations,
		FinishReason: choice.FinishReason,
		Usage:        chatResp.Usage,
	}, nil
}

// =============================================================================
// MODEL LISTING
// =============================================================================

// Pricing represents the pricing information for a model, in dollars per
// token as decimal strings.
type Pricing struct {
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
}

// RemoteModel describes a model as listed by OpenRouter.
type RemoteModel struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	ContextLength int      `json:"context_length"`
	Pricing       *Pricing `json:"pricing,omitempty"`
}

// ListModels retrieves the list of available models from OpenRouter.
func (c *OpenRouterClient) ListModels(ctx context.Context) ([]RemoteModel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, handleErrorResponse(resp, body)
	}

	var out struct {
		Data []RemoteModel `json:"data"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse models response: %w", err)
	}
	return out.Data, nil
}

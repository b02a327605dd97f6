// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// api.go - JSON client for the orchat thread, model and usage endpoints.

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/orchat/internal/model"
	"github.com/jeranaias/orchat/internal/protocol"
	"github.com/jeranaias/orchat/internal/session"
	"github.com/jeranaias/orchat/internal/telemetry"
)

// apiTimeout bounds every non-streaming API call.
const apiTimeout = 30 * time.Second

type apiClient struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

func (a *app) api() *apiClient {
	return &apiClient{
		baseURL:    strings.TrimRight(a.cfg.Client.ServerURL, "/"),
		authToken:  a.cfg.Server.AuthToken,
		httpClient: &http.Client{Timeout: apiTimeout},
	}
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type modelsResponse struct {
	Models       []model.Descriptor `json:"models"`
	DefaultModel string             `json:"defaultModel"`
}

type usageResponse struct {
	Models []telemetry.ModelUsage `json:"models"`
	Trends *telemetry.UsageTrends `json:"trends,omitempty"`
}

type healthResponse struct {
	Status             string `json:"status"`
	Version            string `json:"version"`
	UpstreamConfigured bool   `json:"upstreamConfigured"`
	UptimeSeconds      int64  `json:"uptimeSeconds"`
}

type threadPatch struct {
	Title        *string `json:"title,omitempty"`
	IsPinned     *bool   `json:"isPinned,omitempty"`
	CurrentModel *string `json:"currentModel,omitempty"`
}

// =============================================================================
// REQUESTS
// =============================================================================

// do sends a request and decodes a JSON response into out when out is not
// nil. Non-2xx responses become *session.HTTPError.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func (c *apiClient) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	httpErr := &session.HTTPError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var errResp protocol.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &errResp) == nil && errResp.Error.Message != "" {
		httpErr.Message = errResp.Error.Message
	}
	return nil, httpErr
}

func (c *apiClient) listThreads(ctx context.Context, query string) ([]model.ThreadMeta, error) {
	path := "/api/threads"
	if query != "" {
		path += "?q=" + url.QueryEscape(query)
	}
	var out struct {
		Threads []model.ThreadMeta `json:"threads"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Threads, nil
}

func (c *apiClient) getThread(ctx context.Context, id string) (*model.Thread, error) {
	var t model.Thread
	if err := c.do(ctx, http.MethodGet, "/api/threads/"+url.PathEscape(id), nil, &t); err != nil {
		return nil, threadError(id, err)
	}
	return &t, nil
}

func (c *apiClient) exportThread(ctx context.Context, id string) (string, error) {
	resp, err := c.send(ctx, http.MethodGet, "/api/threads/"+url.PathEscape(id)+"/export", nil)
	if err != nil {
		return "", threadError(id, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	return string(data), err
}

func (c *apiClient) updateThread(ctx context.Context, id string, patch threadPatch) (*model.ThreadMeta, error) {
	var meta model.ThreadMeta
	if err := c.do(ctx, http.MethodPatch, "/api/threads/"+url.PathEscape(id), patch, &meta); err != nil {
		return nil, threadError(id, err)
	}
	return &meta, nil
}

func (c *apiClient) deleteThread(ctx context.Context, id string) error {
	return threadError(id, c.do(ctx, http.MethodDelete, "/api/threads/"+url.PathEscape(id), nil, nil))
}

func (c *apiClient) models(ctx context.Context) (*modelsResponse, error) {
	var out modelsResponse
	if err := c.do(ctx, http.MethodGet, "/api/models", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) usage(ctx context.Context, days int) (*usageResponse, error) {
	var out usageResponse
	if err := c.do(ctx, http.MethodGet, "/api/usage?days="+strconv.Itoa(days), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) health(ctx context.Context) (*healthResponse, error) {
	var out healthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// threadError maps a 404 to NotFoundError.
func threadError(id string, err error) error {
	if httpErr, ok := err.(*session.HTTPError); ok && httpErr.StatusCode == http.StatusNotFound {
		return &NotFoundError{Resource: "thread", ID: id}
	}
	return err
}

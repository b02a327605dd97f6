// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/orchat/internal/model"
	"github.com/jeranaias/orchat/internal/util"
)

// Storage drivers accepted by Open.
const (
	DriverMemory = "memory"
	DriverJSON   = "json"
	DriverSQLite = "sqlite"
)

// previewLen is the rune length of ThreadMeta.Preview.
const previewLen = 80

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store persists threads and their messages.
type Store interface {
	// GetThread returns a copy of the thread or ErrNotFound.
	GetThread(ctx context.Context, id string) (*model.Thread, error)

	// CreateThread stores a new thread. It fails with ErrExists when the
	// id is taken.
	CreateThread(ctx context.Context, thread *model.Thread) error

	// AppendMessage adds msg to the end of the thread.
	AppendMessage(ctx context.Context, threadID string, msg *model.Message) error

	// ListThreads returns metadata for all threads, pinned first, then most
	// recently updated first.
	ListThreads(ctx context.Context) ([]model.ThreadMeta, error)

	// SearchThreads returns threads whose title or messages contain query,
	// case-insensitively.
	SearchThreads(ctx context.Context, query string) ([]model.ThreadMeta, error)

	// UpdateThread applies the non-nil fields of upd and returns the result.
	UpdateThread(ctx context.Context, id string, upd ThreadUpdate) (*model.Thread, error)

	// DeleteThread removes the thread and its messages.
	DeleteThread(ctx context.Context, id string) error

	Close() error
}

// ThreadUpdate is a partial update. Nil fields are left unchanged.
type ThreadUpdate struct {
	Title        *string `json:"title,omitempty"`
	IsPinned     *bool   `json:"isPinned,omitempty"`
	CurrentModel *string `json:"currentModel,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (u ThreadUpdate) IsEmpty() bool {
	return u.Title == nil && u.IsPinned == nil && u.CurrentModel == nil
}

func (u ThreadUpdate) apply(t *model.Thread) {
	if u.Title != nil {
		title := util.SingleLine(*u.Title)
		if title == "" {
			title = model.DefaultTitle
		}
		t.Title = title
	}
	if u.IsPinned != nil {
		t.IsPinned = *u.IsPinned
	}
	if u.CurrentModel != nil {
		t.CurrentModel = *u.CurrentModel
	}
	t.Touch()
}

// Open returns the Store for driver. path is a directory for DriverJSON and
// a database file for DriverSQLite; it is ignored for DriverMemory.
// maxThreads caps the JSON store; 0 means unlimited.
func Open(ctx context.Context, driver, path string, maxThreads int, logger zerolog.Logger) (Store, error) {
	switch driver {
	case DriverMemory, "":
		return NewMemoryStore(), nil
	case DriverJSON:
		return NewFileStore(path, WithFileLogger(logger), WithMaxThreads(maxThreads))
	case DriverSQLite:
		return NewSQLiteStore(ctx, path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrNotFound is returned when a thread doesn't exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &StoreError{Message: "thread not found"}

// ErrExists is returned by CreateThread for a duplicate id.
var ErrExists = &StoreError{Message: "thread already exists"}

// StoreError represents a storage error that can be compared with errors.Is.
type StoreError struct {
	Message string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing store errors.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// sortMetas orders pinned threads first, then most recently updated.
func sortMetas(metas []model.ThreadMeta) {
	sort.SliceStable(metas, func(i, j int) bool {
		if metas[i].IsPinned != metas[j].IsPinned {
			return metas[i].IsPinned
		}
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
}

// matches reports whether the thread title or any message contains the
// lower-cased query.
func matches(t *model.Thread, query string) bool {
	if strings.Contains(strings.ToLower(t.Title), query) {
		return true
	}
	for _, m := range t.Messages {
		if strings.Contains(strings.ToLower(m.Content), query) {
			return true
		}
	}
	return false
}

// =============================================================================
// EXPORT
// =============================================================================

// ExportMarkdown renders a thread as Markdown with role labels and
// timestamps.
func ExportMarkdown(t *model.Thread) string {
	var sb strings.Builder
	sb.WriteString("# " + t.Title + "\n\n")
	sb.WriteString("Created: " + t.CreatedAt.Format(time.RFC3339) + "\n\n")
	sb.WriteString("---\n\n")

	for _, msg := range t.Messages {
		label := "**" + msg.Role.DisplayName() + "**"
		if msg.ModelID != "" {
			label += " `" + msg.ModelID + "`"
		}
		sb.WriteString(label + " (" + msg.Timestamp.Format("15:04") + "):\n\n")
		if msg.Reasoning != "" {
			sb.WriteString("> " + strings.ReplaceAll(msg.Reasoning, "\n", "\n> ") + "\n\n")
		}
		sb.WriteString(msg.Content)
		for _, a := range msg.Annotations {
			if a.URLCitation != nil {
				sb.WriteString("\n- [" + a.URLCitation.Title + "](" + a.URLCitation.URL + ")")
			}
		}
		sb.WriteString("\n\n---\n\n")
	}
	return sb.String()
}

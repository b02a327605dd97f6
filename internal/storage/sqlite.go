// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/orchat/internal/model"
	"github.com/jeranaias/orchat/internal/util"
)

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLiteStore keeps threads in a SQLite database. Timestamps are stored as
// Unix nanoseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at dbPath, creating the schema if
// needed. ":memory:" gives a private in-memory database.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, errors.New("database path is required")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS threads (
		id            TEXT PRIMARY KEY,
		title         TEXT NOT NULL,
		created_at    INTEGER NOT NULL,
		updated_at    INTEGER NOT NULL,
		current_model TEXT NOT NULL DEFAULT '',
		is_pinned     INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS messages (
		id          TEXT PRIMARY KEY,
		thread_id   TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
		seq         INTEGER NOT NULL,
		role        TEXT NOT NULL,
		content     TEXT NOT NULL,
		reasoning   TEXT NOT NULL DEFAULT '',
		model_id    TEXT NOT NULL DEFAULT '',
		images      TEXT NOT NULL DEFAULT '[]',
		annotations TEXT NOT NULL DEFAULT '[]',
		created_at  INTEGER NOT NULL,
		UNIQUE (thread_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_threads_updated ON threads(updated_at);
	CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, seq);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// THREADS
// =============================================================================

func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*model.Thread, error) {
	return getThread(ctx, s.db, id)
}

// querier is the read side shared by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getThread(ctx context.Context, q querier, id string) (*model.Thread, error) {
	t := &model.Thread{}
	var created, updated int64
	err := q.QueryRowContext(ctx, `
		SELECT id, title, created_at, updated_at, current_model, is_pinned
		FROM threads WHERE id = ?
	`, id).Scan(&t.ID, &t.Title, &created, &updated, &t.CurrentModel, &t.IsPinned)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t.CreatedAt = time.Unix(0, created)
	t.UpdatedAt = time.Unix(0, updated)

	msgs, err := messages(ctx, q, id)
	if err != nil {
		return nil, err
	}
	t.Messages = msgs
	return t, nil
}

func (s *SQLiteStore) CreateThread(ctx context.Context, thread *model.Thread) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM threads WHERE id = ?`, thread.ID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		return ErrExists
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO threads (id, title, created_at, updated_at, current_model, is_pinned)
		VALUES (?, ?, ?, ?, ?, ?)
	`, thread.ID, thread.Title, thread.CreatedAt.UnixNano(), thread.UpdatedAt.UnixNano(),
		thread.CurrentModel, thread.IsPinned)
	if err != nil {
		return err
	}

	for i, msg := range thread.Messages {
		if err := insertMessage(ctx, tx, thread.ID, i+1, msg); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, threadID string, msg *model.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var updated int64
	var currentModel string
	err = tx.QueryRowContext(ctx, `SELECT updated_at, current_model FROM threads WHERE id = ?`, threadID).
		Scan(&updated, &currentModel)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	var seq int
	err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE thread_id = ?`, threadID).
		Scan(&seq)
	if err != nil {
		return err
	}
	if err := insertMessage(ctx, tx, threadID, seq, msg); err != nil {
		return err
	}

	if msg.Role == model.RoleAssistant && msg.ModelID != "" {
		currentModel = msg.ModelID
	}
	_, err = tx.ExecContext(ctx, `UPDATE threads SET updated_at = ?, current_model = ? WHERE id = ?`,
		nextUpdate(updated), currentModel, threadID)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListThreads(ctx context.Context) ([]model.ThreadMeta, error) {
	return s.queryMetas(ctx, "", nil)
}

func (s *SQLiteStore) SearchThreads(ctx context.Context, query string) ([]model.ThreadMeta, error) {
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(query))) + "%"
	where := `WHERE lower(t.title) LIKE ? ESCAPE '\'
		OR EXISTS (SELECT 1 FROM messages m WHERE m.thread_id = t.id AND lower(m.content) LIKE ? ESCAPE '\')`
	return s.queryMetas(ctx, where, []any{pattern, pattern})
}

// UpdateThread reads and writes in one transaction so a concurrent
// AppendMessage cannot be reverted or have updated_at moved backwards.
func (s *SQLiteStore) UpdateThread(ctx context.Context, id string, upd ThreadUpdate) (*model.Thread, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	t, err := getThread(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	upd.apply(t)

	_, err = tx.ExecContext(ctx, `
		UPDATE threads SET title = ?, is_pinned = ?, current_model = ?, updated_at = ?
		WHERE id = ?
	`, t.Title, t.IsPinned, t.CurrentModel, t.UpdatedAt.UnixNano(), id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *SQLiteStore) DeleteThread(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *SQLiteStore) queryMetas(ctx context.Context, where string, args []any) ([]model.ThreadMeta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.title, t.created_at, t.updated_at, t.current_model, t.is_pinned,
			(SELECT COUNT(*) FROM messages m WHERE m.thread_id = t.id),
			COALESCE((SELECT m.content FROM messages m
				WHERE m.thread_id = t.id AND m.role = 'user' ORDER BY m.seq LIMIT 1), '')
		FROM threads t `+where+`
		ORDER BY t.is_pinned DESC, t.updated_at DESC
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	metas := make([]model.ThreadMeta, 0)
	for rows.Next() {
		var meta model.ThreadMeta
		var created, updated int64
		var preview string
		if err := rows.Scan(&meta.ID, &meta.Title, &created, &updated, &meta.CurrentModel,
			&meta.IsPinned, &meta.MessageCount, &preview); err != nil {
			return nil, err
		}
		meta.CreatedAt = time.Unix(0, created)
		meta.UpdatedAt = time.Unix(0, updated)
		meta.Preview = util.TruncateRunes(preview, previewLen)
		metas = append(metas, meta)
	}
	return metas, rows.Err()
}

func messages(ctx context.Context, q querier, threadID string) ([]*model.Message, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, role, content, reasoning, model_id, images, annotations, created_at
		FROM messages WHERE thread_id = ? ORDER BY seq
	`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := make([]*model.Message, 0)
	for rows.Next() {
		msg := &model.Message{}
		var role, images, annotations string
		var created int64
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &msg.Reasoning, &msg.ModelID,
			&images, &annotations, &created); err != nil {
			return nil, err
		}
		msg.Role = model.Role(role)
		msg.Timestamp = time.Unix(0, created)
		if err := json.Unmarshal([]byte(images), &msg.Images); err != nil {
			return nil, fmt.Errorf("message %s: bad images column: %w", msg.ID, err)
		}
		if err := json.Unmarshal([]byte(annotations), &msg.Annotations); err != nil {
			return nil, fmt.Errorf("message %s: bad annotations column: %w", msg.ID, err)
		}
		if len(msg.Annotations) == 0 {
			msg.Annotations = nil
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func insertMessage(ctx context.Context, tx *sql.Tx, threadID string, seq int, msg *model.Message) error {
	images := msg.Images
	if images == nil {
		images = []model.Image{}
	}
	imagesJSON, err := json.Marshal(images)
	if err != nil {
		return err
	}
	annotations := msg.Annotations
	if annotations == nil {
		annotations = []model.Annotation{}
	}
	annotationsJSON, err := json.Marshal(annotations)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, thread_id, seq, role, content, reasoning, model_id, images, annotations, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, threadID, seq, string(msg.Role), msg.Content, msg.Reasoning, msg.ModelID,
		string(imagesJSON), string(annotationsJSON), msg.Timestamp.UnixNano())
	return err
}

// nextUpdate returns now, or prev+1ns when the clock has not advanced.
func nextUpdate(prev int64) int64 {
	now := time.Now().UnixNano()
	if now <= prev {
		return prev + 1
	}
	return now
}

// escapeLike escapes LIKE wildcards in s.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

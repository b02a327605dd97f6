// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/jeranaias/orchat/internal/model"
	"github.com/jeranaias/orchat/internal/util"
)

// DefaultMaxThreads bounds a FileStore; the least recently updated
// unpinned threads are removed beyond it.
const DefaultMaxThreads = 500

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore keeps one JSON file per thread under a directory. Parsed
// threads are cached; the cache entry for a file is dropped whenever the
// file changes on disk, including changes made by other processes.
type FileStore struct {
	dir        string
	maxThreads int
	logger     zerolog.Logger

	mu    sync.Mutex
	cache map[string]*model.Thread

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

// FileOption configures a FileStore.
type FileOption func(*FileStore)

// WithFileLogger sets the store's logger.
func WithFileLogger(logger zerolog.Logger) FileOption {
	return func(s *FileStore) { s.logger = logger }
}

// WithMaxThreads sets the thread limit. Zero means unlimited.
func WithMaxThreads(n int) FileOption {
	return func(s *FileStore) { s.maxThreads = n }
}

// NewFileStore opens (creating if needed) a store rooted at dir and starts
// watching it.
func NewFileStore(dir string, opts ...FileOption) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("storage directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	s := &FileStore{
		dir:        dir,
		maxThreads: DefaultMaxThreads,
		logger:     zerolog.Nop(),
		cache:      make(map[string]*model.Thread),
	}
	for _, opt := range opts {
		opt(s)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	s.watcher = watcher

	s.wg.Add(1)
	go s.processEvents()
	return s, nil
}

// processEvents drops cache entries for thread files that changed on disk.
func (s *FileStore) processEvents() {
	defer s.wg.Done()
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			id, ok := s.threadID(event.Name)
			if !ok {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			s.mu.Lock()
			delete(s.cache, id)
			s.mu.Unlock()
			s.logger.Debug().Str("thread", id).Str("op", event.Op.String()).Msg("thread file changed")

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn().Err(err).Str("dir", s.dir).Msg("storage watcher error")
		}
	}
}

// =============================================================================
// STORE OPERATIONS
// =============================================================================

func (s *FileStore) GetThread(_ context.Context, id string) (*model.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.load(id)
	if err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

func (s *FileStore) CreateThread(_ context.Context, thread *model.Thread) error {
	if !validID(thread.ID) {
		return fmt.Errorf("invalid thread id %q", thread.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.filePath(thread.ID)); err == nil {
		return ErrExists
	}
	if err := s.save(thread.Clone()); err != nil {
		return err
	}
	if s.maxThreads > 0 {
		s.enforceLimit()
	}
	return nil
}

func (s *FileStore) AppendMessage(_ context.Context, threadID string, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.load(threadID)
	if err != nil {
		return err
	}
	updated := t.Clone()
	updated.Append(msg.Clone())
	return s.save(updated)
}

func (s *FileStore) ListThreads(_ context.Context) ([]model.ThreadMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(func(*model.Thread) bool { return true })
}

func (s *FileStore) SearchThreads(_ context.Context, query string) ([]model.ThreadMeta, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(func(t *model.Thread) bool { return matches(t, query) })
}

func (s *FileStore) UpdateThread(_ context.Context, id string, upd ThreadUpdate) (*model.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.load(id)
	if err != nil {
		return nil, err
	}
	updated := t.Clone()
	upd.apply(updated)
	if err := s.save(updated); err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

func (s *FileStore) DeleteThread(_ context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.cache, id)
	if err := os.Remove(s.filePath(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// Close stops the watcher.
func (s *FileStore) Close() error {
	err := s.watcher.Close()
	s.wg.Wait()
	return err
}

// =============================================================================
// HELPERS (callers hold s.mu)
// =============================================================================

// load returns the cached thread or reads it from disk.
func (s *FileStore) load(id string) (*model.Thread, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	if t, ok := s.cache[id]; ok {
		return t, nil
	}

	var t model.Thread
	if err := util.ReadJSON(s.filePath(id), &t); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	s.cache[id] = &t
	return &t, nil
}

// save writes the thread atomically and refreshes the cache.
func (s *FileStore) save(t *model.Thread) error {
	if err := util.WriteJSON(s.filePath(t.ID), t); err != nil {
		return err
	}
	s.cache[t.ID] = t
	return nil
}

func (s *FileStore) list(keep func(*model.Thread) bool) ([]model.ThreadMeta, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	metas := make([]model.ThreadMeta, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, ok := s.threadID(entry.Name())
		if !ok {
			continue
		}
		t, err := s.load(id)
		if err != nil {
			s.logger.Warn().Err(err).Str("thread", id).Msg("skipping unreadable thread file")
			continue
		}
		if keep(t) {
			metas = append(metas, t.Meta())
		}
	}
	sortMetas(metas)
	return metas, nil
}

// enforceLimit removes the oldest unpinned threads beyond maxThreads.
func (s *FileStore) enforceLimit() {
	metas, err := s.list(func(*model.Thread) bool { return true })
	if err != nil || len(metas) <= s.maxThreads {
		return
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.Before(metas[j].UpdatedAt)
	})

	excess := len(metas) - s.maxThreads
	for _, meta := range metas {
		if excess == 0 {
			break
		}
		if meta.IsPinned {
			continue
		}
		delete(s.cache, meta.ID)
		if err := os.Remove(s.filePath(meta.ID)); err == nil {
			excess--
			s.logger.Info().Str("thread", meta.ID).Msg("evicted thread over storage limit")
		}
	}
}

func (s *FileStore) filePath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// threadID extracts the thread id from a thread file path.
func (s *FileStore) threadID(path string) (string, bool) {
	name := filepath.Base(path)
	if !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
		return "", false
	}
	id := strings.TrimSuffix(name, ".json")
	return id, validID(id)
}

// validID rejects ids that could escape the store directory.
func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && id != "." && id != ".."
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"strings"
	"sync"

	"github.com/jeranaias/orchat/internal/model"
)

// MemoryStore keeps threads in a map. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*model.Thread
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string]*model.Thread)}
}

func (s *MemoryStore) GetThread(_ context.Context, id string) (*model.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (s *MemoryStore) CreateThread(_ context.Context, thread *model.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[thread.ID]; ok {
		return ErrExists
	}
	s.threads[thread.ID] = thread.Clone()
	return nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, threadID string, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok {
		return ErrNotFound
	}
	t.Append(msg.Clone())
	return nil
}

func (s *MemoryStore) ListThreads(_ context.Context) ([]model.ThreadMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	metas := make([]model.ThreadMeta, 0, len(s.threads))
	for _, t := range s.threads {
		metas = append(metas, t.Meta())
	}
	sortMetas(metas)
	return metas, nil
}

func (s *MemoryStore) SearchThreads(_ context.Context, query string) ([]model.ThreadMeta, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	s.mu.RLock()
	defer s.mu.RUnlock()
	metas := make([]model.ThreadMeta, 0)
	for _, t := range s.threads {
		if matches(t, query) {
			metas = append(metas, t.Meta())
		}
	}
	sortMetas(metas)
	return metas, nil
}

func (s *MemoryStore) UpdateThread(_ context.Context, id string, upd ThreadUpdate) (*model.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	upd.apply(t)
	return t.Clone(), nil
}

func (s *MemoryStore) DeleteThread(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[id]; !ok {
		return ErrNotFound
	}
	delete(s.threads, id)
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

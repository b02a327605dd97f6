// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists chat threads.
//
// Three Store implementations share one contract:
//
//   - MemoryStore: process-local, used by tests and one-shot CLI runs
//   - FileStore: one JSON file per thread, written atomically; an fsnotify
//     watcher drops cached threads when another process rewrites them
//   - SQLiteStore: a single database file via the pure Go modernc driver
//
// Every read returns a deep copy, so callers never share message slices
// with the store.
//
// # Usage
//
//	store, err := storage.Open(ctx, storage.DriverSQLite, "~/.orchat/threads.db", 0, logger)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	thread := model.NewThread("", "openai/gpt-4o")
//	err = store.CreateThread(ctx, thread)
//	err = store.AppendMessage(ctx, thread.ID, model.NewUserMessage("hi", nil))
package storage

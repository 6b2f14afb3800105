// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cache holds the in-memory, session-keyed message store that views
// observe.
//
// # Key Types
//
//   - Store: Goroutine-safe partitions of messages keyed by SessionKey
//   - SessionKey: Credential plus session id
//   - Snapshot: Copy of one partition delivered to listeners
//   - Outcome: Result of a send, applied by Finalize
//
// # Usage
//
//	store := cache.NewStore(logger)
//	unsubscribe := store.Subscribe(func(s cache.Snapshot) {
//	    render(s.Messages)
//	})
//	defer unsubscribe()
//
//	key := cache.SessionKey{Credential: token, SessionID: 42}
//	store.InsertOptimisticUser(key, "hello")
//	store.UpsertStreaming(key, "Hi")
//	store.UpsertStreaming(key, "Hi there")
//	store.Finalize(key, cache.Outcome{Messages: authoritative})
package cache

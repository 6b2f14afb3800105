// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jeranaias/evalchat/internal/logging"
	"github.com/jeranaias/evalchat/internal/model"
)

// =============================================================================
// KEYS AND SNAPSHOTS
// =============================================================================

// SessionKey identifies one cache partition: a session as seen through one
// credential. It is captured when an operation starts, so a stream that
// outlives a session switch still writes to its own partition.
type SessionKey struct {
	Credential string
	SessionID  int64
}

// Valid reports whether the key can address a partition.
func (k SessionKey) Valid() bool {
	return k.SessionID > 0 && k.Credential != ""
}

// String renders the key for logs without the credential.
func (k SessionKey) String() string {
	return fmt.Sprintf("session %d (%s)", k.SessionID, logging.Redact(k.Credential))
}

// Snapshot is the state of one partition after a mutation. Messages is a
// private copy owned by the listener.
type Snapshot struct {
	Key      SessionKey
	Messages []model.Message
	Loading  bool
	// Evicted is set on the final snapshot of a removed partition.
	Evicted bool
	// Version increases with every mutation of the store. Listeners called
	// from different goroutines may observe snapshots out of order and can
	// drop any with a lower Version than one already seen.
	Version uint64
}

// Listener receives a snapshot after every mutation. It is called outside
// the store's lock and may read the store, but must not block for long.
type Listener func(Snapshot)

// Outcome is the result of one send, applied by Finalize.
type Outcome struct {
	// Messages is the authoritative list when Err is nil.
	Messages []model.Message
	Err      error
}

// =============================================================================
// STORE
// =============================================================================

type partition struct {
	messages []model.Message
	// loading counts operations in progress; sends and history loads may
	// overlap on one partition.
	loading int
	// generation is the store version of the partition's creation or of its
	// last send write. A history load that began at another generation is
	// stale.
	generation uint64
}

// Store is the session-keyed message cache. It is safe for concurrent use.
//
// Invariant: in every partition at most one message is a streaming bot
// message, and it is the last one.
type Store struct {
	mu         sync.RWMutex
	partitions map[SessionKey]*partition
	version    uint64

	listenersMu sync.RWMutex
	listeners   map[int]Listener
	nextID      int

	logger zerolog.Logger
}

// NewStore creates an empty store.
func NewStore(logger zerolog.Logger) *Store {
	return &Store{
		partitions: make(map[SessionKey]*partition),
		listeners:  make(map[int]Listener),
		logger:     logger.With().Str("component", "cache").Logger(),
	}
}

// Subscribe registers l and returns a function that removes it.
func (s *Store) Subscribe(l Listener) func() {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			delete(s.listeners, id)
			s.listenersMu.Unlock()
		})
	}
}

// Messages returns a copy of a partition's messages, or nil when the
// partition does not exist.
func (s *Store) Messages(key SessionKey) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.partitions[key]
	if !ok {
		return nil
	}
	return cloneMessages(p.messages)
}

// Loading reports whether a partition has an operation in progress.
func (s *Store) Loading(key SessionKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.partitions[key]
	return ok && p.loading > 0
}

// Has reports whether a partition exists.
func (s *Store) Has(key SessionKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.partitions[key]
	return ok
}

// Generation returns a partition's generation. It changes whenever a send
// writes to the partition and when the partition is recreated after
// eviction. It reports false when the partition does not exist.
func (s *Store) Generation(key SessionKey) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.partitions[key]
	if !ok {
		return 0, false
	}
	return p.generation, true
}

// Keys returns the keys of all partitions, ordered by session id.
func (s *Store) Keys() []SessionKey {
	s.mu.RLock()
	keys := make([]SessionKey, 0, len(s.partitions))
	for k := range s.partitions {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].SessionID != keys[j].SessionID {
			return keys[i].SessionID < keys[j].SessionID
		}
		return keys[i].Credential < keys[j].Credential
	})
	return keys
}

// =============================================================================
// MUTATIONS
// =============================================================================

// InsertOptimisticUser appends a provisional user message, creating the
// partition if needed, and returns the inserted message.
func (s *Store) InsertOptimisticUser(key SessionKey, text string) model.Message {
	msg := model.NewUserMessage(text)
	s.mutate(key, true, true, func(p *partition) bool {
		p.messages = append(p.messages, msg)
		return true
	})
	return msg
}

// UpsertStreaming publishes the full reply text so far. The trailing
// streaming bot message gets its text replaced; when there is none a new
// streaming bot message is appended. It reports false when the partition
// no longer exists.
func (s *Store) UpsertStreaming(key SessionKey, text string) bool {
	return s.mutate(key, false, true, func(p *partition) bool {
		if last := len(p.messages) - 1; last >= 0 && p.messages[last].IsStreamingBot() {
			p.messages[last].Text = text
			return true
		}
		p.messages = append(p.messages, model.NewStreamingBotMessage(text))
		return true
	})
}

// ResolveStreaming replaces the trailing streaming bot message with final,
// not streaming, or appends final when there is none. It reports false when
// the partition no longer exists.
func (s *Store) ResolveStreaming(key SessionKey, final model.Message) bool {
	final.IsStreaming = false
	return s.mutate(key, false, true, func(p *partition) bool {
		if last := len(p.messages) - 1; last >= 0 && p.messages[last].IsStreamingBot() {
			p.messages[last] = final
			return true
		}
		p.messages = append(p.messages, final)
		return true
	})
}

// Finalize ends a send. On success the partition is replaced by the
// authoritative list with streaming cleared on every message. On failure
// the trailing streaming bot message (or, without one, the end of the
// list) becomes a single error message; user messages are kept. It
// reports false when the partition no longer exists.
func (s *Store) Finalize(key SessionKey, outcome Outcome) bool {
	if outcome.Err == nil {
		msgs := cloneMessages(outcome.Messages)
		for i := range msgs {
			msgs[i].IsStreaming = false
		}
		return s.mutate(key, false, true, func(p *partition) bool {
			p.messages = msgs
			return true
		})
	}

	return s.mutate(key, false, true, func(p *partition) bool {
		errMsg := model.NewErrorMessage()
		if last := len(p.messages) - 1; last >= 0 && p.messages[last].IsStreamingBot() {
			p.messages[last] = errMsg
			return true
		}
		p.messages = append(p.messages, errMsg)
		return true
	})
}

// Replace sets a partition's messages, creating it if needed.
func (s *Store) Replace(key SessionKey, msgs []model.Message) {
	msgs = cloneMessages(msgs)
	s.mutate(key, true, false, func(p *partition) bool {
		p.messages = msgs
		return true
	})
}

// ReplaceAt sets an existing partition's messages only while its generation
// is still generation, so a history fetched before a send cannot overwrite
// that send's messages. It reports whether the messages were replaced.
func (s *Store) ReplaceAt(key SessionKey, generation uint64, msgs []model.Message) bool {
	msgs = cloneMessages(msgs)
	return s.mutate(key, false, false, func(p *partition) bool {
		if p.generation != generation {
			return false
		}
		p.messages = msgs
		return true
	})
}

// SetLoading marks the start (true) or end (false) of an operation on a
// partition; it stays loading until every start has been ended. Starting
// creates the partition, so a view can show progress before its first
// message; ending never does.
func (s *Store) SetLoading(key SessionKey, loading bool) bool {
	return s.mutate(key, loading, false, func(p *partition) bool {
		if loading {
			p.loading++
		} else if p.loading > 0 {
			p.loading--
		}
		return true
	})
}

// Remove evicts a partition. Later writes other than InsertOptimisticUser,
// Replace and SetLoading(true) are dropped, so a stale stream cannot
// resurrect it.
func (s *Store) Remove(key SessionKey) {
	s.mu.Lock()
	if _, ok := s.partitions[key]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.partitions, key)
	s.version++
	snap := Snapshot{Key: key, Evicted: true, Version: s.version}
	s.mu.Unlock()

	s.logger.Debug().Stringer("key", key).Msg("partition evicted")
	s.notify(snap)
}

// mutate applies fn to the partition under the write lock and notifies
// listeners afterwards. When create is false a missing partition is left
// missing and mutate reports false. fn reports whether it changed anything;
// when it did not, nothing is notified. A send write (bump) or a new
// partition moves the partition to the new store version.
func (s *Store) mutate(key SessionKey, create, bump bool, fn func(*partition) bool) bool {
	s.mu.Lock()
	p, ok := s.partitions[key]
	if !ok {
		if !create {
			s.mu.Unlock()
			s.logger.Debug().Stringer("key", key).Msg("dropping write to missing partition")
			return false
		}
		p = &partition{}
		s.partitions[key] = p
	}

	if !fn(p) {
		s.mu.Unlock()
		return false
	}
	s.version++
	if !ok || bump {
		p.generation = s.version
	}
	snap := Snapshot{
		Key:      key,
		Messages: cloneMessages(p.messages),
		Loading:  p.loading > 0,
		Version:  s.version,
	}
	s.mu.Unlock()

	s.notify(snap)
	return true
}

// notify calls every listener with its own copy of snap.
func (s *Store) notify(snap Snapshot) {
	s.listenersMu.RLock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.listenersMu.RUnlock()

	for i, l := range listeners {
		if i > 0 {
			snap.Messages = cloneMessages(snap.Messages)
		}
		l(snap)
	}
}

func cloneMessages(msgs []model.Message) []model.Message {
	if msgs == nil {
		return nil
	}
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/evalchat/internal/cache"
	"github.com/jeranaias/evalchat/internal/client"
	"github.com/jeranaias/evalchat/internal/logging"
	"github.com/jeranaias/evalchat/internal/metrics"
	"github.com/jeranaias/evalchat/internal/model"
)

// Errors returned before anything is sent.
var (
	ErrInvalidSession = errors.New("session id must be positive")
	ErrNoCredential   = errors.New("not signed in: no credential available")
	ErrEmptyMessage   = errors.New("message is empty")
	ErrSendInFlight   = errors.New("a message is already being sent in this session")
	ErrClosed         = errors.New("orchestrator is closed")
)

// Transport is what the orchestrator needs from the service client.
type Transport interface {
	SendMessage(ctx context.Context, sessionID int64, credential, text string, onText func(string)) (*model.Message, error)
	ListAllMessages(ctx context.Context, sessionID int64, credential string) ([]model.Message, error)
}

// Options configures an Orchestrator.
type Options struct {
	// OnCredentialInvalid runs once for every request the server rejected
	// with 401, after the store has been updated.
	OnCredentialInvalid func(err error)
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator runs message sends against the store: optimistic insert,
// streamed reply, then authoritative refetch or error substitution.
//
// At most one send per SessionKey is in flight; a second one fails fast
// with ErrSendInFlight. Switching sessions cancels the previous session's
// work and evicts its partition.
//
// The optimistic insert and the eviction on switch run under the
// orchestrator's lock, so store listeners must not call back into it.
type Orchestrator struct {
	transport Transport
	store     *cache.Store
	opts      Options
	logger    zerolog.Logger

	mu       sync.Mutex
	active   cache.SessionKey
	inflight map[cache.SessionKey]context.CancelFunc
	loads    map[cache.SessionKey]*load
	closed   bool
	wg       sync.WaitGroup
}

// load is one running history load; its address identifies it.
type load struct {
	cancel context.CancelFunc
}

// New creates an orchestrator writing to store.
func New(transport Transport, store *cache.Store, opts Options, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		transport: transport,
		store:     store,
		opts:      opts,
		logger:    logger.With().Str("component", "chat").Logger(),
		inflight:  make(map[cache.SessionKey]context.CancelFunc),
		loads:     make(map[cache.SessionKey]*load),
	}
}

// Store returns the store the orchestrator writes to.
func (o *Orchestrator) Store() *cache.Store {
	return o.store
}

// Active returns the key of the session currently shown.
func (o *Orchestrator) Active() cache.SessionKey {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// InFlight reports whether a send is running for key.
func (o *Orchestrator) InFlight(key cache.SessionKey) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inflight[key]
	return ok
}

// =============================================================================
// SEND
// =============================================================================

// SendMessage sends text to a session and drives the cache through the
// reply. It blocks until the reply has ended and returns the send's error,
// if any; the cache already reflects the outcome when it returns.
func (o *Orchestrator) SendMessage(ctx context.Context, sessionID int64, credential, text string) error {
	text = norm.NFC.String(strings.TrimSpace(text))
	switch {
	case sessionID <= 0:
		return o.reject(ErrInvalidSession)
	case credential == "":
		return o.reject(ErrNoCredential)
	case text == "":
		return o.reject(ErrEmptyMessage)
	}

	key := cache.SessionKey{Credential: credential, SessionID: sessionID}
	sendCtx, release, err := o.acquire(ctx, key, text)
	if err != nil {
		return o.reject(err)
	}
	defer release()

	defer logging.TraceDuration(o.logger, "Orchestrator.SendMessage")()
	start := time.Now()
	log := o.logger.With().Stringer("key", key).Logger()

	defer o.store.SetLoading(key, false)

	final, err := o.transport.SendMessage(sendCtx, sessionID, credential, text, func(full string) {
		o.store.UpsertStreaming(key, full)
	})
	if err != nil {
		o.store.Finalize(key, cache.Outcome{Err: err})
		outcome := o.handleError(err)
		metrics.ObserveSend(outcome, time.Since(start))
		log.Warn().Err(err).Str("outcome", outcome).Msg("send failed")
		return err
	}

	msgs, err := o.transport.ListAllMessages(sendCtx, sessionID, credential)
	if err != nil {
		// The reply itself succeeded; keep what was streamed.
		o.store.ResolveStreaming(key, *final)
		o.handleError(err)
		metrics.IncRefetchFailure()
		log.Warn().Err(err).Msg("refetch after send failed, keeping streamed reply")
	} else {
		o.store.Finalize(key, cache.Outcome{Messages: msgs})
	}

	metrics.ObserveSend(metrics.OutcomeSuccess, time.Since(start))
	log.Info().
		Int("reply_chars", len(final.Text)).
		Bool("provisional_id", final.Provisional).
		Dur("elapsed", time.Since(start)).
		Msg("send complete")
	return nil
}

// acquire registers a send for key, enforcing single flight, and shows the
// user's text in the partition. Registration and insert happen together so
// a concurrent SwitchSession either sees the send and evicts its partition
// afterwards, or runs first and the insert lands in a fresh partition. The
// returned release must be called when the send ends.
func (o *Orchestrator) acquire(ctx context.Context, key cache.SessionKey, text string) (context.Context, func(), error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, nil, ErrClosed
	}
	if _, busy := o.inflight[key]; busy {
		return nil, nil, ErrSendInFlight
	}

	sendCtx, cancel := context.WithCancel(ctx)
	o.inflight[key] = cancel
	o.wg.Add(1)

	o.store.SetLoading(key, true)
	o.store.InsertOptimisticUser(key, text)

	release := func() {
		o.mu.Lock()
		delete(o.inflight, key)
		o.mu.Unlock()
		cancel()
		o.wg.Done()
	}
	return sendCtx, release, nil
}

// handleError fires the credential hook when needed and returns the
// metrics outcome label for err.
func (o *Orchestrator) handleError(err error) string {
	switch {
	case client.IsCredentialInvalid(err):
		if o.opts.OnCredentialInvalid != nil {
			o.opts.OnCredentialInvalid(err)
		}
		return metrics.OutcomeCredentialInvalid
	case client.IsCanceled(err):
		return metrics.OutcomeCanceled
	default:
		return metrics.OutcomeError
	}
}

func (o *Orchestrator) reject(err error) error {
	metrics.ObserveSend(metrics.OutcomeRejected, 0)
	return err
}

// =============================================================================
// SESSION SWITCHING
// =============================================================================

// SwitchSession makes sessionID the active session. Work of the previously
// active key is cancelled and its partition evicted; then the new session's
// history is loaded.
func (o *Orchestrator) SwitchSession(ctx context.Context, sessionID int64, credential string) error {
	if sessionID <= 0 {
		return ErrInvalidSession
	}
	if credential == "" {
		return ErrNoCredential
	}
	key := cache.SessionKey{Credential: credential, SessionID: sessionID}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	prev := o.active
	o.active = key
	switched := prev.Valid() && prev != key
	if switched {
		o.cancelLocked(prev)
		o.store.Remove(prev)
	}
	o.mu.Unlock()

	if switched {
		o.logger.Debug().Stringer("from", prev).Stringer("to", key).Msg("session switched")
	}

	return o.LoadHistory(ctx, sessionID, credential)
}

// LoadHistory replaces a partition with the server's history. The result
// is dropped when a send for the key is running, when a send wrote to the
// partition during the load, or when another session became active.
func (o *Orchestrator) LoadHistory(ctx context.Context, sessionID int64, credential string) error {
	if sessionID <= 0 {
		return ErrInvalidSession
	}
	if credential == "" {
		return ErrNoCredential
	}
	key := cache.SessionKey{Credential: credential, SessionID: sessionID}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if prev, ok := o.loads[key]; ok {
		prev.cancel()
	}
	loadCtx, cancel := context.WithCancel(ctx)
	self := &load{cancel: cancel}
	o.loads[key] = self
	o.wg.Add(1)
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		// A newer load for the same key may have replaced ours.
		if o.loads[key] == self {
			delete(o.loads, key)
		}
		o.mu.Unlock()
		cancel()
		o.wg.Done()
	}()

	o.store.SetLoading(key, true)
	defer o.store.SetLoading(key, false)
	generation, _ := o.store.Generation(key)

	msgs, err := o.transport.ListAllMessages(loadCtx, sessionID, credential)
	if err != nil {
		o.handleError(err)
		o.logger.Warn().Err(err).Stringer("key", key).Msg("history load failed")
		return err
	}

	o.mu.Lock()
	_, sending := o.inflight[key]
	stale := o.active.Valid() && o.active != key
	o.mu.Unlock()
	if sending || stale {
		o.logger.Debug().Stringer("key", key).Bool("sending", sending).Bool("stale", stale).Msg("discarding history load")
		return nil
	}

	if !o.store.ReplaceAt(key, generation, msgs) {
		o.logger.Debug().Stringer("key", key).Msg("discarding history load: partition changed")
	}
	return nil
}

// cancelLocked cancels every send and load for key. o.mu must be held.
func (o *Orchestrator) cancelLocked(key cache.SessionKey) {
	if cancel, ok := o.inflight[key]; ok {
		cancel()
	}
	if l, ok := o.loads[key]; ok {
		l.cancel()
	}
}

// Close cancels all running work and waits for it to finish. Later calls
// fail with ErrClosed.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	for _, cancel := range o.inflight {
		cancel()
	}
	for _, l := range o.loads {
		l.cancel()
	}
	o.mu.Unlock()

	o.wg.Wait()
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/jeranaias/evalchat/internal/logging"
	"github.com/jeranaias/evalchat/internal/util"
)

// ErrEmptyToken is returned when saving a blank token.
var ErrEmptyToken = errors.New("token is empty")

// TokenSource supplies the bearer credential. ok is false when the user is
// not signed in.
type TokenSource interface {
	Token() (token string, ok bool)
}

// StaticSource is a fixed token, such as one taken from the environment.
type StaticSource string

// Token implements TokenSource.
func (s StaticSource) Token() (string, bool) {
	t := strings.TrimSpace(string(s))
	return t, t != ""
}

// FirstOf returns the first source that has a token.
func FirstOf(sources ...TokenSource) TokenSource {
	return chain(sources)
}

type chain []TokenSource

func (c chain) Token() (string, bool) {
	for _, s := range c {
		if s == nil {
			continue
		}
		if t, ok := s.Token(); ok {
			return t, true
		}
	}
	return "", false
}

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore keeps the token in a 0600 file and caches it in memory. It is
// safe for concurrent use.
type FileStore struct {
	path   string
	logger zerolog.Logger

	mu       sync.RWMutex
	token    string
	onChange func(token string)
}

// NewFileStore opens the token file at path. A missing file means signed
// out and is not an error.
func NewFileStore(path string, logger zerolog.Logger) (*FileStore, error) {
	s := &FileStore{
		path:   path,
		logger: logger.With().Str("component", "auth").Logger(),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the token file location.
func (s *FileStore) Path() string {
	return s.path
}

// Token implements TokenSource.
func (s *FileStore) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

// OnChange registers fn to run after the token changes. Only one callback
// is kept.
func (s *FileStore) OnChange(fn func(token string)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Save writes token to disk and makes it current.
func (s *FileStore) Save(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyToken
	}
	// SECURITY: Owner-only file in an owner-only directory.
	if err := util.AtomicWriteFileWithDir(s.path, []byte(token+"\n"), 0600, 0700); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	s.set(token)
	s.logger.Info().Str("token", logging.Redact(token)).Msg("token saved")
	return nil
}

// Clear deletes the token file and forgets the token.
func (s *FileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear token: %w", err)
	}
	s.set("")
	s.logger.Info().Msg("token cleared")
	return nil
}

// Reload rereads the token file.
func (s *FileStore) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.set("")
			return nil
		}
		return fmt.Errorf("read token file: %w", err)
	}
	s.set(strings.TrimSpace(string(data)))
	return nil
}

func (s *FileStore) set(token string) {
	s.mu.Lock()
	changed := s.token != token
	s.token = token
	fn := s.onChange
	s.mu.Unlock()

	if changed && fn != nil {
		fn(token)
	}
}

// Watch reloads the token whenever the file is written, replaced or
// removed by another process, until ctx is done. The parent directory is
// watched because atomic writes replace the file.
func (s *FileStore) Watch(ctx context.Context) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		name := filepath.Clean(s.path)
		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != name {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
					event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
					if err := s.Reload(); err != nil {
						s.logger.Warn().Err(err).Msg("token reload failed")
					}
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn().Err(err).Msg("token watcher error")
			}
		}
	}()
	return nil
}

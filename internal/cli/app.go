// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"io"

	"github.com/rs/zerolog"

	"github.com/jeranaias/evalchat/internal/auth"
	"github.com/jeranaias/evalchat/internal/cache"
	"github.com/jeranaias/evalchat/internal/chat"
	"github.com/jeranaias/evalchat/internal/client"
	"github.com/jeranaias/evalchat/internal/config"
	"github.com/jeranaias/evalchat/internal/logging"
	"github.com/jeranaias/evalchat/internal/metrics"
)

// app is the wiring shared by the commands that talk to the service.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	tokens *auth.FileStore
	source auth.TokenSource

	client *client.Client
	store  *cache.Store
	orch   *chat.Orchestrator

	// ctx bounds background work: the token watcher and metrics server.
	ctx     context.Context
	cancel  context.CancelFunc
	closers []io.Closer
}

// newApp loads the config and wires the client, cache and orchestrator.
// Logs go to the configured file, or to logOut when none is set.
func newApp(ctx context.Context, opts *rootOptions, logOut io.Writer) (*app, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}

	logger, logCloser, err := logging.Open(cfg.Log, logOut)
	if err != nil {
		return nil, err
	}

	tokens, err := auth.NewFileStore(cfg.Auth.TokenFile, logger)
	if err != nil {
		logCloser.Close()
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		tokens:  tokens,
		source:  auth.FirstOf(auth.StaticSource(cfg.Auth.Token), tokens),
		closers: []io.Closer{logCloser},
	}
	a.ctx, a.cancel = context.WithCancel(ctx)

	a.client = client.NewClient(&client.ClientConfig{
		BaseURL:           cfg.Server.BaseURL,
		Timeout:           cfg.Server.Timeout(),
		ConnectTimeout:    cfg.Server.ConnectTimeout(),
		RequestsPerSecond: cfg.Server.RequestsPerSecond,
		Burst:             cfg.Server.Burst,
		PageSize:          cfg.Server.PageSize,
		MaxPages:          cfg.Server.MaxPages,
	}, logger)
	a.store = cache.NewStore(logger)
	a.orch = chat.New(a.client, a.store, chat.Options{
		OnCredentialInvalid: a.credentialRejected,
	}, logger)

	return a, nil
}

// credential returns the current token or chat.ErrNoCredential.
func (a *app) credential() (string, error) {
	token, ok := a.source.Token()
	if !ok {
		return "", chat.ErrNoCredential
	}
	return token, nil
}

// credentialRejected forgets a stored token the server refused. A token
// from the environment cannot be cleared and is only reported.
func (a *app) credentialRejected(err error) {
	if a.cfg.Auth.Token != "" {
		a.logger.Warn().Err(err).Msg("EVALCHAT_TOKEN was rejected by the server")
		return
	}
	if clearErr := a.tokens.Clear(); clearErr != nil {
		a.logger.Error().Err(clearErr).Msg("failed to clear rejected token")
		return
	}
	a.logger.Warn().Err(err).Msg("stored token rejected by the server and cleared")
}

// startBackground runs the token watcher and, when configured, the
// metrics endpoint until the app is closed.
func (a *app) startBackground() {
	if err := a.tokens.Watch(a.ctx); err != nil {
		a.logger.Warn().Err(err).Msg("token watcher disabled")
	}
	if a.cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(a.ctx, a.cfg.Metrics.Addr, a.logger); err != nil {
				a.logger.Error().Err(err).Str("addr", a.cfg.Metrics.Addr).Msg("metrics server failed")
			}
		}()
	}
}

// close stops in-flight work and background goroutines.
func (a *app) close() {
	a.orch.Close()
	a.cancel()
	for _, c := range a.closers {
		c.Close()
	}
}

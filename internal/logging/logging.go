// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the zerolog logger shared by every component.
// Components receive a logger by injection; nothing logs through a global.
package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/evalchat/internal/config"
	"github.com/rs/zerolog"
)

// New creates a logger from cfg writing to w. Supports "trace" | "debug" |
// "info" | "warn" | "error" levels and "json" | "console" formats.
func New(cfg config.LogConfig, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var base zerolog.Logger
	if strings.ToLower(cfg.Format) == "json" {
		base = zerolog.New(w)
	} else {
		base = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: w != os.Stderr})
	}
	base = base.Level(level).With().Timestamp().Logger()

	if cfg.Sampling {
		// Keep the first 100, then 1 every 100 thereafter.
		return base.Sample(&zerolog.BasicSampler{N: 100})
	}
	return base
}

// Open creates the logger described by cfg. Output goes to cfg.File when
// set, otherwise to fallback. The returned closer releases the file.
func Open(cfg config.LogConfig, fallback io.Writer) (zerolog.Logger, io.Closer, error) {
	if cfg.File == "" {
		return New(cfg, fallback), io.NopCloser(nil), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0700); err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
	}
	return New(cfg, f), f, nil
}

// TraceDuration logs start and end with elapsed duration at TRACE level.
// Usage: defer logging.TraceDuration(logger, "Orchestrator.SendMessage")()
func TraceDuration(logger zerolog.Logger, name string) func() {
	start := time.Now()
	logger.Trace().Str("method", name).Msg("start")
	return func() {
		logger.Trace().Str("method", name).Dur("duration", time.Since(start)).Msg("finish")
	}
}

// Redact returns a short fingerprint of a secret so log lines can be
// correlated without exposing it.
// SECURITY: Bearer tokens must never reach a log sink.
func Redact(secret string) string {
	if secret == "" {
		return "<none>"
	}
	sum := sha256.Sum256([]byte(secret))
	return "sha256:" + hex.EncodeToString(sum[:4])
}

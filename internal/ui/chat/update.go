// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/evalchat/internal/cache"
	corechat "github.com/jeranaias/evalchat/internal/chat"
	"github.com/jeranaias/evalchat/internal/client"
)

// Status line texts.
const (
	statusSignedOut  = "not signed in: run 'evalchat token set'"
	statusCredential = "credential rejected: run 'evalchat token set' to sign in again"
	statusBusy       = "wait for the current reply to finish"
	statusStopped    = "reply stopped"
	statusUnknownCmd = "unknown command; try /session <id>, /reload or /quit"
)

// Rows taken by everything but the transcript.
const (
	headerHeight = 1
	statusHeight = 1
	inputHeight  = 2
)

// Update handles a message and returns the new model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(1, msg.Height-headerHeight-statusHeight-inputHeight)
		m.input.Width = max(1, msg.Width-4)
		m.ready = true
		m.refresh(true)
		return m, nil

	case SnapshotMsg:
		m.applySnapshot(msg.Snapshot)
		return m, nil

	case sendDoneMsg:
		m.sending = false
		m.cancelSend = nil
		m.reportError(msg.err)
		return m, nil

	case historyLoadedMsg:
		if msg.key == m.key {
			m.reportError(msg.err)
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.stopSend()
			return m, tea.Quit
		case key.Matches(msg, m.keys.Cancel):
			if m.sending {
				m.stopSend()
				m.setStatus(statusStopped, false)
			}
			return m, nil
		case key.Matches(msg, m.keys.Submit):
			return m.submit()
		case key.Matches(msg, m.keys.Up):
			m.viewport.LineUp(1)
			return m, nil
		case key.Matches(msg, m.keys.Down):
			m.viewport.LineDown(1)
			return m, nil
		case key.Matches(msg, m.keys.PageUp):
			m.viewport.HalfViewUp()
			return m, nil
		case key.Matches(msg, m.keys.PageDown):
			m.viewport.HalfViewDown()
			return m, nil
		case key.Matches(msg, m.keys.End):
			m.viewport.GotoBottom()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// applySnapshot shows s when it belongs to the active session and is newer
// than what is displayed.
func (m *Model) applySnapshot(s cache.Snapshot) {
	if s.Key != m.key || s.Version <= m.version {
		return
	}
	m.version = s.Version
	if s.Evicted {
		m.messages = nil
		m.loading = false
	} else {
		m.messages = s.Messages
		m.loading = s.Loading
	}
	m.refresh(false)
}

// submit sends the input line or runs a slash command.
func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	if strings.HasPrefix(text, "/") {
		return m.runCommand(text)
	}
	if m.sending {
		m.setStatus(statusBusy, false)
		return m, nil
	}

	token, ok := m.token()
	if !ok || m.backend == nil {
		m.setStatus(statusSignedOut, true)
		return m, nil
	}
	m.input.Reset()
	m.key = cache.SessionKey{Credential: token, SessionID: m.sessionID}

	ctx, cancel := context.WithCancel(m.ctx)
	m.sending = true
	m.cancelSend = cancel
	m.setStatus("", false)

	backend, sessionID := m.backend, m.sessionID
	return m, func() tea.Msg {
		defer cancel()
		return sendDoneMsg{err: backend.SendMessage(ctx, sessionID, token, text)}
	}
}

// runCommand handles /session, /reload and /quit.
func (m Model) runCommand(line string) (tea.Model, tea.Cmd) {
	m.input.Reset()
	fields := strings.Fields(line)

	switch fields[0] {
	case "/quit", "/exit":
		m.stopSend()
		return m, tea.Quit

	case "/reload":
		m.setStatus("", false)
		return m, m.switchCmd(m.sessionID)

	case "/session":
		if len(fields) != 2 {
			m.setStatus("usage: /session <id>", true)
			return m, nil
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil || id <= 0 {
			m.setStatus(fmt.Sprintf("invalid session id %q", fields[1]), true)
			return m, nil
		}
		token, ok := m.token()
		if !ok {
			m.setStatus(statusSignedOut, true)
			return m, nil
		}
		m.stopSend()
		m.sessionID = id
		m.key = cache.SessionKey{Credential: token, SessionID: id}
		m.messages = nil
		m.loading = true
		m.setStatus("", false)
		m.refresh(true)
		return m, m.switchCmd(id)
	}

	m.setStatus(statusUnknownCmd, true)
	return m, nil
}

// stopSend cancels the send started by the view, if any.
func (m *Model) stopSend() {
	if m.cancelSend != nil {
		m.cancelSend()
		m.cancelSend = nil
	}
}

// reportError puts err on the status line, or clears it when err is nil.
func (m *Model) reportError(err error) {
	switch {
	case err == nil:
		m.setStatus("", false)
	case client.IsCredentialInvalid(err):
		m.setStatus(statusCredential, true)
	case client.IsCanceled(err):
		m.setStatus(statusStopped, false)
	case errors.Is(err, corechat.ErrNoCredential):
		m.setStatus(statusSignedOut, true)
	default:
		m.logger.Debug().Err(err).Msg("request failed")
		m.setStatus(err.Error(), true)
	}
}

func (m *Model) setStatus(text string, isErr bool) {
	m.status = text
	m.statusIsErr = isErr
}

// refresh re-renders the transcript, following the bottom unless the user
// scrolled away from it.
func (m *Model) refresh(force bool) {
	if !m.ready {
		return
	}
	follow := force || m.viewport.AtBottom()
	m.viewport.SetContent(renderMessages(m.theme, m.messages, m.viewport.Width, m.showTimestamps))
	if follow {
		m.viewport.GotoBottom()
	}
}

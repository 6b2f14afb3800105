// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/jeranaias/evalchat/internal/auth"
	"github.com/jeranaias/evalchat/internal/cache"
	"github.com/jeranaias/evalchat/internal/model"
	"github.com/jeranaias/evalchat/internal/ui/styles"
)

// Backend runs sends and session switches. *chat.Orchestrator implements it.
type Backend interface {
	SendMessage(ctx context.Context, sessionID int64, credential, text string) error
	SwitchSession(ctx context.Context, sessionID int64, credential string) error
}

// Options configures the chat view.
type Options struct {
	Backend   Backend
	Tokens    auth.TokenSource
	SessionID int64
	// ServerLabel is shown in the header, usually the base URL.
	ServerLabel    string
	ShowTimestamps bool
	// Context bounds every request the view starts. Defaults to Background.
	Context context.Context
	Logger  zerolog.Logger
}

// =============================================================================
// CHAT MODEL
// =============================================================================

// Model is the Bubble Tea model for the chat view.
type Model struct {
	backend Backend
	tokens  auth.TokenSource
	ctx     context.Context
	logger  zerolog.Logger

	// Session shown. key is empty until a credential is known.
	sessionID int64
	key       cache.SessionKey
	server    string

	// Last snapshot applied
	messages []model.Message
	loading  bool
	version  uint64

	// Send in progress
	sending    bool
	cancelSend context.CancelFunc

	// Status line
	status      string
	statusIsErr bool

	// UI components
	theme    *styles.Theme
	keys     KeyMap
	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	width          int
	height         int
	ready          bool
	showTimestamps bool
}

// New creates the chat view.
func New(opts Options) Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}

	ti := textinput.New()
	ti.Placeholder = "Type a message, /session <id> to switch, /quit to leave"
	ti.Prompt = "> "
	ti.CharLimit = 8000
	ti.Focus()

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))

	m := Model{
		backend:        opts.Backend,
		tokens:         opts.Tokens,
		ctx:            ctx,
		logger:         opts.Logger.With().Str("component", "tui").Logger(),
		sessionID:      opts.SessionID,
		server:         opts.ServerLabel,
		theme:          styles.NewTheme(),
		keys:           DefaultKeyMap(),
		viewport:       viewport.New(0, 0),
		input:          ti,
		spinner:        sp,
		showTimestamps: opts.ShowTimestamps,
	}
	if token, ok := m.token(); ok {
		m.key = cache.SessionKey{Credential: token, SessionID: m.sessionID}
	} else {
		m.setStatus(statusSignedOut, true)
	}
	return m
}

// Init starts the spinner and loads the session's history.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.switchCmd(m.sessionID))
}

// Messages returns the messages currently displayed.
func (m Model) Messages() []model.Message {
	return m.messages
}

// Status returns the status line text.
func (m Model) Status() string {
	return m.status
}

// Sending reports whether a send started by the view is running.
func (m Model) Sending() bool {
	return m.sending
}

func (m Model) token() (string, bool) {
	if m.tokens == nil {
		return "", false
	}
	return m.tokens.Token()
}

// switchCmd makes sessionID active and loads its history.
func (m Model) switchCmd(sessionID int64) tea.Cmd {
	token, ok := m.token()
	if !ok || m.backend == nil {
		return nil
	}
	key := cache.SessionKey{Credential: token, SessionID: sessionID}
	backend, ctx := m.backend, m.ctx
	return func() tea.Msg {
		return historyLoadedMsg{key: key, err: backend.SwitchSession(ctx, sessionID, token)}
	}
}

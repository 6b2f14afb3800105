// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/evalchat/internal/model"
	"github.com/jeranaias/evalchat/internal/ui/styles"
	"github.com/jeranaias/evalchat/internal/util"
)

// streamCursor trails a reply that is still arriving.
const streamCursor = "▌"

// View renders the chat view.
func (m Model) View() string {
	if !m.ready {
		return "\n  Starting..."
	}

	header := fmt.Sprintf("evalchat  session %d", m.sessionID)
	if m.server != "" {
		header += "  " + m.server
	}
	header = m.theme.Header.Width(m.width).Render(util.TruncateWidth(header, max(1, m.width-2)))

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		m.statusLine(),
		m.theme.InputBorder.Width(m.width).Render(m.input.View()),
	)
}

func (m Model) statusLine() string {
	width := max(1, m.width-2)
	switch {
	case m.status != "" && m.statusIsErr:
		return m.theme.StatusError.Render(util.TruncateWidth(m.status, width))
	case m.status != "":
		return m.theme.Status.Render(util.TruncateWidth(m.status, width))
	case m.sending:
		return m.theme.Status.Render(m.spinner.View() + " receiving reply")
	case m.loading:
		return m.theme.Status.Render(m.spinner.View() + " loading")
	default:
		return m.theme.Status.Render(util.TruncateWidth(m.keys.ShortHelp(), width))
	}
}

// renderMessages renders a transcript for the given width.
func renderMessages(theme *styles.Theme, msgs []model.Message, width int, timestamps bool) string {
	if len(msgs) == 0 {
		return theme.Hint.Render("  No messages yet.")
	}

	bodyWidth := max(10, width-2)
	blocks := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		blocks = append(blocks, renderMessage(theme, msg, bodyWidth, timestamps))
	}
	return strings.Join(blocks, "\n\n")
}

func renderMessage(theme *styles.Theme, msg model.Message, width int, timestamps bool) string {
	var label strings.Builder
	if msg.Sender == model.SenderUser {
		label.WriteString(theme.UserLabel.Render(msg.Sender.DisplayName()))
	} else {
		label.WriteString(theme.BotLabel.Render(msg.Sender.DisplayName()))
	}
	if timestamps && !msg.Timestamp.IsZero() {
		label.WriteString(" " + theme.Timestamp.Render(msg.Timestamp.Local().Format("15:04")))
	}
	if msg.Provisional && msg.Sender == model.SenderBot && !msg.IsStreaming && !msg.IsError {
		label.WriteString(" " + theme.Provisional.Render("(unconfirmed)"))
	}

	body := theme.Body
	if msg.IsError {
		body = theme.ErrorBody
	}
	text := msg.Text
	if msg.IsStreaming {
		text += theme.Cursor.Render(streamCursor)
	}
	return label.String() + "\n" + body.Width(width).Render(text)
}

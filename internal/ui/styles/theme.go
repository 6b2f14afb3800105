// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import "github.com/charmbracelet/lipgloss"

// Theme holds the lipgloss styles of the chat view.
type Theme struct {
	Header      lipgloss.Style
	Status      lipgloss.Style
	StatusError lipgloss.Style
	UserLabel   lipgloss.Style
	BotLabel    lipgloss.Style
	Body        lipgloss.Style
	ErrorBody   lipgloss.Style
	Timestamp   lipgloss.Style
	Provisional lipgloss.Style
	Cursor      lipgloss.Style
	Hint        lipgloss.Style
	InputBorder lipgloss.Style
}

// NewTheme returns the default theme.
func NewTheme() *Theme {
	return &Theme{
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(Cyan).
			Background(SurfaceDim).
			Padding(0, 1),
		Status: lipgloss.NewStyle().
			Foreground(TextMuted).
			Padding(0, 1),
		StatusError: lipgloss.NewStyle().
			Foreground(Rose).
			Padding(0, 1),
		UserLabel: lipgloss.NewStyle().Bold(true).Foreground(Cyan),
		BotLabel:  lipgloss.NewStyle().Bold(true).Foreground(Purple),
		Body:      lipgloss.NewStyle().Foreground(TextPrimary).PaddingLeft(2),
		ErrorBody: lipgloss.NewStyle().Foreground(Rose).PaddingLeft(2),
		Timestamp: lipgloss.NewStyle().Foreground(TextMuted),
		Provisional: lipgloss.NewStyle().
			Foreground(Amber).
			Italic(true),
		Cursor: lipgloss.NewStyle().Foreground(Purple),
		Hint:   lipgloss.NewStyle().Foreground(TextMuted).Italic(true),
		InputBorder: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), true, false, false, false).
			BorderForeground(Overlay),
	}
}

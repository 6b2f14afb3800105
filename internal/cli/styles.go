// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/evalchat/internal/ui/styles"
)

// init applies the plain-output colour profile, honouring NO_COLOR,
// FORCE_COLOR and TTY detection.
func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// Shared styles for non-TUI output.
var (
	PromptStyle = lipgloss.NewStyle().
			Foreground(styles.Cyan).
			Bold(true)

	UserStyle = lipgloss.NewStyle().
			Foreground(styles.Cyan).
			Bold(true)

	BotStyle = lipgloss.NewStyle().
			Foreground(styles.Purple).
			Bold(true)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(styles.Emerald).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(styles.Rose).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(styles.Amber)

	DimStyle = lipgloss.NewStyle().
			Foreground(styles.TextMuted)
)

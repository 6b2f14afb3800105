// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	uichat "github.com/jeranaias/evalchat/internal/ui/chat"
)

func newChatCommand(opts *rootOptions) *cobra.Command {
	var sessionID int64

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Full-screen chat with a session",
		Long: `Open the full-screen chat view. Replies stream into the transcript as
they arrive. Inside the view, /session <id> switches sessions and Esc stops
a reply in progress.

Logs are written to log.file when it is set and discarded otherwise, so
they never draw over the screen.`,
		Example: "  evalchat chat -s 42",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := RequiresTTY("open the chat view"); err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), opts, io.Discard)
			if err != nil {
				return err
			}
			defer a.close()
			a.startBackground()

			id, err := resolveSession(sessionID, a.cfg, "evalchat chat -s 42")
			if err != nil {
				return err
			}

			m := uichat.New(uichat.Options{
				Backend:        a.orch,
				Tokens:         a.source,
				SessionID:      id,
				ServerLabel:    a.cfg.Server.BaseURL,
				ShowTimestamps: a.cfg.UI.ShowTimestamps,
				Context:        a.ctx,
				Logger:         a.logger,
			})
			p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(a.ctx))
			unsubscribe := uichat.Subscribe(a.store, p.Send)
			defer unsubscribe()

			_, err = p.Run()
			if err == tea.ErrProgramKilled {
				return nil
			}
			return err
		},
	}
	sessionFlag(cmd, &sessionID)
	return cmd
}

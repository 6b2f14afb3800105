// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jeranaias/evalchat/internal/cache"
	"github.com/jeranaias/evalchat/internal/model"
	"github.com/jeranaias/evalchat/internal/util"
)

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	var (
		sessionID int64
		last      int
		brief     bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print a session's messages",
		Example: `  evalchat history -s 42
  evalchat history -s 42 --last 5 --brief`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			id, err := resolveSession(sessionID, a.cfg, "evalchat history -s 42")
			if err != nil {
				return err
			}
			token, err := a.credential()
			if err != nil {
				return err
			}

			if err := a.orch.LoadHistory(cmd.Context(), id, token); err != nil {
				return err
			}
			msgs := a.store.Messages(cache.SessionKey{Credential: token, SessionID: id})
			if last > 0 && len(msgs) > last {
				msgs = msgs[len(msgs)-last:]
			}
			printMessages(cmd.OutOrStdout(), msgs, a.cfg.UI.ShowTimestamps, brief)
			return nil
		},
	}
	sessionFlag(cmd, &sessionID)
	cmd.Flags().IntVarP(&last, "last", "n", 0, "only print the last n messages")
	cmd.Flags().BoolVar(&brief, "brief", false, "one line per message")
	return cmd
}

// briefWidth bounds a message preview in --brief mode.
const briefWidth = 72

// printMessages writes msgs as a plain transcript.
func printMessages(w io.Writer, msgs []model.Message, timestamps, brief bool) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No messages."))
		return
	}
	for i, msg := range msgs {
		label := BotStyle.Render(msg.Sender.DisplayName())
		if msg.Sender == model.SenderUser {
			label = UserStyle.Render(msg.Sender.DisplayName())
		}
		if timestamps && !msg.Timestamp.IsZero() {
			label = DimStyle.Render(msg.Timestamp.Local().Format("2006-01-02 15:04")) + " " + label
		}

		if brief {
			fmt.Fprintf(w, "%s: %s\n", label, util.TruncateWidth(util.FirstLine(msg.Text), briefWidth))
			continue
		}
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s:\n%s\n", label, msg.Text)
	}
}

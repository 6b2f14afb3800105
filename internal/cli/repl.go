// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/evalchat/internal/cache"
	"github.com/jeranaias/evalchat/internal/client"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// LineReader provides input history and line editing for the REPL.
type LineReader struct {
	line        *liner.State
	historyFile string
}

// NewLineReader creates a LineReader that keeps its history in historyFile.
func NewLineReader(historyFile string) *LineReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	r := &LineReader{line: line, historyFile: historyFile}
	r.loadHistory()
	return r
}

func (r *LineReader) loadHistory() {
	if f, err := os.Open(r.historyFile); err == nil {
		r.line.ReadHistory(f)
		f.Close()
	}
}

// ReadLine reads a line of input with the given prompt.
func (r *LineReader) ReadLine(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// saveHistory persists history with owner-only permissions.
func (r *LineReader) saveHistory() {
	if err := os.MkdirAll(filepath.Dir(r.historyFile), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	r.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (r *LineReader) Close() {
	r.saveHistory()
	r.line.Close()
}

// =============================================================================
// REPL COMMAND
// =============================================================================

func newReplCommand(opts *rootOptions) *cobra.Command {
	var sessionID int64

	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Line-mode chat with input history",
		Long: `Chat in plain line mode. Replies stream to the terminal as they arrive.

Commands:
  /session <id>   switch session
  /history        print the session's messages
  /quit           leave (Ctrl+D also works)
  Ctrl+C          stop the reply in progress`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := RequiresTTY("run the REPL"); err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()
			a.startBackground()

			id, err := resolveSession(sessionID, a.cfg, "evalchat repl -s 42")
			if err != nil {
				return err
			}
			r := &repl{app: a, cmd: cmd, out: cmd.OutOrStdout(), sessionID: id}
			return r.run()
		},
	}
	sessionFlag(cmd, &sessionID)
	return cmd
}

type repl struct {
	app       *app
	cmd       *cobra.Command
	out       io.Writer
	sessionID int64
}

func (r *repl) run() error {
	if err := r.switchTo(r.sessionID); err != nil {
		return err
	}

	reader := NewLineReader(r.app.cfg.UI.HistoryFile)
	defer reader.Close()

	fmt.Fprintln(r.out, DimStyle.Render("Type a message and press Enter. /quit to leave."))
	for {
		prompt := fmt.Sprintf("session %d> ", r.sessionID)
		input, err := reader.ReadLine(prompt)
		if err != nil {
			// Ctrl+C at the prompt, Ctrl+D, or a closed terminal.
			fmt.Fprintln(r.out)
			return nil
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			quit, err := r.command(input)
			if err != nil {
				DisplayError(r.cmd.ErrOrStderr(), err)
			}
			if quit {
				return nil
			}
			continue
		}

		if err := r.send(input); err != nil && !client.IsCanceled(err) {
			DisplayError(r.cmd.ErrOrStderr(), err)
		}
	}
}

// send streams one reply; Ctrl+C stops it without leaving the REPL.
func (r *repl) send(text string) error {
	token, err := r.app.credential()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(r.cmd.Context(), os.Interrupt)
	defer stop()

	fmt.Fprint(r.out, BotStyle.Render("Assistant")+": ")
	err = sendAndPrint(ctx, r.out, r.app, r.sessionID, token, text)
	if errors.Is(ctx.Err(), context.Canceled) && r.cmd.Context().Err() == nil {
		fmt.Fprintln(r.out, WarningStyle.Render("[stopped]"))
	}
	return err
}

// command runs a slash command and reports whether to quit.
func (r *repl) command(line string) (bool, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit", "/q":
		return true, nil

	case "/session":
		if len(fields) != 2 {
			return false, &ValidationError{Field: "command", Reason: "usage: /session <id>"}
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil || id <= 0 {
			return false, &ValidationError{Field: "session", Value: fields[1], Reason: "must be a positive integer"}
		}
		if err := r.switchTo(id); err != nil {
			return false, err
		}
		return false, nil

	case "/history":
		token, err := r.app.credential()
		if err != nil {
			return false, err
		}
		msgs := r.app.store.Messages(cache.SessionKey{Credential: token, SessionID: r.sessionID})
		printMessages(r.out, msgs, r.app.cfg.UI.ShowTimestamps, false)
		return false, nil
	}
	return false, &ValidationError{Field: "command", Value: fields[0], Reason: "unknown command", Example: "/session 42"}
}

// switchTo makes id the active session and loads its history.
func (r *repl) switchTo(id int64) error {
	token, err := r.app.credential()
	if err != nil {
		return err
	}
	if err := r.app.orch.SwitchSession(r.cmd.Context(), id, token); err != nil {
		return err
	}
	r.sessionID = id
	n := len(r.app.store.Messages(cache.SessionKey{Credential: token, SessionID: id}))
	fmt.Fprintln(r.out, DimStyle.Render(fmt.Sprintf("session %d: %d messages", id, n)))
	return nil
}

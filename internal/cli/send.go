// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/jeranaias/evalchat/internal/cache"
	"github.com/jeranaias/evalchat/internal/model"
)

func newSendCommand(opts *rootOptions) *cobra.Command {
	var sessionID int64

	cmd := &cobra.Command{
		Use:   "send [message...]",
		Short: "Send one message and stream the reply to stdout",
		Long: `Send one message to a session and print the reply as it arrives.
With no arguments, or with "-", the message is read from stdin.`,
		Example: `  evalchat send -s 42 "What is the capital of France?"
  echo "hello" | evalchat send -s 42`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := messageText(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()
			a.startBackground()

			id, err := resolveSession(sessionID, a.cfg, "evalchat send -s 42 hello")
			if err != nil {
				return err
			}
			token, err := a.credential()
			if err != nil {
				return err
			}
			return sendAndPrint(cmd.Context(), cmd.OutOrStdout(), a, id, token, text)
		},
	}
	sessionFlag(cmd, &sessionID)
	return cmd
}

// messageText joins args, or reads stdin when there are none or the only
// one is "-".
func messageText(in io.Reader, args []string) (string, error) {
	var text string
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		b, err := io.ReadAll(in)
		if err != nil {
			return "", fmt.Errorf("read message from stdin: %w", err)
		}
		text = string(b)
	} else {
		text = strings.Join(args, " ")
	}
	if strings.TrimSpace(text) == "" {
		return "", &ValidationError{Field: "message", Reason: "must not be empty", Example: `evalchat send -s 42 "hello"`}
	}
	return text, nil
}

// sendAndPrint sends text and writes the reply to out as it streams.
func sendAndPrint(ctx context.Context, out io.Writer, a *app, sessionID int64, token, text string) error {
	key := cache.SessionKey{Credential: token, SessionID: sessionID}
	printer := newStreamPrinter(out, key)
	unsubscribe := a.store.Subscribe(printer.Observe)
	defer unsubscribe()

	err := a.orch.SendMessage(ctx, sessionID, token, text)
	if err != nil {
		if printer.Printed() != "" {
			fmt.Fprintln(out)
		}
		return err
	}

	// Nothing streamed: print the reply the refetch produced.
	if printer.Printed() == "" {
		if reply, ok := lastBotMessage(a.store.Messages(key)); ok {
			fmt.Fprint(out, reply.Text)
		}
	}
	fmt.Fprintln(out)
	return nil
}

func lastBotMessage(msgs []model.Message) (model.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Sender == model.SenderBot && !msgs[i].IsError {
			return msgs[i], true
		}
	}
	return model.Message{}, false
}

// =============================================================================
// STREAM PRINTER
// =============================================================================

// streamPrinter writes the growth of one session's in-progress reply. The
// published text is always the full reply so far, so only the new suffix
// is written.
type streamPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	key     cache.SessionKey
	printed string
	version uint64
}

func newStreamPrinter(w io.Writer, key cache.SessionKey) *streamPrinter {
	return &streamPrinter{w: w, key: key}
}

// Observe is a cache.Listener.
func (p *streamPrinter) Observe(s cache.Snapshot) {
	if s.Key != p.key || s.Evicted || len(s.Messages) == 0 {
		return
	}
	last := s.Messages[len(s.Messages)-1]
	if !last.IsStreamingBot() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if s.Version <= p.version {
		return
	}
	p.version = s.Version
	if strings.HasPrefix(last.Text, p.printed) {
		io.WriteString(p.w, last.Text[len(p.printed):])
		p.printed = last.Text
	}
}

// Printed returns everything written so far.
func (p *streamPrinter) Printed() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.printed
}

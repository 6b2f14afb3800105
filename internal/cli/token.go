// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jeranaias/evalchat/internal/auth"
	"github.com/jeranaias/evalchat/internal/logging"
)

func newTokenCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the stored bearer token",
	}
	cmd.AddCommand(
		newTokenSetCommand(opts),
		newTokenClearCommand(opts),
		newTokenShowCommand(opts),
	)
	return cmd
}

// tokenEnv is the token store plus the environment token, if any.
type tokenEnv struct {
	store    *auth.FileStore
	envToken string
	closer   io.Closer
}

// openTokens opens the configured token file without wiring a client.
// The caller must close the returned env.
func openTokens(cmd *cobra.Command, opts *rootOptions) (*tokenEnv, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, closer, err := logging.Open(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	store, err := auth.NewFileStore(cfg.Auth.TokenFile, logger)
	if err != nil {
		closer.Close()
		return nil, err
	}
	return &tokenEnv{store: store, envToken: cfg.Auth.Token, closer: closer}, nil
}

func (e *tokenEnv) Close() error {
	return e.closer.Close()
}

func newTokenSetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set [token]",
		Short: "Store a bearer token",
		Long: `Store the bearer token used for every request. Without an argument the
token is read from stdin, hidden when stdin is a terminal.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openTokens(cmd, opts)
			if err != nil {
				return err
			}
			defer env.Close()
			store := env.store

			var token string
			if len(args) == 1 {
				token = args[0]
			} else {
				token, err = readSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), "Token: ")
				if err != nil {
					return err
				}
			}
			if err := store.Save(token); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s token saved to %s\n", SuccessStyle.Render("OK"), store.Path())
			return nil
		},
	}
}

func newTokenClearCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openTokens(cmd, opts)
			if err != nil {
				return err
			}
			defer env.Close()
			store := env.store
			if err := store.Clear(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s token cleared\n", SuccessStyle.Render("OK"))
			return nil
		},
	}
}

func newTokenShowCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show where the token comes from and its fingerprint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openTokens(cmd, opts)
			if err != nil {
				return err
			}
			defer env.Close()
			store := env.store

			out := cmd.OutOrStdout()
			if env.envToken != "" {
				fmt.Fprintf(out, "source:      EVALCHAT_TOKEN\nfingerprint: %s\n", logging.Redact(env.envToken))
				return nil
			}
			token, ok := store.Token()
			if !ok {
				fmt.Fprintf(out, "%s no token stored in %s\n", WarningStyle.Render("!"), store.Path())
				return nil
			}
			fmt.Fprintf(out, "source:      %s\nfingerprint: %s\n", store.Path(), logging.Redact(token))
			return nil
		},
	}
}

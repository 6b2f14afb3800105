// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/evalchat/internal/config"
)

// BuildInfo is set by main from linker flags.
type BuildInfo struct {
	Version   string
	GitCommit string
	BuildDate string
}

// rootOptions holds the global flags.
type rootOptions struct {
	configPath string
	server     string
	logLevel   string
}

// NewRootCommand builds the evalchat command tree.
func NewRootCommand(info BuildInfo) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "evalchat",
		Short: "Terminal client for the evaluation chat service",
		Long: `evalchat talks to a chat/evaluation service: it sends messages to a
session and shows the reply as it streams in.

Sign in once with 'evalchat token set', then start the full-screen view with
'evalchat chat -s <session>' or send a single message with 'evalchat send'.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default ~/.evalchat/config.toml)")
	flags.StringVar(&opts.server, "server", "", "service base URL, overrides the config")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")

	root.AddCommand(
		newChatCommand(opts),
		newReplCommand(opts),
		newSendCommand(opts),
		newHistoryCommand(opts),
		newTokenCommand(opts),
		newConfigCommand(opts),
		newVersionCommand(info),
	)
	return root
}

// Execute runs the CLI with args and returns the process exit code.
// Cancelling ctx stops any request in progress.
func Execute(ctx context.Context, info BuildInfo, args []string) int {
	root := NewRootCommand(info)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		DisplayError(root.ErrOrStderr(), err)
		return GetExitCode(err)
	}
	return ExitSuccess
}

// loadConfig reads the config file and applies the global flags on top.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, &ConfigError{Path: o.displayPath(), Err: err}
	}
	if o.server != "" {
		cfg.Server.BaseURL = strings.TrimRight(o.server, "/")
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.server != "" || o.logLevel != "" {
		if err := cfg.Validate(); err != nil {
			return nil, &ConfigError{Path: "flags", Err: err}
		}
	}
	return cfg, nil
}

func (o *rootOptions) displayPath() string {
	if o.configPath != "" {
		return o.configPath
	}
	if p, err := config.ConfigPath(); err == nil {
		return p
	}
	return "config.toml"
}

// sessionFlag adds --session/-s to cmd.
func sessionFlag(cmd *cobra.Command, id *int64) {
	cmd.Flags().Int64VarP(id, "session", "s", 0, "session id (default ui.default_session)")
}

// resolveSession returns the flag value, falling back to the config default.
func resolveSession(flag int64, cfg *config.Config, usage string) (int64, error) {
	id := flag
	if id == 0 {
		id = cfg.UI.DefaultSession
	}
	if id <= 0 {
		return 0, &ValidationError{
			Field:   "session",
			Value:   fmt.Sprint(flag),
			Reason:  "a positive session id is required",
			Example: usage,
		}
	}
	return id, nil
}

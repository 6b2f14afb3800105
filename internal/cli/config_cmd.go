// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeranaias/evalchat/internal/config"
)

func newConfigCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change settings",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file location",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				fmt.Fprintln(cmd.OutOrStdout(), opts.displayPath())
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := opts.loadConfig()
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), cfg.String())
				return nil
			},
		},
		&cobra.Command{
			Use:   "keys",
			Short: "List the settable keys",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				for _, k := range config.GetAllKeys() {
					fmt.Fprintln(cmd.OutOrStdout(), k)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:     "get <key>",
			Short:   "Print one effective setting",
			Example: "  evalchat config get server.base_url",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := opts.loadConfig()
				if err != nil {
					return err
				}
				v, err := cfg.Get(args[0])
				if err != nil {
					return &ValidationError{Field: "key", Value: args[0], Reason: err.Error(), Example: "evalchat config keys"}
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			},
		},
		&cobra.Command{
			Use:     "set <key> <value>",
			Short:   "Change one setting in the config file",
			Example: "  evalchat config set server.base_url https://chat.example.com",
			Args:    cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return setConfigValue(opts.displayPath(), args[0], args[1])
			},
		},
	)
	return cmd
}

// setConfigValue edits the file at path only: environment overrides and
// flags are not written back.
func setConfigValue(path, key, value string) error {
	cfg := config.Default()
	if _, err := os.Stat(path); err == nil {
		if err := config.LoadTOML(cfg, path); err != nil {
			return &ConfigError{Path: path, Err: err}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return &ConfigError{Path: path, Err: err}
	}

	if err := cfg.Set(key, value); err != nil {
		return &ValidationError{Field: "key", Value: key, Reason: err.Error(), Example: "evalchat config keys"}
	}
	if err := cfg.Validate(); err != nil {
		return &ConfigError{Path: path, Err: err}
	}
	if err := config.SaveTOML(cfg, path); err != nil {
		return &ConfigError{Path: path, Err: err}
	}
	return nil
}

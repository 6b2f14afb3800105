// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/evalchat/internal/auth"
	"github.com/jeranaias/evalchat/internal/chat"
	"github.com/jeranaias/evalchat/internal/client"
	"github.com/jeranaias/evalchat/internal/config"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitUsageError   = 2
	ExitConfigError  = 3
	ExitAuthError    = 4
	ExitNetworkError = 5
	ExitTimeoutError = 8
)

// credentialHint follows every error caused by a missing or rejected token.
const credentialHint = "run 'evalchat token set' to sign in"

// =============================================================================
// ERROR TYPES
// =============================================================================

// ValidationError represents a validation failure for user input.
type ValidationError struct {
	Field   string
	Value   string
	Reason  string
	Example string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	if e.Value != "" {
		msg += fmt.Sprintf(" (got: %s)", e.Value)
	}
	if e.Example != "" {
		msg += fmt.Sprintf("\nExample: %s", e.Example)
	}
	return msg
}

// ConfigError wraps a failure to load or save the config file.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// GetExitCode maps err to a process exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var validationErr *ValidationError
	var configErr *ConfigError
	var validateErrs config.ValidateErrors
	switch {
	case errors.As(err, &validationErr):
		return ExitUsageError
	case errors.As(err, &configErr), errors.As(err, &validateErrs):
		return ExitConfigError
	case client.IsCredentialInvalid(err),
		errors.Is(err, chat.ErrNoCredential),
		errors.Is(err, client.ErrMissingCredentials),
		errors.Is(err, auth.ErrEmptyToken):
		return ExitAuthError
	}

	switch client.ErrorTypeOf(err) {
	case client.ErrTypeConnection, client.ErrTypeReaderUnavailable, client.ErrTypeStatus:
		return ExitNetworkError
	case client.ErrTypeTimeout:
		return ExitTimeoutError
	case client.ErrTypeInvalidRequest:
		return ExitUsageError
	}
	return ExitGeneralError
}

// DisplayError writes err to w, with a hint when signing in again would
// fix it.
func DisplayError(w io.Writer, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(w, "%s %v\n", ErrorStyle.Render("Error:"), err)
	if GetExitCode(err) == ExitAuthError {
		fmt.Fprintln(w, DimStyle.Render("Hint: "+credentialHint))
	}
}

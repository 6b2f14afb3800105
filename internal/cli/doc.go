// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the evalchat command line.
//
// # Commands
//
//	chat      Full-screen chat view
//	repl      Line-mode chat with input history
//	send      Send one message and stream the reply to stdout
//	history   Print a session's messages
//	token     set, clear or show the stored bearer token
//	config    path, show, keys, get and set
//	version   Print version information
//
// Every command returns its error to Execute, which prints it and maps it
// to an exit code with GetExitCode.
package cli

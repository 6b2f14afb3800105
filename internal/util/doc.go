// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the CLI, TUI and stores.
//
// # Key Functions
//
// Files:
//   - AtomicWriteFile: crash-safe write with fsync and rename
//   - AtomicWriteFileWithDir: same, with explicit directory permissions
//
// Strings:
//   - TruncateRunes: rune-safe truncation with ellipsis
//   - TruncateWidth, StringWidth, PadRight: terminal-column aware layout
//   - FirstLine: first non-blank line, for previews
//
// # Usage
//
//	err := util.AtomicWriteFile(path, data, 0600)
//	header := util.TruncateWidth(title, width)
package util

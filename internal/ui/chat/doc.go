// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the Bubble Tea chat view.
//
// The view owns no message state of its own beyond the last snapshot it
// received: every change flows through the session cache, which is bridged
// into the program with Subscribe. Sends run as tea.Cmds on their own
// goroutines; their streamed updates arrive as SnapshotMsg.
//
// # Usage
//
//	m := chat.New(chat.Options{Backend: orch, Tokens: tokens, SessionID: 42})
//	p := tea.NewProgram(m, tea.WithAltScreen())
//	unsubscribe := chat.Subscribe(store, p.Send)
//	defer unsubscribe()
//	_, err := p.Run()
package chat

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/evalchat/internal/cache"
)

// SnapshotMsg carries a cache snapshot into the program.
type SnapshotMsg struct {
	Snapshot cache.Snapshot
}

// sendDoneMsg reports the end of a send started by the view.
type sendDoneMsg struct {
	err error
}

// historyLoadedMsg reports the end of a session switch or reload.
type historyLoadedMsg struct {
	key cache.SessionKey
	err error
}

// Subscribe forwards every store mutation to send, typically
// (*tea.Program).Send. The returned function unsubscribes.
func Subscribe(store *cache.Store, send func(tea.Msg)) func() {
	return store.Subscribe(func(s cache.Snapshot) {
		send(SnapshotMsg{Snapshot: s})
	})
}

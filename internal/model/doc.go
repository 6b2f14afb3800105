// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat sessions and messages.
//
// This package defines the client-side message representation shared by the
// transport, the session cache and the UI, plus the wire types returned by
// the message listing endpoint.
//
// # Key Types
//
//   - Message: Single message with sender, text, timestamp and streaming/error flags
//   - Sender: Message author enumeration (user, bot)
//   - ServerMessage: One item of the server's paginated message listing
//
// # Usage
//
// Convert a server listing for display:
//
//	msgs := model.ToMessages(envelope.Data)
//	for _, m := range msgs {
//	    fmt.Printf("%s: %s\n", m.Sender.DisplayName(), m.Text)
//	}
package model

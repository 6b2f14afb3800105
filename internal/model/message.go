// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat sessions and messages.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jeranaias/evalchat/internal/util"
)

// ApologyText is shown in place of a bot reply when a send fails.
const ApologyText = "Sorry, something went wrong while generating a response. Please try again."

// localIDPrefix marks ids generated on the client before the server assigns one.
const localIDPrefix = "local-"

// =============================================================================
// SENDER TYPE
// =============================================================================

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// String returns the string representation of the sender.
func (s Sender) String() string {
	return string(s)
}

// DisplayName returns a human-readable name for the sender.
func (s Sender) DisplayName() string {
	switch s {
	case SenderUser:
		return "You"
	case SenderBot:
		return "Assistant"
	default:
		return string(s)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is one entry of a session's ordered message list.
//
// Messages are values: the cache hands out copies and replaces entries in
// place, so holding a Message never observes later streaming updates.
type Message struct {
	ID        string    `json:"id"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`

	// IsStreaming is set on the single trailing bot message while a reply
	// is still arriving.
	IsStreaming bool `json:"is_streaming,omitempty"`

	// IsError marks the apology message substituted for a failed reply.
	IsError bool `json:"is_error,omitempty"`

	// Provisional is true while ID is client-generated. The next
	// authoritative refetch replaces the message with the server's copy.
	Provisional bool `json:"provisional,omitempty"`
}

// NewUserMessage creates an optimistic user message with a local id.
func NewUserMessage(text string) Message {
	return Message{
		ID:          NewLocalID(),
		Sender:      SenderUser,
		Text:        text,
		Timestamp:   time.Now(),
		Provisional: true,
	}
}

// NewStreamingBotMessage creates the in-progress bot message for a reply.
func NewStreamingBotMessage(text string) Message {
	return Message{
		ID:          NewLocalID(),
		Sender:      SenderBot,
		Text:        text,
		Timestamp:   time.Now(),
		IsStreaming: true,
		Provisional: true,
	}
}

// NewErrorMessage creates the bot message shown when a send fails.
func NewErrorMessage() Message {
	return Message{
		ID:          NewLocalID(),
		Sender:      SenderBot,
		Text:        ApologyText,
		Timestamp:   time.Now(),
		IsError:     true,
		Provisional: true,
	}
}

// IsStreamingBot reports whether m is an in-progress bot reply.
func (m Message) IsStreamingBot() bool {
	return m.Sender == SenderBot && m.IsStreaming
}

// Preview returns the message text truncated to maxLen runes.
func (m Message) Preview(maxLen int) string {
	return util.TruncateRunes(m.Text, maxLen)
}

// =============================================================================
// IDS
// =============================================================================

// NewLocalID returns a time-ordered client id (UUIDv7) for optimistic entries.
func NewLocalID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source does.
		return localIDPrefix + uuid.NewString()
	}
	return localIDPrefix + id.String()
}

// IsLocalID reports whether id was generated by NewLocalID.
func IsLocalID(id string) bool {
	return len(id) > len(localIDPrefix) && strings.HasPrefix(id, localIDPrefix)
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// SERVER WIRE TYPES
// =============================================================================

// Server-side role names.
const (
	RoleUser      = "User"
	RoleAssistant = "Assistant"
)

// ServerMessage is one item of the message listing endpoint.
type ServerMessage struct {
	ID        FlexibleID `json:"id"`
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	CreatedAt string     `json:"created_at"`
	SessionID int64      `json:"session_id"`
}

// FlexibleID accepts an id encoded either as a JSON string or a JSON number.
type FlexibleID string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*f = FlexibleID(n.String())
	return nil
}

// SenderForRole maps a server role to a Sender. Only "User" is a user;
// every other role renders as the bot.
func SenderForRole(role string) Sender {
	if role == RoleUser {
		return SenderUser
	}
	return SenderBot
}

// ToMessage converts a server message into the client representation.
// An unparseable created_at falls back to the zero time.
func (s ServerMessage) ToMessage() Message {
	ts, _ := ParseServerTime(s.CreatedAt)
	return Message{
		ID:        string(s.ID),
		Sender:    SenderForRole(s.Role),
		Text:      s.Content,
		Timestamp: ts,
	}
}

// ToMessages converts a server listing, preserving order.
func ToMessages(items []ServerMessage) []Message {
	out := make([]Message, 0, len(items))
	for _, item := range items {
		out = append(out, item.ToMessage())
	}
	return out
}

// =============================================================================
// TIMESTAMPS
// =============================================================================

// ParseServerTime parses a created_at value. Timestamps without a zone
// suffix are server UTC, so "Z" is appended before parsing.
func ParseServerTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	// Accept the space-separated form some backends emit.
	if len(s) > 10 && s[10] == ' ' {
		s = s[:10] + "T" + s[11:]
	}
	if !hasZone(s) {
		s += "Z"
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

// hasZone reports whether an ISO-8601 timestamp ends in Z or a numeric offset.
func hasZone(s string) bool {
	last := s[len(s)-1]
	if last == 'Z' || last == 'z' {
		return true
	}
	t := strings.IndexByte(s, 'T')
	if t < 0 {
		return false
	}
	clock := s[t+1:]
	if i := strings.LastIndexAny(clock, "+-"); i >= 0 {
		offset := strings.ReplaceAll(clock[i+1:], ":", "")
		if _, err := strconv.Atoi(offset); err == nil && len(offset) == 4 {
			return true
		}
	}
	return false
}

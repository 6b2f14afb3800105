// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestNewUserMessage(t *testing.T) {
	msg := NewUserMessage("Hello")

	if msg.Sender != SenderUser {
		t.Errorf("Sender = %q, want 'user'", msg.Sender)
	}
	if msg.Text != "Hello" {
		t.Errorf("Text = %q, want 'Hello'", msg.Text)
	}
	if !IsLocalID(msg.ID) {
		t.Errorf("ID = %q, want local id", msg.ID)
	}
	if !msg.Provisional {
		t.Error("optimistic user message should be provisional")
	}
	if msg.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestNewStreamingBotMessage(t *testing.T) {
	msg := NewStreamingBotMessage("Hel")

	if !msg.IsStreamingBot() {
		t.Error("IsStreamingBot() should be true")
	}
	if msg.IsError {
		t.Error("streaming message should not be an error")
	}
}

func TestNewErrorMessage(t *testing.T) {
	msg := NewErrorMessage()

	if msg.Sender != SenderBot || !msg.IsError || msg.IsStreaming {
		t.Errorf("unexpected error message flags: %+v", msg)
	}
	if msg.Text != ApologyText {
		t.Errorf("Text = %q, want apology text", msg.Text)
	}
}

func TestNewLocalID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewLocalID()
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestIsLocalID(t *testing.T) {
	if IsLocalID("42") {
		t.Error("server id should not be local")
	}
	if IsLocalID("local-") {
		t.Error("bare prefix should not be local")
	}
}

func TestMessage_Preview(t *testing.T) {
	tests := []struct {
		text string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"hello world", 8, "hello..."},
		{"héllo wörld", 8, "héllo..."},
		{"abcdef", 2, "ab"},
	}

	for _, tc := range tests {
		got := Message{Text: tc.text}.Preview(tc.max)
		if got != tc.want {
			t.Errorf("Preview(%q, %d) = %q, want %q", tc.text, tc.max, got, tc.want)
		}
	}
}

func TestSender_DisplayName(t *testing.T) {
	if SenderUser.DisplayName() != "You" {
		t.Errorf("user display name = %q", SenderUser.DisplayName())
	}
	if SenderBot.DisplayName() != "Assistant" {
		t.Errorf("bot display name = %q", SenderBot.DisplayName())
	}
}

// =============================================================================
// SERVER CONVERSION TESTS
// =============================================================================

func TestToMessages_RoleMapping(t *testing.T) {
	raw := `[
		{"id": 1, "role": "User", "content": "hi", "created_at": "2025-03-01T10:00:00", "session_id": 7},
		{"id": "2", "role": "Assistant", "content": "hello", "created_at": "2025-03-01T10:00:05Z", "session_id": 7}
	]`

	var items []ServerMessage
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	msgs := ToMessages(items)
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}

	if msgs[0].Sender != SenderUser || msgs[1].Sender != SenderBot {
		t.Errorf("senders = %q,%q; want user,bot", msgs[0].Sender, msgs[1].Sender)
	}
	if msgs[0].ID != "1" || msgs[1].ID != "2" {
		t.Errorf("ids = %q,%q; want 1,2", msgs[0].ID, msgs[1].ID)
	}
	if msgs[0].Text != "hi" || msgs[1].Text != "hello" {
		t.Errorf("texts = %q,%q", msgs[0].Text, msgs[1].Text)
	}

	want := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	if !msgs[0].Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", msgs[0].Timestamp, want)
	}
	if msgs[0].Provisional || msgs[0].IsStreaming {
		t.Error("server messages are never provisional or streaming")
	}
}

func TestSenderForRole_UnknownIsBot(t *testing.T) {
	if SenderForRole("System") != SenderBot {
		t.Error("non-user roles should map to bot")
	}
	if SenderForRole("user") != SenderBot {
		t.Error("role matching is case-sensitive")
	}
}

func TestParseServerTime(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"naive", "2025-03-01T10:00:00", time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)},
		{"naive fractional", "2025-03-01T10:00:00.250000", time.Date(2025, 3, 1, 10, 0, 0, 250000000, time.UTC)},
		{"zulu", "2025-03-01T10:00:00Z", time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)},
		{"offset", "2025-03-01T12:00:00+02:00", time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)},
		{"space separated", "2025-03-01 10:00:00", time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseServerTime(tc.input)
			if err != nil {
				t.Fatalf("ParseServerTime(%q) error: %v", tc.input, err)
			}
			if !got.Equal(tc.want) {
				t.Errorf("ParseServerTime(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestParseServerTime_Invalid(t *testing.T) {
	for _, input := range []string{"", "   ", "yesterday"} {
		if _, err := ParseServerTime(input); err == nil {
			t.Errorf("ParseServerTime(%q) should fail", input)
		}
	}
}

func TestFlexibleID_RejectsObjects(t *testing.T) {
	var id FlexibleID
	err := json.Unmarshal([]byte(`{"x":1}`), &id)
	if err == nil || !strings.Contains(err.Error(), "string or number") {
		t.Errorf("expected id type error, got %v", err)
	}
}

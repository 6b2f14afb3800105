// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"encoding/json"
	"strings"
)

// =============================================================================
// EVENTS
// =============================================================================

// Event is one decoded object of the reply stream. The concrete type is one
// of ContentDelta, Resolved or Unclassified.
type Event interface {
	event()
}

// ContentDelta carries the next slice of the assistant's reply.
type ContentDelta struct {
	Text string
}

// Resolved carries a complete reply in the legacy one-shot format, together
// with the server-assigned message id.
type Resolved struct {
	ID       string
	FullText string
}

// Unclassified is an object the decoder could not use. It is reported so it
// can be logged and counted, never applied.
type Unclassified struct {
	Reason string
	Raw    json.RawMessage
}

func (ContentDelta) event() {}
func (Resolved) event()     {}
func (Unclassified) event() {}

// =============================================================================
// CLASSIFIER
// =============================================================================

// Wire constants of the partial-content chunk.
const (
	chunkStatusCode = 200
	chunkMessage    = "chunk received"
)

// assistantContentKeys are the accepted spellings of the legacy reply field.
var assistantContentKeys = []string{
	"assistant message content",
	"assistant_message_content",
	"assistant_message",
	"assistantMessageContent",
}

// Classify maps one parsed JSON object onto an Event. Two shapes are
// recognised:
//
//	{"status_code": 200, "message": "chunk received", "data": "..."}   -> ContentDelta
//	{"message": {"assistant_message_content": "...", "id": 12}}        -> Resolved
//
// Anything else, including invalid JSON, yields Unclassified. Classify never
// fails, so one bad object cannot abort a stream.
func Classify(raw json.RawMessage) Event {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Unclassified{Reason: "not a json object: " + err.Error(), Raw: raw}
	}

	if ev, ok := classifyChunk(fields); ok {
		return ev
	}
	if ev, ok := classifyLegacy(fields); ok {
		return ev
	}
	return Unclassified{Reason: "unrecognised shape", Raw: raw}
}

// classifyChunk recognises a partial-content chunk.
func classifyChunk(fields map[string]json.RawMessage) (Event, bool) {
	var status float64
	if err := json.Unmarshal(fields["status_code"], &status); err != nil || status != chunkStatusCode {
		return nil, false
	}
	var message string
	if err := json.Unmarshal(fields["message"], &message); err != nil || message != chunkMessage {
		return nil, false
	}
	data, present := fields["data"]
	if !present || !truthy(data) {
		return nil, false
	}
	return ContentDelta{Text: stringify(data)}, true
}

// classifyLegacy recognises a complete message in the older wire format.
func classifyLegacy(fields map[string]json.RawMessage) (Event, bool) {
	inner, present := fields["message"]
	if !present {
		return nil, false
	}
	var msg map[string]json.RawMessage
	if err := json.Unmarshal(inner, &msg); err != nil || msg == nil {
		return nil, false
	}

	rawID, hasID := msg["id"]
	if !hasID || isNull(rawID) {
		return nil, false
	}

	for _, key := range assistantContentKeys {
		content, ok := msg[key]
		if !ok {
			continue
		}
		return Resolved{ID: stringify(rawID), FullText: stringify(content)}, true
	}
	return nil, false
}

// =============================================================================
// JSON VALUE HELPERS
// =============================================================================

// truthy follows JavaScript truthiness: null, false, 0 and "" are falsy;
// every object and array is truthy.
func truthy(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return false
	}
	switch v[0] {
	case 'n', 'f':
		return false
	case 't', '{', '[':
		return true
	case '"':
		var s string
		return json.Unmarshal(v, &s) == nil && s != ""
	default:
		var f float64
		return json.Unmarshal(v, &f) == nil && f != 0
	}
}

// stringify renders a JSON value as text: strings verbatim, null as empty,
// everything else as its compact JSON encoding.
func stringify(v json.RawMessage) string {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || isNull(v) {
		return ""
	}
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return strings.TrimSpace(string(v))
	}
	return buf.String()
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

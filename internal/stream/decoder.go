// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ConnectingSentinel is written by the server before the first payload while
// the upstream model connection is being set up. It carries no data.
const ConnectingSentinel = "[CONNECTING]"

// MaxPendingSize bounds the pending buffer. An object that grows past it
// without closing ends the stream with ErrPendingOverflow.
// SECURITY: Prevents memory exhaustion from an unterminated object.
const MaxPendingSize = 4 * 1024 * 1024

// ErrPendingOverflow is returned by Feed once an unterminated object has
// outgrown MaxPendingSize. Object boundaries are lost at that point, so the
// decoder refuses all further input.
var ErrPendingOverflow = errors.New("pending object exceeded size limit")

// =============================================================================
// DECODER
// =============================================================================

// Decoder turns arbitrarily split fragments into Events. It owns the pending
// buffer: bytes not yet part of a complete object stay there across Feed
// calls.
type Decoder struct {
	pending string
	scanner boundaryScanner

	objects int
	err     error
}

// NewDecoder creates a decoder with an empty pending buffer.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends fragment to the pending buffer and emits one Event per
// complete object, in order. Every complete object is drained before Feed
// returns; an incomplete trailing object stays pending.
//
// Once the pending buffer overflows, Feed returns ErrPendingOverflow for
// this and every later call without emitting anything more.
func (d *Decoder) Feed(fragment []byte, emit func(Event)) error {
	if d.err != nil {
		return d.err
	}
	if len(fragment) == 0 || IsConnectingSentinel(fragment) {
		return nil
	}

	d.pending += string(fragment)

	for {
		end, ok := d.scanner.advance(d.pending)
		if !ok {
			break
		}

		object := d.pending[d.scanner.start : end+1]
		d.pending = d.pending[end+1:]
		d.scanner.reset()
		d.objects++

		emit(d.decode(object))
	}

	d.trimIdle()

	if len(d.pending) > MaxPendingSize {
		d.err = fmt.Errorf("%w (%d bytes buffered)", ErrPendingOverflow, len(d.pending))
		d.pending = ""
		d.scanner.reset()
		return d.err
	}
	return nil
}

// Err returns the error that stopped the decoder, if any.
func (d *Decoder) Err() error {
	return d.err
}

// decode parses one sliced object and classifies it.
func (d *Decoder) decode(object string) Event {
	raw := json.RawMessage(object)
	if !json.Valid(raw) {
		return Unclassified{Reason: "invalid json", Raw: raw}
	}
	return Classify(raw)
}

// trimIdle drops scanned bytes that lie outside any object (separators and
// stray closers), so an idle buffer is empty.
func (d *Decoder) trimIdle() {
	if d.scanner.depth == 0 && d.scanner.state == stateNormal && d.pending != "" {
		d.pending = ""
		d.scanner.reset()
	}
}

// Pending returns the bytes buffered but not yet part of a complete object.
func (d *Decoder) Pending() string {
	return d.pending
}

// Objects returns the number of complete objects sliced so far.
func (d *Decoder) Objects() int {
	return d.objects
}

// IsConnectingSentinel reports whether a fragment is only the connection
// sentinel, optionally surrounded by whitespace.
func IsConnectingSentinel(fragment []byte) bool {
	return strings.TrimSpace(string(fragment)) == ConnectingSentinel
}

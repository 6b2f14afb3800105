// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"strings"
	"time"
)

// =============================================================================
// STREAM ACCUMULATOR
// =============================================================================

// Update is what an applied Event publishes: always the complete text so far,
// never a diff, so a dropped publish is repaired by the next one.
type Update struct {
	Text       string
	ResolvedID string
	HasID      bool
}

// Accumulator folds Events into the reply text of one send.
type Accumulator struct {
	// PERFORMANCE: strings.Builder avoids quadratic allocations
	text       strings.Builder
	resolvedID string
	hasID      bool

	deltaCount   int
	startTime    time.Time
	firstEventAt time.Time
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{startTime: time.Now()}
}

// Apply folds ev into the accumulated state. It reports false for events
// that publish nothing (Unclassified).
func (a *Accumulator) Apply(ev Event) (Update, bool) {
	switch e := ev.(type) {
	case ContentDelta:
		a.recordFirstEvent()
		a.deltaCount++
		a.text.WriteString(e.Text)
	case Resolved:
		a.recordFirstEvent()
		a.text.WriteString(e.FullText)
		a.resolvedID = e.ID
		a.hasID = true
	default:
		return Update{}, false
	}

	return Update{
		Text:       a.text.String(),
		ResolvedID: a.resolvedID,
		HasID:      a.hasID,
	}, true
}

// Text returns the reply text accumulated so far.
func (a *Accumulator) Text() string {
	return a.text.String()
}

// ResolvedID returns the server-assigned id, if a legacy complete message
// supplied one. Pure delta streams never resolve an id.
func (a *Accumulator) ResolvedID() (string, bool) {
	return a.resolvedID, a.hasID
}

// DeltaCount returns the number of ContentDelta events applied.
func (a *Accumulator) DeltaCount() int {
	return a.deltaCount
}

// TimeToFirstEvent returns the delay before the first applied event, or zero
// if none arrived.
func (a *Accumulator) TimeToFirstEvent() time.Duration {
	if a.firstEventAt.IsZero() {
		return 0
	}
	return a.firstEventAt.Sub(a.startTime)
}

func (a *Accumulator) recordFirstEvent() {
	if a.firstEventAt.IsZero() {
		a.firstEventAt = time.Now()
	}
}

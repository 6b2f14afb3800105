// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream decodes the chat service's incremental reply stream.
//
// The server writes JSON objects back to back with no delimiter, and the
// transport hands them over in arbitrary fragments. This package finds the
// object boundaries, classifies each object and folds the result into the
// text shown to the user.
//
// # Key Types
//
//   - Decoder: Pending buffer that turns raw fragments into Events
//   - Event: ContentDelta, Resolved or Unclassified
//   - Accumulator: Reducer from Events to the full reply text
//
// # Usage
//
//	dec := stream.NewDecoder()
//	acc := stream.NewAccumulator()
//	err := dec.Feed(fragment, func(ev stream.Event) {
//	    if u, ok := acc.Apply(ev); ok {
//	        render(u.Text)
//	    }
//	})
//	if err != nil {
//	    return err // stream.ErrPendingOverflow
//	}
//
// None of the types are safe for concurrent use; one send owns one Decoder
// and one Accumulator.
package stream

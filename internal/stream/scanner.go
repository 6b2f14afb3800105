// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

// =============================================================================
// OBJECT BOUNDARY SCANNER
// =============================================================================

// scanState is the lexical state of the boundary scanner.
type scanState int

const (
	stateNormal scanState = iota
	stateInString
	stateInStringEscaped
)

// boundaryScanner locates the end of the first complete JSON object in a
// growing buffer. It remembers its position and state, so feeding it the
// same buffer with more bytes appended resumes where it stopped instead of
// rescanning.
type boundaryScanner struct {
	state scanState
	depth int
	pos   int
	start int // index of the opening brace of the current object
}

// advance scans buf from the last position. It returns the inclusive index
// of the closing brace of the first complete object, or ok=false when the
// object is still open. buf must extend the buffer previously scanned.
func (s *boundaryScanner) advance(buf string) (end int, ok bool) {
	for ; s.pos < len(buf); s.pos++ {
		c := buf[s.pos]

		switch s.state {
		case stateInStringEscaped:
			// The escaped byte is consumed unconditionally.
			s.state = stateInString

		case stateInString:
			switch c {
			case '\\':
				s.state = stateInStringEscaped
			case '"':
				s.state = stateNormal
			}

		case stateNormal:
			switch c {
			case '"':
				s.state = stateInString
			case '{':
				if s.depth == 0 {
					s.start = s.pos
				}
				s.depth++
			case '}':
				if s.depth == 0 {
					// Stray closer before any object; not ours to balance.
					continue
				}
				s.depth--
				if s.depth == 0 {
					end = s.pos
					s.pos++
					return end, true
				}
			}
		}
	}
	return -1, false
}

// reset prepares the scanner for a new buffer.
func (s *boundaryScanner) reset() {
	*s = boundaryScanner{}
}

// FindObjectEnd returns the index of the closing brace of the first
// complete JSON object in buf. Braces and quotes inside string literals are
// ignored. ok is false when no object has closed yet, meaning more input is
// needed.
func FindObjectEnd(buf string) (end int, ok bool) {
	var s boundaryScanner
	return s.advance(buf)
}

// Package partialjson provides best-effort decoding of truncated JSON documents.
//
// Model providers stream JSON character by character, so at almost every point
// in time the accumulated buffer is not yet a valid document. Parse returns the
// closest valid structural interpretation of such a buffer: prose around the
// document is ignored, an unterminated trailing string is dropped, dangling
// keys and commas are cut, and unclosed braces and brackets are closed.
//
// Parse is a pure function. Calling it repeatedly on growing prefixes of the
// same document yields monotonically more complete results.
package partialjson

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNotParseable is returned when the input contains no JSON document prefix
// that can be given a reasonable interpretation yet.
var ErrNotParseable = errors.New("partialjson: no parseable document yet")

type frame struct {
	closer    byte
	expectKey bool
}

// Parse decodes the given buffer into its best-effort structural
// interpretation. It never panics, regardless of input.
func Parse(s string) (interface{}, error) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return nil, ErrNotParseable
	}

	doc, ok := repair(s[start:])
	if !ok {
		return nil, ErrNotParseable
	}

	var v interface{}
	if err := json.Unmarshal([]byte(doc), &v); err != nil {
		return nil, ErrNotParseable
	}
	return v, nil
}

// repair scans the document prefix and returns a syntactically valid document.
// The scan tracks the last position at which a value was complete; anything
// after that point (a dangling key, a lone colon, an unterminated string) is
// cut, and the containers open at that position are closed.
func repair(s string) (string, bool) {
	var stack []frame

	switch s[0] {
	case '{':
		stack = append(stack, frame{closer: '}', expectKey: true})
	case '[':
		stack = append(stack, frame{closer: ']'})
	default:
		return "", false
	}

	// lastComplete is the index just past the most recently completed value;
	// lastClosers snapshots the open containers at that point.
	lastComplete := 1
	lastClosers := closersOf(stack)

	i := 1
	for i < len(s) {
		c := s[i]
		top := &stack[len(stack)-1]

		switch c {
		case '"':
			end, terminated := scanString(s, i)
			if !terminated {
				// Unterminated trailing string: dropped.
				return finish(s, lastComplete, lastClosers), true
			}
			if !(top.closer == '}' && top.expectKey) {
				lastComplete = end
				lastClosers = closersOf(stack)
			}
			i = end

		case ':':
			top.expectKey = false
			i++

		case ',':
			if top.closer == '}' {
				top.expectKey = true
			}
			i++

		case '{':
			stack = append(stack, frame{closer: '}', expectKey: true})
			i++

		case '[':
			stack = append(stack, frame{closer: ']'})
			i++

		case '}', ']':
			stack = stack[:len(stack)-1]
			i++
			if len(stack) == 0 {
				// Document closed; trailing prose is ignored.
				return s[:i], true
			}
			lastComplete = i
			lastClosers = closersOf(stack)

		case ' ', '\t', '\n', '\r':
			i++

		default:
			end, complete := scanScalar(s, i)
			if complete {
				lastComplete = end
				lastClosers = closersOf(stack)
			}
			i = end
		}
	}

	return finish(s, lastComplete, lastClosers), true
}

// finish cuts the buffer at the last complete value and closes open containers.
func finish(s string, lastComplete int, closers []byte) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(s[:lastComplete], " \t\n\r,"))
	for j := len(closers) - 1; j >= 0; j-- {
		b.WriteByte(closers[j])
	}
	return b.String()
}

// closersOf snapshots the closing bytes for the currently open containers.
func closersOf(stack []frame) []byte {
	cs := make([]byte, len(stack))
	for i, f := range stack {
		cs[i] = f.closer
	}
	return cs
}

// scanString scans a string literal starting at the opening quote. Returns the
// index just past the closing quote and whether the string was terminated.
func scanString(s string, start int) (int, bool) {
	i := start + 1
	for i < len(s) {
		switch s[i] {
		case '\\':
			i += 2
		case '"':
			return i + 1, true
		default:
			i++
		}
	}
	return len(s), false
}

// scanScalar scans a number, true, false, or null starting at the given index.
// The scalar is complete only when followed by a delimiter; a scalar running
// into the end of the buffer may still be growing.
func scanScalar(s string, start int) (int, bool) {
	i := start
	for i < len(s) && !isDelimiter(s[i]) {
		i++
	}
	if i == len(s) {
		return i, false
	}
	return i, validScalar(s[start:i])
}

func isDelimiter(c byte) bool {
	switch c {
	case ',', '}', ']', ' ', '\t', '\n', '\r':
		return true
	}
	return false
}

func validScalar(tok string) bool {
	switch tok {
	case "true", "false", "null":
		return true
	}
	return json.Valid([]byte(tok))
}

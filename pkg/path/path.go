// Package path implements the escaped, hierarchical path model used to
// address coordination entries. A Path is an ordered, immutable sequence of
// non-empty Unicode-scalar segments; the root path is the empty sequence.
package path

import (
	"strings"

	"github.com/zoolite/zoolite/pkg/coorderr"
)

const (
	separator       = '/'
	altSeparator    = '\\'
	escapeChar      = '\x1b'
	escapeSeparator = 'X'
	escapeAlt       = 'Y'
	escapeEscape    = escapeChar
)

// Path is an immutable sequence of path segments. The zero value is the
// root path. Path values are safe to share across goroutines.
type Path struct {
	segments []string
}

// Root returns the root path (the empty segment sequence).
func Root() Path {
	return Path{}
}

// IsRoot reports whether p is the root path.
func (p Path) IsRoot() bool {
	return len(p.segments) == 0
}

// Append returns a new path with segment appended as the last element.
// The original path is left unmodified; the returned path shares no
// backing array with p's tail, so subsequent appends to p are unaffected.
func (p Path) Append(segment string) Path {
	next := make([]string, len(p.segments)+1)
	copy(next, p.segments)
	next[len(p.segments)] = segment
	return Path{segments: next}
}

// Parent returns the path with its last segment removed, and true, unless p
// is already the root, in which case it returns the root path and false.
func (p Path) Parent() (Path, bool) {
	if len(p.segments) == 0 {
		return Path{}, false
	}
	return Path{segments: p.segments[:len(p.segments)-1]}, true
}

// LastSegment returns the final segment of p and true, unless p is the
// root, in which case it returns "" and false.
func (p Path) LastSegment() (string, bool) {
	if len(p.segments) == 0 {
		return "", false
	}
	return p.segments[len(p.segments)-1], true
}

// Segments returns a copy of p's segment list.
func (p Path) Segments() []string {
	out := make([]string, len(p.segments))
	copy(out, p.segments)
	return out
}

// Len returns the number of segments in p.
func (p Path) Len() int {
	return len(p.segments)
}

// Equal reports whether p and other denote the same path.
func (p Path) Equal(other Path) bool {
	if len(p.segments) != len(other.segments) {
		return false
	}
	for i := range p.segments {
		if p.segments[i] != other.segments[i] {
			return false
		}
	}
	return true
}

// Less defines a lexicographic ordering over unescaped segments, suitable
// for sorted iteration (e.g. deterministic recursive-delete ordering).
func (p Path) Less(other Path) bool {
	n := len(p.segments)
	if len(other.segments) < n {
		n = len(other.segments)
	}
	for i := 0; i < n; i++ {
		if p.segments[i] != other.segments[i] {
			return p.segments[i] < other.segments[i]
		}
	}
	return len(p.segments) < len(other.segments)
}

// IsChildOf reports whether p's parent equals candidate, i.e. p is a direct
// child of candidate in the coordination namespace.
func (p Path) IsChildOf(candidate Path) bool {
	parent, ok := p.Parent()
	if !ok {
		return false
	}
	return parent.Equal(candidate)
}

// HasPrefix reports whether candidate is an ancestor of (or equal to) p.
func (p Path) HasPrefix(candidate Path) bool {
	if len(candidate.segments) > len(p.segments) {
		return false
	}
	for i, seg := range candidate.segments {
		if p.segments[i] != seg {
			return false
		}
	}
	return true
}

// escapeSegment replaces reserved characters in segment with their two
// character escape sequences, per the wire escaping scheme:
// '/' -> ESC X, '\' -> ESC Y, ESC -> ESC ESC.
func escapeSegment(segment string) string {
	var b strings.Builder
	b.Grow(len(segment))
	for _, r := range segment {
		switch r {
		case separator:
			b.WriteRune(escapeChar)
			b.WriteRune(escapeSeparator)
		case altSeparator:
			b.WriteRune(escapeChar)
			b.WriteRune(escapeAlt)
		case escapeChar:
			b.WriteRune(escapeChar)
			b.WriteRune(escapeEscape)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// unescapeSegment is the left inverse of escapeSegment. It returns
// MalformedPath if raw is a raw separator/alt-separator or contains an
// escape byte followed by anything other than X, Y, or the escape byte
// itself.
func unescapeSegment(raw string) (string, error) {
	var b strings.Builder
	b.Grow(len(raw))
	runes := []rune(raw)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case separator, altSeparator:
			return "", coorderr.Malformed(raw, "raw separator in escaped segment")
		case escapeChar:
			if i+1 >= len(runes) {
				return "", coorderr.Malformed(raw, "trailing escape character")
			}
			i++
			switch runes[i] {
			case escapeSeparator:
				b.WriteRune(separator)
			case escapeAlt:
				b.WriteRune(altSeparator)
			case escapeEscape:
				b.WriteRune(escapeChar)
			default:
				return "", coorderr.Malformed(raw, "escape followed by non-reserved character")
			}
		default:
			b.WriteRune(r)
		}
	}
	return b.String(), nil
}

// Escape serializes p as a single '/'-joined string of escaped segments,
// prefixed with a leading '/'. Escape never produces a raw, unescaped
// separator within a segment.
func (p Path) Escape() string {
	if len(p.segments) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, seg := range p.segments {
		b.WriteByte(separator)
		b.WriteString(escapeSegment(seg))
	}
	return b.String()
}

// Parse parses an escaped path string produced by Escape (or an equivalent
// encoder). It fails with MalformedPath if any segment is malformed.
func Parse(s string) (Path, error) {
	if s == "" || s == "/" {
		return Root(), nil
	}
	if s[0] != separator {
		return Path{}, coorderr.Malformed(s, "path must be rooted")
	}

	var segments []string
	var current strings.Builder
	runes := []rune(s[1:])
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case separator:
			unescaped, err := unescapeSegment(current.String())
			if err != nil {
				return Path{}, err
			}
			if unescaped == "" {
				return Path{}, coorderr.Malformed(s, "empty segment")
			}
			segments = append(segments, unescaped)
			current.Reset()
		case altSeparator:
			return Path{}, coorderr.Malformed(s, "raw alternate separator outside escape sequence")
		case escapeChar:
			current.WriteRune(r)
			if i+1 < len(runes) {
				i++
				current.WriteRune(runes[i])
			}
		default:
			current.WriteRune(r)
		}
	}
	unescaped, err := unescapeSegment(current.String())
	if err != nil {
		return Path{}, err
	}
	if unescaped == "" {
		return Path{}, coorderr.Malformed(s, "empty segment")
	}
	segments = append(segments, unescaped)

	return Path{segments: segments}, nil
}

// ParseSegment unescapes a single escaped segment (no leading separator),
// for use by tests and callers that validate one segment in isolation.
func ParseSegment(escaped string) (string, error) {
	return unescapeSegment(escaped)
}

// EscapeSegment escapes a single raw segment in isolation.
func EscapeSegment(segment string) string {
	return escapeSegment(segment)
}

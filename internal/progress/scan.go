package progress

import (
	"encoding/json"
	"strings"
)

// callState is the per-call buffer plus an incremental scanner over the
// top-level object. The scanner only needs to know when each top-level
// value ends, so nested content is tracked by depth alone.
type callState struct {
	tool     string
	buf      strings.Builder
	overflow bool

	depth     int
	inString  bool
	escape    bool
	broken    bool
	complete  bool
	expectKey bool
	inKey     bool
	key       strings.Builder
	current   string

	// Value state for the current top-level field.
	inValue     bool
	stringValue bool
	scalar      bool

	closed []string
}

func (s *callState) isClosed(field string) bool {
	for _, f := range s.closed {
		if f == field {
			return true
		}
	}
	return false
}

func (s *callState) closeField() {
	if s.current != "" && !s.isClosed(s.current) {
		s.closed = append(s.closed, s.current)
	}
	s.inValue = false
	s.stringValue = false
	s.scalar = false
}

func (s *callState) scan(c byte) {
	if s.broken || s.complete {
		return
	}
	if s.inString {
		s.scanString(c)
		return
	}

	switch c {
	case ' ', '\t', '\n', '\r':
		return
	case '{', '[':
		if s.depth == 0 {
			if c != '{' {
				s.broken = true
				return
			}
			s.depth = 1
			s.expectKey = true
			return
		}
		if s.depth == 1 {
			s.inValue = true
		}
		s.depth++
	case '}', ']':
		s.depth--
		switch {
		case s.depth < 0:
			s.broken = true
		case s.depth == 1 && s.inValue:
			s.closeField()
		case s.depth == 0:
			if s.scalar {
				s.closeField()
			}
			s.complete = true
		}
	case '"':
		s.inString = true
		if s.depth == 1 && s.expectKey {
			s.inKey = true
			s.expectKey = false
			s.key.Reset()
		} else if s.depth == 1 {
			s.inValue = true
			s.stringValue = true
		}
	case ':':
		if s.depth == 1 {
			s.inValue = false
		}
	case ',':
		if s.depth == 1 {
			if s.scalar {
				s.closeField()
			}
			s.expectKey = true
			s.inValue = false
		}
	default:
		if s.depth == 0 {
			s.broken = true
			return
		}
		if s.depth == 1 && !s.inValue && !s.expectKey {
			s.inValue = true
			s.scalar = true
		}
	}
}

func (s *callState) scanString(c byte) {
	if s.escape {
		s.escape = false
		if s.inKey {
			s.key.WriteByte('\\')
			s.key.WriteByte(c)
		}
		return
	}
	switch c {
	case '\\':
		s.escape = true
	case '"':
		s.inString = false
		if s.inKey {
			s.inKey = false
			s.current = decodeKey(s.key.String())
		} else if s.depth == 1 && s.stringValue {
			s.closeField()
		}
	default:
		if s.inKey {
			s.key.WriteByte(c)
		}
	}
}

// decodeKey resolves JSON escapes in a raw key. A key that does not decode
// is kept as written.
func decodeKey(raw string) string {
	if !strings.Contains(raw, `\`) {
		return raw
	}
	var key string
	if err := json.Unmarshal([]byte(`"`+raw+`"`), &key); err != nil {
		return raw
	}
	return key
}

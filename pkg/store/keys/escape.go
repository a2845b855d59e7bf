package keys

// Variable length fields are escaped so that a field can be followed by more
// fields without two different tuples producing the same bytes, and so that
// byte order of the encoding equals byte order of the raw strings.
const (
	escMarker  = 0x00
	escEscaped = 0xFF
	escTerm    = 0x01
)

func appendEscaped(dst []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == escMarker {
			dst = append(dst, escMarker, escEscaped)
			continue
		}
		dst = append(dst, c)
	}
	return append(dst, escMarker, escTerm)
}

// readEscaped consumes one escaped field and returns it with the remaining
// bytes. ok is false when the field is unterminated or carries an invalid
// escape sequence.
func readEscaped(b []byte) (field string, rest []byte, ok bool) {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c != escMarker {
			out = append(out, c)
			continue
		}
		if i+1 >= len(b) {
			return "", nil, false
		}
		switch b[i+1] {
		case escEscaped:
			out = append(out, escMarker)
			i++
		case escTerm:
			return string(out), b[i+2:], true
		default:
			return "", nil, false
		}
	}
	return "", nil, false
}

// escapedLen is the encoded size of s.
func escapedLen(s string) int {
	n := len(s) + 2
	for i := 0; i < len(s); i++ {
		if s[i] == escMarker {
			n++
		}
	}
	return n
}

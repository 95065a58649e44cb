package xmlstream

import (
	"bytes"
	"unicode/utf8"
)

// Sanitize prepares one XML fragment for parsing: control characters that XML
// forbids become spaces, whitespace runs collapse to a single space, leading
// and trailing whitespace is dropped and invalid UTF-8 sequences are replaced.
// Applying it twice gives the same result as applying it once.
func Sanitize(b []byte) []byte {
	out := make([]byte, 0, len(b))
	pendingSpace := false
	for _, c := range b {
		if c < 0x20 && c != '\t' && c != '\n' && c != '\r' {
			c = ' '
		}
		switch c {
		case ' ', '\t', '\n', '\r':
			pendingSpace = true
		default:
			if pendingSpace && len(out) > 0 {
				out = append(out, ' ')
			}
			pendingSpace = false
			out = append(out, c)
		}
	}
	if !utf8.Valid(out) {
		out = bytes.ToValidUTF8(out, []byte("�"))
	}
	return out
}

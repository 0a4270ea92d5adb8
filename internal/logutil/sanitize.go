// Package logutil keeps client-controlled values from forging log lines.
package logutil

import (
	"strconv"
	"strings"
	"unicode"
)

// maxFieldLen caps how much of a single client-supplied value reaches a log line.
const maxFieldLen = 256

// SanitizeForLog flattens a client-supplied string onto a single log line.
// Line breaks and tabs become spaces, every other control character is
// dropped, and the result is truncated to maxFieldLen runes.
func SanitizeForLog(s string) string {
	var b strings.Builder
	b.Grow(min(len(s), maxFieldLen))
	n := 0
	for _, r := range s {
		if n == maxFieldLen {
			b.WriteString("...")
			break
		}
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteByte(' ')
		case unicode.IsControl(r):
			continue
		default:
			b.WriteRune(r)
		}
		n++
	}
	return b.String()
}

// QuoteBytes renders at most limit bytes of raw terminal data as a quoted Go
// string, so escape sequences show up as \x1b rather than acting on the
// reader's terminal.
func QuoteBytes(data []byte, limit int) string {
	if limit > 0 && len(data) > limit {
		return strconv.Quote(string(data[:limit])) + "..."
	}
	return strconv.Quote(string(data))
}

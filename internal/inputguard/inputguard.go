// Package inputguard polices bytes a remote client sends toward a terminal.
//
// The guard does not parse or emulate a terminal. It rejects oversized input
// and a fixed catalog of escape sequences: window title changes, clipboard
// writes, palette and color changes, device control strings, key remapping
// and soft reset. Everything else, including ordinary SGR and cursor movement,
// passes through untouched.
package inputguard

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/gluk-w/termrelay/internal/termsig"
)

// MaxInputSize is the largest input message, in bytes, that Validate accepts.
const MaxInputSize = 64 * 1024 // 64 KB

var (
	// ErrTooLarge is returned when input exceeds MaxInputSize.
	ErrTooLarge = errors.New("input too large")
	// ErrDangerousSequence is returned when input contains a catalogued
	// escape sequence.
	ErrDangerousSequence = errors.New("dangerous escape sequence")
)

// OSC strings end at BEL or at the two-byte string terminator ESC \. An
// unterminated OSC runs to the end of the input, which is how a terminal would
// consume it too.
//
// ESC P alone is also what Alt+Shift+P sends, so an unterminated DCS only
// counts when a parameter, intermediate or final byte follows the introducer.
const (
	oscBody = `(?:[^\x07\x1b]|\x1b[^\\])*`
	oscEnd  = `(?:\x07|\x1b\\|$)`
	dcsBody = `(?:[^\x1b]|\x1b[^\\])*`
	dcs     = `\x1bP(?:` + dcsBody + `\x1b\\|[\x20-\x7e]` + dcsBody + `$)`
)

type pattern struct {
	name string
	re   *regexp.Regexp
}

var catalog = []pattern{
	{"OSC title", regexp.MustCompile(`\x1b\][012];` + oscBody + oscEnd)},
	{"OSC clipboard write", regexp.MustCompile(`\x1b\]52;` + oscBody + oscEnd)},
	{"OSC palette set", regexp.MustCompile(`\x1b\]4;` + oscBody + oscEnd)},
	{"OSC foreground color", regexp.MustCompile(`\x1b\]10;` + oscBody + oscEnd)},
	{"OSC background color", regexp.MustCompile(`\x1b\]11;` + oscBody + oscEnd)},
	{"DCS", regexp.MustCompile(dcs)},
	{"CSI key remap", regexp.MustCompile(`\x1b\[[0-9;]*(?:"[^"]*"[0-9;]*)+p`)},
	{"CSI soft reset", regexp.MustCompile(`\x1b\[!p`)},
}

var anyDangerous = func() *regexp.Regexp {
	parts := make([]string, len(catalog))
	for i, p := range catalog {
		parts[i] = "(?:" + p.re.String() + ")"
	}
	return regexp.MustCompile(strings.Join(parts, "|"))
}()

// Validate reports whether data may be forwarded to a terminal. The returned
// error wraps ErrTooLarge or ErrDangerousSequence and its message is suitable
// for showing to the client.
func Validate(data []byte) error {
	if len(data) > MaxInputSize {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrTooLarge, len(data), MaxInputSize)
	}
	for _, p := range catalog {
		if p.re.Match(data) {
			return fmt.Errorf("%w: %s", ErrDangerousSequence, p.name)
		}
	}
	return nil
}

// Sanitize returns a copy of data with every catalogued sequence removed,
// terminators included. All other bytes keep their original order.
func Sanitize(data []byte) []byte {
	out := anyDangerous.ReplaceAll(data, nil)
	if out == nil {
		return []byte{}
	}
	return out
}

// IsControlByte reports whether b is a non-printable C0 control byte or DEL.
func IsControlByte(b byte) bool {
	return b < 0x20 || b == 0x7f
}

// IsControlInput reports whether data is exactly one control byte. Printable
// text, spaces and multi-byte input are never control input.
func IsControlInput(data []byte) bool {
	return len(data) == 1 && IsControlByte(data[0])
}

var controlSignals = map[byte]termsig.Signal{
	0x03: termsig.SIGINT,  // Ctrl-C
	0x04: termsig.EOF,     // Ctrl-D
	0x1a: termsig.SIGTSTP, // Ctrl-Z
	0x1c: termsig.SIGQUIT, // Ctrl-\
}

// ControlSignalFor returns the logical signal a keyboard control byte stands
// for. Only Ctrl-C, Ctrl-D, Ctrl-Z and Ctrl-\ have one.
func ControlSignalFor(b byte) (termsig.Signal, bool) {
	sig, ok := controlSignals[b]
	return sig, ok
}

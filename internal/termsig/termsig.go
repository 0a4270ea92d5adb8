// Package termsig names the logical signals a terminal client may request.
//
// Four of them map to POSIX signals delivered to the process group. EOF is
// not an OS signal at all: it is delivered by writing the end-of-transmission
// byte (0x04) to the pty so the line discipline closes the reader's input.
package termsig

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Signal is a logical signal name as it appears on the wire.
type Signal string

const (
	SIGINT  Signal = "SIGINT"
	SIGTERM Signal = "SIGTERM"
	SIGQUIT Signal = "SIGQUIT"
	SIGTSTP Signal = "SIGTSTP"
	EOF     Signal = "EOF"
)

// EOTByte is written to the pty in place of an OS signal for EOF.
const EOTByte byte = 0x04

// ErrUnknownSignal is returned for signal names outside the fixed table.
var ErrUnknownSignal = errors.New("unknown signal")

var osSignals = map[Signal]unix.Signal{
	SIGINT:  unix.SIGINT,
	SIGTERM: unix.SIGTERM,
	SIGQUIT: unix.SIGQUIT,
	SIGTSTP: unix.SIGTSTP,
}

// Parse validates a wire signal name.
func Parse(name string) (Signal, error) {
	sig := Signal(name)
	if sig == EOF {
		return sig, nil
	}
	if _, ok := osSignals[sig]; ok {
		return sig, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSignal, name)
}

// OSSignal returns the POSIX signal for s. The second result is false for EOF
// and for names that are not in the table.
func (s Signal) OSSignal() (unix.Signal, bool) {
	sig, ok := osSignals[s]
	return sig, ok
}

func (s Signal) String() string { return string(s) }

package termsession

import (
	"sync"

	"github.com/gluk-w/termrelay/internal/termsig"
)

// fakeTerminal is an in-memory Terminal for registry and session tests.
type fakeTerminal struct {
	mu      sync.Mutex
	written []byte
	rows    uint16
	cols    uint16
	signals []termsig.Signal
	exited  bool
	closed  int
	out     chan []byte
}

func newFakeTerminal() *fakeTerminal {
	return &fakeTerminal{out: make(chan []byte, 16)}
}

func (f *fakeTerminal) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, p...)
	return len(p), nil
}

func (f *fakeTerminal) Resize(rows, cols uint16) error {
	f.mu.Lock()
	f.rows, f.cols = rows, cols
	f.mu.Unlock()
	return nil
}

func (f *fakeTerminal) SendSignal(sig termsig.Signal) error {
	f.mu.Lock()
	f.signals = append(f.signals, sig)
	f.mu.Unlock()
	return nil
}

func (f *fakeTerminal) StreamOutput() <-chan []byte { return f.out }

func (f *fakeTerminal) Exited() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exited
}

func (f *fakeTerminal) setExited() {
	f.mu.Lock()
	f.exited = true
	f.mu.Unlock()
}

func (f *fakeTerminal) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func (f *fakeTerminal) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTerminal) writtenString() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.written)
}

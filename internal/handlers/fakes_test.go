package handlers

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gluk-w/termrelay/internal/protocol"
	"github.com/gluk-w/termrelay/internal/termsig"
)

// fakeTerminal records what the handler does to the process side.
type fakeTerminal struct {
	mu      sync.Mutex
	writes  [][]byte
	resizes [][2]uint16
	signals []termsig.Signal
	exited  bool
	closed  int

	// closeGate, when set, holds Close until it is closed.
	closeGate chan struct{}

	out      chan []byte
	outClose sync.Once
}

func newFakeTerminal() *fakeTerminal {
	return &fakeTerminal{out: make(chan []byte, 64)}
}

func (f *fakeTerminal) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakeTerminal) Resize(rows, cols uint16) error {
	f.mu.Lock()
	f.resizes = append(f.resizes, [2]uint16{rows, cols})
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

// exit marks the process gone and ends its output stream.
func (f *fakeTerminal) exit() {
	f.mu.Lock()
	f.exited = true
	f.mu.Unlock()
	f.outClose.Do(func() { close(f.out) })
}

func (f *fakeTerminal) Close() error {
	if f.closeGate != nil {
		<-f.closeGate
	}
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func (f *fakeTerminal) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeTerminal) written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var s string
	for _, w := range f.writes {
		s += string(w)
	}
	return s
}

func (f *fakeTerminal) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeConn is an in-memory Conn. Closing in simulates a client disconnect.
type fakeConn struct {
	in      chan []byte
	inClose sync.Once
	out     chan []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 256), out: make(chan []byte, 1024)}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case msg, ok := <-c.in:
		if !ok {
			return nil, io.EOF
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, msg []byte) error {
	select {
	case c.out <- append([]byte(nil), msg...):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeConn) disconnect() {
	c.inClose.Do(func() { close(c.in) })
}

func (c *fakeConn) sendJSON(t *testing.T, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	c.in <- b
}

// outbound is a decoded server message; fields are a union of all variants.
type outbound struct {
	Type      protocol.Type      `json:"type"`
	Data      string             `json:"data"`
	Code      protocol.ErrorCode `json:"code"`
	Message   string             `json:"message"`
	SessionID string             `json:"session_id"`
	Created   bool               `json:"created"`
}

// next waits for the next outbound message.
func (c *fakeConn) next(t *testing.T) outbound {
	t.Helper()
	select {
	case raw := <-c.out:
		var m outbound
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("decode outbound %q: %v", raw, err)
		}
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for outbound message")
		return outbound{}
	}
}

// drain returns every outbound message currently queued.
func (c *fakeConn) drain(t *testing.T) []outbound {
	t.Helper()
	var msgs []outbound
	for {
		select {
		case raw := <-c.out:
			var m outbound
			if err := json.Unmarshal(raw, &m); err != nil {
				t.Fatalf("decode outbound %q: %v", raw, err)
			}
			msgs = append(msgs, m)
		default:
			return msgs
		}
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

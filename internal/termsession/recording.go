package termsession

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// castHeader is the first line of an asciinema v2 recording.
type castHeader struct {
	Version   int               `json:"version"`
	Width     uint16            `json:"width"`
	Height    uint16            `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Env       map[string]string `json:"env,omitempty"`
}

// Recording streams timestamped terminal I/O to an asciinema v2 file.
// It is safe for concurrent use. After Close, further events are dropped.
type Recording struct {
	mu        sync.Mutex
	f         *os.File
	w         *bufio.Writer
	startTime time.Time
	events    int
	closed    bool
}

// NewRecording creates <dir>/<sessionID>.cast and writes the header.
func NewRecording(dir, sessionID string, rows, cols uint16) (*Recording, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}
	path := filepath.Join(dir, sessionID+".cast")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}

	now := time.Now()
	r := &Recording{f: f, w: bufio.NewWriter(f), startTime: now}
	header, _ := json.Marshal(castHeader{
		Version:   2,
		Width:     cols,
		Height:    rows,
		Timestamp: now.Unix(),
		Env:       map[string]string{"TERM": "xterm-256color"},
	})
	r.w.Write(header)
	r.w.WriteByte('\n')
	return r, nil
}

// RecordOutput adds an output ("o") event.
func (r *Recording) RecordOutput(data []byte) { r.record("o", data) }

// RecordInput adds an input ("i") event.
func (r *Recording) RecordInput(data []byte) { r.record("i", data) }

func (r *Recording) record(kind string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	line, err := json.Marshal([]any{time.Since(r.startTime).Seconds(), kind, string(data)})
	if err != nil {
		return
	}
	r.w.Write(line)
	r.w.WriteByte('\n')
	r.events++
}

// EventCount returns the number of recorded events.
func (r *Recording) EventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events
}

// Path returns the recording file path.
func (r *Recording) Path() string {
	return r.f.Name()
}

// Close flushes and closes the file. It is safe to call more than once.
func (r *Recording) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.w.Flush(); err != nil {
		r.f.Close()
		return fmt.Errorf("flush recording: %w", err)
	}
	return r.f.Close()
}

// Package ptyproc runs one OS process attached to a pseudo-terminal.
//
// The process is started as a session leader with its own process group so
// that signals reach the whole job, the way a real terminal delivers them.
// A reader goroutine drains the pty master and a pump goroutine forwards its
// chunks to the output channel; writers never share a lock with either, so
// input keeps flowing while output is being read. The output channel ends at
// EOF or, once the process has been reaped, after the master stays quiet for
// a short grace period, so a background job that still holds the slave open
// cannot keep the stream alive.
package ptyproc

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/gluk-w/termrelay/internal/termsig"
)

// State is the lifecycle position of a Process.
type State int

const (
	StateCreated State = iota
	StateRunning
	StateExited
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

const (
	// DefaultCloseTimeout is how long Close waits after SIGTERM before it
	// escalates to SIGKILL.
	DefaultCloseTimeout = 3 * time.Second

	defaultRows = 24
	defaultCols = 80

	killGrace = 2 * time.Second

	// exitDrainGrace is how long output may stay idle after the process is
	// reaped before the stream is ended.
	exitDrainGrace    = 200 * time.Millisecond
	groupPollInterval = 20 * time.Millisecond

	readBufferSize = 32 * 1024
	outputBacklog  = 64
)

var (
	// ErrSpawn wraps any failure to start the process.
	ErrSpawn = errors.New("process spawn failed")
	// ErrNotStarted is returned by operations on a Process that was never started.
	ErrNotStarted = errors.New("process not started")
)

// Options describes the process to launch.
type Options struct {
	// Command is the argv of the process. Command[0] is resolved via PATH.
	Command []string
	// Dir is the working directory. Empty means the caller's directory.
	Dir string
	// Env is the complete environment. Nil inherits the caller's environment.
	Env []string
	// Rows and Cols set the initial window size. Zero picks 24x80.
	Rows, Cols uint16
	// CloseTimeout bounds the graceful phase of Close. Zero picks
	// DefaultCloseTimeout.
	CloseTimeout time.Duration
}

// Process is a running command and the master side of its pty.
type Process struct {
	opts Options

	cmd  *exec.Cmd
	ptmx *os.File

	mu      sync.Mutex
	state   State
	rows    uint16
	cols    uint16
	exit    int
	exitSet bool

	writeMu sync.Mutex

	readMu  sync.Mutex
	pending []byte
	stream  <-chan []byte // set by the first StreamOutput call

	raw      chan []byte   // reader → pump
	out      chan []byte   // pump → consumers
	done     chan struct{} // closed by Close to release the pump
	pumpDone chan struct{} // closed when the pump stops forwarding
	waitDone chan struct{} // closed when cmd.Wait returns

	closeOnce sync.Once
}

// New prepares a Process without starting it.
func New(opts Options) *Process {
	if opts.Rows == 0 {
		opts.Rows = defaultRows
	}
	if opts.Cols == 0 {
		opts.Cols = defaultCols
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = DefaultCloseTimeout
	}
	return &Process{
		opts:     opts,
		state:    StateCreated,
		rows:     opts.Rows,
		cols:     opts.Cols,
		raw:      make(chan []byte),
		out:      make(chan []byte, outputBacklog),
		done:     make(chan struct{}),
		pumpDone: make(chan struct{}),
		waitDone: make(chan struct{}),
	}
}

// Start creates and starts a Process in one step.
func Start(opts Options) (*Process, error) {
	p := New(opts)
	if err := p.Start(); err != nil {
		return nil, err
	}
	return p, nil
}

// Start spawns the command on a fresh pty. A spawn failure is returned
// wrapped in ErrSpawn and is never retried.
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateCreated {
		return fmt.Errorf("%w: process is %s", ErrSpawn, p.state)
	}
	if len(p.opts.Command) == 0 {
		return fmt.Errorf("%w: empty command", ErrSpawn)
	}

	cmd := exec.Command(p.opts.Command[0], p.opts.Command[1:]...)
	cmd.Dir = p.opts.Dir
	if p.opts.Env != nil {
		cmd.Env = p.opts.Env
	}

	ptmx, err := pty.StartWithAttrs(cmd,
		&pty.Winsize{Rows: p.rows, Cols: p.cols},
		&syscall.SysProcAttr{Setsid: true, Setctty: true},
	)
	if err != nil {
		return fmt.Errorf("%w: start %q: %v", ErrSpawn, p.opts.Command[0], err)
	}

	p.cmd = cmd
	p.ptmx = ptmx
	p.state = StateRunning

	go p.read()
	go p.pump()
	go p.wait()

	log.Printf("[pty] started pid=%d cmd=%q size=%dx%d", cmd.Process.Pid, p.opts.Command, p.rows, p.cols)
	return nil
}

// read drains the pty master until EOF or a read error. It can outlive the
// pump when a leftover process holds the slave open; Close releases it by
// closing the master.
func (p *Process) read() {
	defer close(p.raw)
	buf := make([]byte, readBufferSize)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case p.raw <- chunk:
			case <-p.pumpDone:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// pump forwards output until the reader stops, Close is called, or the
// process has been reaped and no output arrived for exitDrainGrace.
func (p *Process) pump() {
	defer close(p.out)
	defer close(p.pumpDone)

	exited := p.waitDone
	var idle *time.Timer
	var idleC <-chan time.Time
	defer func() {
		if idle != nil {
			idle.Stop()
		}
	}()

	for {
		select {
		case chunk, ok := <-p.raw:
			if !ok {
				return
			}
			select {
			case p.out <- chunk:
			case <-p.done:
				return
			}
			if idle != nil {
				idle.Reset(exitDrainGrace)
			}
		case <-exited:
			exited = nil
			idle = time.NewTimer(exitDrainGrace)
			idleC = idle.C
		case <-idleC:
			return
		case <-p.done:
			return
		}
	}
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	code := exitCodeOf(p.cmd.ProcessState, err)

	p.mu.Lock()
	p.exit = code
	p.exitSet = true
	if p.state == StateRunning {
		p.state = StateExited
	}
	p.mu.Unlock()
	close(p.waitDone)

	log.Printf("[pty] pid=%d exited code=%d", p.cmd.Process.Pid, code)
}

// exitCodeOf reports the exit status, or -signum when a signal killed the process.
func exitCodeOf(ps *os.ProcessState, err error) int {
	if ps == nil {
		if err != nil {
			return -1
		}
		return 0
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return ps.ExitCode()
}

// Pid returns the process id, or 0 before Start.
func (p *Process) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// State returns the current lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Size returns the current window size.
func (p *Process) Size() (rows, cols uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rows, p.cols
}

// ExitCode returns the exit status once the process has exited.
func (p *Process) ExitCode() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exit, p.exitSet
}

// Exited reports whether the process has terminated, whether on its own or
// because of Close.
func (p *Process) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitSet || p.state == StateClosed
}

// Done returns a channel that is closed when the process has been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.waitDone
}

// running returns the pty master while the process can still take input.
func (p *Process) running() (*os.File, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case StateCreated:
		return nil, false, ErrNotStarted
	case StateClosed:
		return nil, false, nil
	}
	return p.ptmx, true, nil
}

// Write forwards data to the pty. After Close it discards data and reports
// success.
func (p *Process) Write(data []byte) (int, error) {
	ptmx, ok, err := p.running()
	if !ok {
		if err != nil {
			return 0, err
		}
		return len(data), nil
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	n, err := ptmx.Write(data)
	if err != nil && p.State() == StateClosed {
		return len(data), nil
	}
	return n, err
}

// ReadOnce returns up to maxBytes of output that is already available, or an
// empty slice if none is. It never blocks. ReadOnce and StreamOutput consume
// the same output: bytes ReadOnce has taken are not streamed again, and bytes
// it left over are streamed first.
func (p *Process) ReadOnce(maxBytes int) []byte {
	if maxBytes <= 0 || p.State() == StateClosed {
		return nil
	}

	p.readMu.Lock()
	defer p.readMu.Unlock()

	if len(p.pending) == 0 {
		src := (<-chan []byte)(p.out)
		if p.stream != nil {
			src = p.stream
		}
		select {
		case chunk, ok := <-src:
			if !ok {
				return nil
			}
			p.pending = chunk
		default:
			return nil
		}
	}

	n := min(maxBytes, len(p.pending))
	data := p.pending[:n:n]
	p.pending = p.pending[n:]
	return data
}

// StreamOutput returns the output sequence. The channel is closed at EOF,
// shortly after the process exits, or on Close, and is never reopened; every
// call returns the same channel so a later consumer continues where an earlier
// one stopped.
func (p *Process) StreamOutput() <-chan []byte {
	p.readMu.Lock()
	defer p.readMu.Unlock()

	if p.stream != nil {
		return p.stream
	}
	if len(p.pending) == 0 {
		p.stream = p.out
		return p.stream
	}

	first := p.pending
	p.pending = nil
	ch := make(chan []byte)
	p.stream = ch
	go func() {
		defer close(ch)
		select {
		case ch <- first:
		case <-p.done:
			return
		}
		for chunk := range p.out {
			select {
			case ch <- chunk:
			case <-p.done:
				return
			}
		}
	}()
	return p.stream
}

// Resize sets the window size. It is a no-op after Close.
func (p *Process) Resize(rows, cols uint16) error {
	ptmx, ok, err := p.running()
	if !ok {
		return err
	}
	if err := pty.Setsize(ptmx, &pty.Winsize{Rows: rows, Cols: cols}); err != nil {
		return fmt.Errorf("resize pty: %w", err)
	}
	p.mu.Lock()
	p.rows, p.cols = rows, cols
	p.mu.Unlock()
	return nil
}

// SendSignal delivers sig to the process group. EOF is written to the pty as
// a single 0x04 byte instead. It is a no-op after Close or once the group is
// gone.
func (p *Process) SendSignal(sig termsig.Signal) error {
	if sig == termsig.EOF {
		_, err := p.Write([]byte{termsig.EOTByte})
		return err
	}
	osSig, known := sig.OSSignal()
	if !known {
		return fmt.Errorf("%w: %q", termsig.ErrUnknownSignal, sig)
	}
	if _, ok, err := p.running(); !ok {
		return err
	}
	if p.Exited() {
		return nil
	}
	return p.signalGroup(osSig)
}

// awaitGroupExit waits until the leader has been reaped and no process is
// left in its group, or until timeout.
func (p *Process) awaitGroupExit(timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case <-p.waitDone:
	case <-deadline.C:
		return false
	}

	tick := time.NewTicker(groupPollInterval)
	defer tick.Stop()
	for {
		if !p.groupAlive() {
			return true
		}
		select {
		case <-tick.C:
		case <-deadline.C:
			return false
		}
	}
}

// groupAlive reports whether any process remains in the leader's group.
func (p *Process) groupAlive() bool {
	pid := p.Pid()
	if pid <= 0 {
		return false
	}
	return !errors.Is(unix.Kill(-pid, 0), unix.ESRCH)
}

func (p *Process) signalGroup(sig unix.Signal) error {
	pid := p.Pid()
	if pid <= 0 {
		return ErrNotStarted
	}
	if err := unix.Kill(-pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signal %s to group %d: %w", sig, pid, err)
	}
	return nil
}

// Close terminates the process and releases the pty. It sends SIGTERM to the
// process group, waits up to the close timeout for the leader to be reaped and
// the group to empty, then sends SIGKILL. The group is signalled even when the
// leader has already exited, so background jobs it left behind are reclaimed.
// Close is idempotent; only the first call does any work.
func (p *Process) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.close()
	})
	return err
}

func (p *Process) close() error {
	p.mu.Lock()
	prev := p.state
	p.state = StateClosed
	p.mu.Unlock()

	close(p.done)
	if prev == StateCreated {
		close(p.out)
		return nil
	}

	_ = p.signalGroup(unix.SIGTERM)
	if !p.awaitGroupExit(p.opts.CloseTimeout) {
		log.Printf("[pty] pid=%d group did not exit within %s, killing", p.Pid(), p.opts.CloseTimeout)
		_ = p.signalGroup(unix.SIGKILL)
		if !p.awaitGroupExit(killGrace) {
			log.Printf("[pty] pid=%d group still present after SIGKILL", p.Pid())
		}
	}

	if err := p.ptmx.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("close pty: %w", err)
	}
	return nil
}

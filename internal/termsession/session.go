package termsession

import (
	"context"
	"sync"
	"time"

	"github.com/gluk-w/termrelay/internal/termsig"
)

// Terminal is the process side of a Session. *ptyproc.Process implements it.
type Terminal interface {
	Write(p []byte) (int, error)
	Resize(rows, cols uint16) error
	SendSignal(sig termsig.Signal) error
	StreamOutput() <-chan []byte
	Exited() bool
	Close() error
}

// Session binds one Terminal to an owner and keeps a replay window of its
// recent output. It outlives the connections that attach to it.
//
// Lifecycle:
//  1. Created by Registry.CreateSession or Registry.GetOrCreateSession.
//  2. A ConnectionHandler attaches, drains output into Buffer and forwards it.
//  3. The connection drops; the Session stays registered, its Buffer intact.
//  4. A new connection attaches and is replayed the Buffer.
//  5. Registry.CloseSession or the expiry sweep closes the Terminal.
type Session struct {
	// ID is a unique identifier for this session (UUID).
	ID string
	// OwnerID identifies who the session belongs to. At most one alive
	// session exists per owner.
	OwnerID string
	// CreatedAt is when the session was registered.
	CreatedAt time.Time

	// Terminal is the process this session drives.
	Terminal Terminal
	// Buffer holds the most recent output for replay.
	Buffer *ReplayBuffer
	// Recording captures timestamped I/O (nil if disabled).
	Recording *Recording

	mu            sync.Mutex
	correlationID string
	lastActivity  time.Time
	attachGen     uint64
	detachCurrent context.CancelFunc
	released      chan struct{} // closed when the current holder detaches
	nowFn         func() time.Time
}

// closedChan is returned by Attach when there was no previous holder.
var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Info is a point-in-time view of a session for listings.
type Info struct {
	SessionID     string    `json:"session_id"`
	OwnerID       string    `json:"owner_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	LastActivity  time.Time `json:"last_activity"`
	BufferedBytes int       `json:"buffered_bytes"`
	Attached      bool      `json:"attached"`
}

func (s *Session) now() time.Time {
	if s.nowFn != nil {
		return s.nowFn()
	}
	return time.Now()
}

// CorrelationID returns the upstream reference the session is tagged with.
func (s *Session) CorrelationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.correlationID
}

func (s *Session) setCorrelationID(id string) {
	s.mu.Lock()
	s.correlationID = id
	s.mu.Unlock()
}

// LastActivity returns the time of the last input or output.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Touch records activity now.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = s.now()
	s.mu.Unlock()
}

// AppendOutput stores an output chunk in the replay buffer.
func (s *Session) AppendOutput(chunk []byte) {
	s.Buffer.Write(chunk)
	if s.Recording != nil {
		s.Recording.RecordOutput(chunk)
	}
	s.Touch()
}

// WriteInput forwards input to the terminal.
func (s *Session) WriteInput(p []byte) (int, error) {
	if s.Recording != nil {
		s.Recording.RecordInput(p)
	}
	s.Touch()
	return s.Terminal.Write(p)
}

// Alive reports whether the terminal is still running and the session has
// been active within timeout. A zero timeout disables the idle check.
func (s *Session) Alive(timeout time.Duration) bool {
	if s.Terminal.Exited() {
		return false
	}
	if timeout <= 0 {
		return true
	}
	return s.now().Sub(s.LastActivity()) < timeout
}

// Attach makes the caller the session's current connection. The previous
// connection, if any, has its cancel func invoked; the returned previous
// channel is closed once that connection has detached, so the new holder can
// wait before it starts draining output. The detach func is idempotent and
// clears the attachment only if no newer connection has attached since.
func (s *Session) Attach(cancel context.CancelFunc) (detach func(), previous <-chan struct{}) {
	released := make(chan struct{})

	s.mu.Lock()
	prevCancel := s.detachCurrent
	prevReleased := s.released
	s.attachGen++
	gen := s.attachGen
	s.detachCurrent = cancel
	s.released = released
	s.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
	}
	if prevReleased == nil {
		prevReleased = closedChan
	}

	var once sync.Once
	detach = func() {
		once.Do(func() {
			s.mu.Lock()
			if s.attachGen == gen {
				s.detachCurrent = nil
			}
			s.mu.Unlock()
			close(released)
		})
	}
	return detach, prevReleased
}

// IsAttached reports whether a connection currently holds the session.
func (s *Session) IsAttached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detachCurrent != nil
}

// Info returns a snapshot for listings.
func (s *Session) Info() Info {
	s.mu.Lock()
	info := Info{
		SessionID:     s.ID,
		OwnerID:       s.OwnerID,
		CorrelationID: s.correlationID,
		CreatedAt:     s.CreatedAt,
		LastActivity:  s.lastActivity,
		Attached:      s.detachCurrent != nil,
	}
	s.mu.Unlock()
	info.BufferedBytes = s.Buffer.Len()
	return info
}

// close kicks the attached connection and releases the terminal.
func (s *Session) close() error {
	s.mu.Lock()
	cancel := s.detachCurrent
	s.detachCurrent = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := s.Terminal.Close()
	if s.Recording != nil {
		s.Recording.Close()
	}
	return err
}

package termsession

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gluk-w/termrelay/internal/logutil"
)

// DefaultIdleTimeout is how long a session may go without input or output
// before it stops counting as alive.
const DefaultIdleTimeout = 30 * time.Minute

// EventType names a registry lifecycle event.
type EventType string

const (
	EventSessionCreated EventType = "session_created"
	EventSessionReused  EventType = "session_reused"
	EventSessionClosed  EventType = "session_closed"
	EventSessionExpired EventType = "session_expired"
)

// Event describes a lifecycle change, delivered to the OnEvent hook.
type Event struct {
	Type          EventType
	SessionID     string
	OwnerID       string
	CorrelationID string
	Detail        string
}

// Config controls sessions created by a Registry.
type Config struct {
	// IdleTimeout is the inactivity limit. Zero disables idle expiry.
	IdleTimeout time.Duration
	// BufferSize is the replay buffer capacity per session.
	BufferSize int
	// RecordingDir enables asciinema recordings when non-empty.
	RecordingDir string
	// Rows and Cols are written into recording headers.
	Rows, Cols uint16
}

// Registry owns the set of live sessions, indexed by id and by owner.
//
// Lookups report a session only while it is alive, but a dead session stays
// registered until CloseSession or CleanupExpired removes it; the sweep is
// the only path that evicts on its own.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session // session ID → session
	byOwner  map[string]string   // owner ID → session ID

	cfg     Config
	nowFn   func() time.Time
	onEvent func(Event)
}

// NewRegistry creates an empty Registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	return &Registry{
		sessions: make(map[string]*Session),
		byOwner:  make(map[string]string),
		cfg:      cfg,
		nowFn:    time.Now,
	}
}

// OnEvent installs a lifecycle hook. It must be set before the registry is
// shared; the hook runs outside the registry lock.
func (r *Registry) OnEvent(fn func(Event)) {
	r.onEvent = fn
}

// IdleTimeout returns the configured inactivity limit.
func (r *Registry) IdleTimeout() time.Duration {
	return r.cfg.IdleTimeout
}

func (r *Registry) emit(ev Event) {
	if r.onEvent != nil {
		r.onEvent(ev)
	}
}

// newSession builds a session. Callers hold r.mu.
func (r *Registry) newSession(ownerID string, term Terminal, correlationID string) *Session {
	now := r.nowFn()
	s := &Session{
		ID:            uuid.NewString(),
		OwnerID:       ownerID,
		CreatedAt:     now,
		Terminal:      term,
		Buffer:        NewReplayBuffer(r.cfg.BufferSize),
		correlationID: correlationID,
		lastActivity:  now,
		nowFn:         r.nowFn,
	}
	if r.cfg.RecordingDir != "" {
		rec, err := NewRecording(r.cfg.RecordingDir, s.ID, r.cfg.Rows, r.cfg.Cols)
		if err != nil {
			log.Printf("[session-mgr] recording disabled for session %s: %v", s.ID, err)
		} else {
			s.Recording = rec
		}
	}
	r.sessions[s.ID] = s
	r.byOwner[ownerID] = s.ID
	return s
}

// CreateSession registers a new session for ownerID and returns its id. The
// owner index points at the new session even if the owner had another.
func (r *Registry) CreateSession(ownerID string, term Terminal, correlationID string) string {
	r.mu.Lock()
	s := r.newSession(ownerID, term, correlationID)
	r.mu.Unlock()

	log.Printf("[session-mgr] created session %s for owner %s", s.ID, logutil.SanitizeForLog(ownerID))
	r.emit(Event{Type: EventSessionCreated, SessionID: s.ID, OwnerID: ownerID, CorrelationID: correlationID})
	return s.ID
}

// GetOrCreateSession returns the owner's alive session, or registers a new
// one around term. The check and the insert happen under one lock, so among
// concurrent callers for the same owner exactly one sees created=true. When
// created is false the caller still owns term and must dispose of it.
func (r *Registry) GetOrCreateSession(ownerID string, term Terminal, correlationID string) (sessionID string, created bool) {
	r.mu.Lock()
	if id, ok := r.byOwner[ownerID]; ok {
		if s := r.sessions[id]; s != nil && s.Alive(r.cfg.IdleTimeout) {
			r.mu.Unlock()
			r.emit(Event{Type: EventSessionReused, SessionID: id, OwnerID: ownerID, CorrelationID: s.CorrelationID()})
			return id, false
		}
	}
	s := r.newSession(ownerID, term, correlationID)
	r.mu.Unlock()

	log.Printf("[session-mgr] created session %s for owner %s", s.ID, logutil.SanitizeForLog(ownerID))
	r.emit(Event{Type: EventSessionCreated, SessionID: s.ID, OwnerID: ownerID, CorrelationID: correlationID})
	return s.ID, true
}

func (r *Registry) lookup(sessionID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sessionID]
}

// GetSession returns the session if it is registered and alive.
func (r *Registry) GetSession(sessionID string) (*Session, bool) {
	s := r.lookup(sessionID)
	if s == nil || !s.Alive(r.cfg.IdleTimeout) {
		return nil, false
	}
	return s, true
}

// FindSession returns a registered session whether or not it is still alive.
func (r *Registry) FindSession(sessionID string) (*Session, bool) {
	s := r.lookup(sessionID)
	return s, s != nil
}

// GetSessionByOwner returns the owner's session if it is alive.
func (r *Registry) GetSessionByOwner(ownerID string) (*Session, bool) {
	r.mu.RLock()
	s := r.sessions[r.byOwner[ownerID]]
	r.mu.RUnlock()
	if s == nil || !s.Alive(r.cfg.IdleTimeout) {
		return nil, false
	}
	return s, true
}

// UpdateActivity marks the session active now. Unknown ids are ignored.
func (r *Registry) UpdateActivity(sessionID string) {
	if s := r.lookup(sessionID); s != nil {
		s.Touch()
	}
}

// UpdateCorrelationID retags the session. Unknown ids are ignored.
func (r *Registry) UpdateCorrelationID(sessionID, correlationID string) {
	if s := r.lookup(sessionID); s != nil {
		s.setCorrelationID(correlationID)
	}
}

// unregister removes a session from both indices. Callers hold r.mu.
func (r *Registry) unregister(s *Session) {
	delete(r.sessions, s.ID)
	if r.byOwner[s.OwnerID] == s.ID {
		delete(r.byOwner, s.OwnerID)
	}
}

// CloseSession unregisters the session and closes its terminal. Unknown ids
// are ignored, so it is safe to call more than once.
func (r *Registry) CloseSession(sessionID string) {
	r.mu.Lock()
	s := r.sessions[sessionID]
	if s == nil {
		r.mu.Unlock()
		return
	}
	r.unregister(s)
	r.mu.Unlock()

	if err := s.close(); err != nil {
		log.Printf("[session-mgr] closing session %s: %v", sessionID, err)
	}
	log.Printf("[session-mgr] closed session %s", sessionID)
	r.emit(Event{Type: EventSessionClosed, SessionID: s.ID, OwnerID: s.OwnerID, CorrelationID: s.CorrelationID()})
}

// ListSessions returns alive sessions, oldest first.
func (r *Registry) ListSessions() []Info {
	r.mu.RLock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.RUnlock()

	result := make([]Info, 0, len(all))
	for _, s := range all {
		if s.Alive(r.cfg.IdleTimeout) {
			result = append(result, s.Info())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// CleanupExpired evicts and closes every session whose process has exited or
// whose idle time has reached the timeout. It returns the number evicted.
func (r *Registry) CleanupExpired() int {
	r.mu.Lock()
	var expired []*Session
	for _, s := range r.sessions {
		if !s.Alive(r.cfg.IdleTimeout) {
			expired = append(expired, s)
			r.unregister(s)
		}
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range expired {
		reason := "idle"
		if s.Terminal.Exited() {
			reason = "exited"
		}
		log.Printf("[session-mgr] evicting session %s (%s, last activity %s)",
			s.ID, reason, s.LastActivity().Format(time.RFC3339))
		wg.Add(1)
		go func(s *Session, reason string) {
			defer wg.Done()
			if err := s.close(); err != nil {
				log.Printf("[session-mgr] closing session %s: %v", s.ID, err)
			}
			r.emit(Event{Type: EventSessionExpired, SessionID: s.ID, OwnerID: s.OwnerID, CorrelationID: s.CorrelationID(), Detail: reason})
		}(s, reason)
	}
	wg.Wait()
	return len(expired)
}

// CloseAll closes every registered session, alive or not.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.CloseSession(id)
	}
}

// Count returns the number of registered sessions, including dead ones the
// sweep has not evicted yet.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

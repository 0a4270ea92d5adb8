package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/gluk-w/termrelay/internal/logutil"
	"github.com/gluk-w/termrelay/internal/middleware"
	"github.com/gluk-w/termrelay/internal/sessionaudit"
	"github.com/gluk-w/termrelay/internal/termsession"
)

// maxFrameSize bounds a single websocket frame. JSON escaping can inflate an
// input payload well past inputguard.MaxInputSize, so oversized payloads still
// reach the validator and get a VALIDATION reply.
const maxFrameSize = 1024 * 1024

// Websocket close codes sent to the client.
const (
	closeSessionUnavailable websocket.StatusCode = 4500
	closeSessionTakenOver   websocket.StatusCode = 4409
)

// SpawnFunc starts a new terminal process for a session.
type SpawnFunc func() (termsession.Terminal, error)

// Terminal serves the terminal websocket and session management endpoints.
type Terminal struct {
	Registry *termsession.Registry
	Spawn    SpawnFunc
	// Auditor may be nil when auditing is disabled.
	Auditor *sessionaudit.Auditor

	RateLimit int
	RateBurst int
	Replay    bool
}

// errSessionGone means a freshly created session died before it could be
// attached.
var errSessionGone = errors.New("session ended before attach")

// acquire returns the owner's alive session, or spawns a process and
// registers a new one. A process spawned by a caller that loses the creation
// race is closed here.
func (t *Terminal) acquire(ownerID, correlationID string) (*termsession.Session, bool, error) {
	if s, ok := t.Registry.GetSessionByOwner(ownerID); ok {
		if correlationID != "" {
			t.Registry.UpdateCorrelationID(s.ID, correlationID)
		}
		return s, false, nil
	}

	term, err := t.Spawn()
	if err != nil {
		return nil, false, err
	}
	id, created := t.Registry.GetOrCreateSession(ownerID, term, correlationID)
	if !created {
		go func() {
			if err := term.Close(); err != nil {
				log.Printf("[terminal] closing unused process for owner %s: %v", logutil.SanitizeForLog(ownerID), err)
			}
		}()
		if correlationID != "" {
			t.Registry.UpdateCorrelationID(id, correlationID)
		}
	}
	s, ok := t.Registry.GetSession(id)
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", errSessionGone, id)
	}
	return s, created, nil
}

// ServeWS handles GET /api/v1/terminal.
//
// Query parameters:
//   - correlation_id: (optional) upstream reference to tag the session with.
//
// The owner comes from middleware.RequireOwner. An owner with an alive session
// is reattached to it and replayed its buffered output; otherwise a new
// process is spawned. A second connection for the same owner takes the
// session over from the first.
func (t *Terminal) ServeWS(w http.ResponseWriter, r *http.Request) {
	owner := middleware.GetOwner(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "Owner identity required")
		return
	}
	correlationID := r.URL.Query().Get("correlation_id")

	clientConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[terminal] failed to accept websocket: %v", err)
		return
	}
	defer clientConn.CloseNow()
	clientConn.SetReadLimit(maxFrameSize)

	sess, created, err := t.acquire(owner, correlationID)
	if err != nil {
		log.Printf("[terminal] session setup failed for owner %s: %v", logutil.SanitizeForLog(owner), err)
		clientConn.Close(closeSessionUnavailable, "Failed to start terminal")
		return
	}
	if created {
		log.Printf("[terminal] session created: session=%s owner=%s", sess.ID, logutil.SanitizeForLog(owner))
	} else {
		log.Printf("[terminal] session reattached: session=%s owner=%s", sess.ID, logutil.SanitizeForLog(owner))
	}

	handler := NewConnectionHandler(wsConn{clientConn}, t.Registry, sess, ConnectionOptions{
		RateLimit: t.RateLimit,
		RateBurst: t.RateBurst,
		Replay:    t.Replay,
		Created:   created,
		SourceIP:  r.RemoteAddr,
		Audit:     t.auditFunc(),
	})
	handler.Run(r.Context())

	switch {
	case sess.Terminal.Exited():
		clientConn.Close(websocket.StatusNormalClosure, "process exited")
	case sess.IsAttached():
		clientConn.Close(closeSessionTakenOver, "session attached elsewhere")
	default:
		clientConn.Close(websocket.StatusNormalClosure, "")
	}
	log.Printf("[terminal] connection ended: session=%s", sess.ID)
}

func (t *Terminal) auditFunc() func(sessionaudit.Entry) {
	if t.Auditor == nil {
		return nil
	}
	return func(e sessionaudit.Entry) { t.Auditor.Log(e) }
}

// ListSessions handles GET /api/v1/terminal/sessions.
func (t *Terminal) ListSessions(w http.ResponseWriter, r *http.Request) {
	owner := middleware.GetOwner(r)
	sessions := make([]termsession.Info, 0)
	for _, info := range t.Registry.ListSessions() {
		if info.OwnerID == owner {
			sessions = append(sessions, info)
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
	})
}

// CloseSession handles DELETE /api/v1/terminal/sessions/{sessionId}.
// Sessions whose process has exited can be closed until the sweep evicts them.
func (t *Terminal) CloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	s, ok := t.Registry.FindSession(sessionID)
	if !ok || s.OwnerID != middleware.GetOwner(r) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	t.Registry.CloseSession(sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// wsConn adapts a websocket connection to Conn. Both text and binary frames
// are accepted inbound; outbound frames are text.
type wsConn struct {
	c *websocket.Conn
}

func (w wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w wsConn) Write(ctx context.Context, msg []byte) error {
	return w.c.Write(ctx, websocket.MessageText, msg)
}

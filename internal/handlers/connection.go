package handlers

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/gluk-w/termrelay/internal/inputguard"
	"github.com/gluk-w/termrelay/internal/logutil"
	"github.com/gluk-w/termrelay/internal/protocol"
	"github.com/gluk-w/termrelay/internal/sessionaudit"
	"github.com/gluk-w/termrelay/internal/termsession"
)

// DefaultRateLimit and DefaultRateBurst bound inbound messages per second per
// connection. Messages beyond the rate are dropped.
const (
	DefaultRateLimit = 200
	DefaultRateBurst = 200
)

// takeoverWait bounds how long a new connection waits for the connection it
// displaced to stop draining output.
const takeoverWait = 5 * time.Second

// Conn is a message-framed, bidirectional channel to one client.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, msg []byte) error
}

// ConnectionOptions tunes a ConnectionHandler.
type ConnectionOptions struct {
	// RateLimit is messages per second; zero or less disables limiting.
	RateLimit int
	RateBurst int
	// Replay sends a session message and the buffered output on attach.
	Replay bool
	// Created is reported in the session message.
	Created bool
	// SourceIP is recorded in audit rows.
	SourceIP string
	// Audit receives connection-level audit entries. May be nil.
	Audit func(sessionaudit.Entry)
}

// ConnectionHandler relays one client connection to one Session. It consumes
// inbound messages and drains terminal output concurrently; neither side
// waits on the other. Ending the connection never closes the Session.
type ConnectionHandler struct {
	conn    Conn
	reg     *termsession.Registry
	sess    *termsession.Session
	opts    ConnectionOptions
	limiter *rate.Limiter

	writeMu sync.Mutex
}

// NewConnectionHandler binds conn to sess.
func NewConnectionHandler(conn Conn, reg *termsession.Registry, sess *termsession.Session, opts ConnectionOptions) *ConnectionHandler {
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.RateBurst
	if burst <= 0 {
		burst = max(opts.RateLimit, 1)
	}
	return &ConnectionHandler{
		conn:    conn,
		reg:     reg,
		sess:    sess,
		opts:    opts,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Run relays until the client disconnects, ctx is cancelled, another
// connection takes over the session, or the terminal's output ends.
func (h *ConnectionHandler) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	detach, previous := h.sess.Attach(cancel)
	defer detach()

	select {
	case <-previous:
	case <-time.After(takeoverWait):
		log.Printf("[terminal] session=%s previous connection did not detach in %s", h.sess.ID, takeoverWait)
	case <-ctx.Done():
		return
	}

	h.audit(sessionaudit.EventConnectionAttached, "")
	defer h.audit(sessionaudit.EventConnectionDetached, "")

	if h.opts.Replay {
		if err := h.send(ctx, protocol.EncodeSession(h.sess.ID, h.opts.Created)); err != nil {
			return
		}
		if history := h.sess.Buffer.Snapshot(); len(history) > 0 {
			if err := h.send(ctx, protocol.EncodeOutput(history)); err != nil {
				return
			}
		}
	}

	outputDone := make(chan struct{})
	go func() {
		defer close(outputDone)
		defer cancel()
		h.drainOutput(ctx)
	}()

	h.readLoop(ctx)
	cancel()
	<-outputDone
}

// drainOutput appends every terminal chunk to the session buffer and forwards
// it to the client, in order. It returns when the stream ends or ctx is done.
func (h *ConnectionHandler) drainOutput(ctx context.Context) {
	stream := h.sess.Terminal.StreamOutput()
	var carry protocol.UTF8Carry
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-stream:
			if !ok {
				if tail := carry.Flush(); len(tail) > 0 {
					h.send(ctx, protocol.EncodeOutput(tail))
				}
				return
			}
			h.sess.AppendOutput(chunk)
			text := carry.Feed(chunk)
			if len(text) == 0 {
				continue
			}
			if err := h.send(ctx, protocol.EncodeOutput(text)); err != nil {
				return
			}
		}
	}
}

func (h *ConnectionHandler) readLoop(ctx context.Context) {
	for {
		raw, err := h.conn.Read(ctx)
		if err != nil {
			return
		}
		if !h.limiter.Allow() {
			continue
		}
		h.handleMessage(ctx, raw)
	}
}

func (h *ConnectionHandler) handleMessage(ctx context.Context, raw []byte) {
	msg, err := protocol.ParseInbound(raw)
	if err != nil {
		h.sendError(ctx, protocol.CodeValidation, err.Error())
		return
	}

	switch m := msg.(type) {
	case *protocol.Input:
		if err := inputguard.Validate(m.Data); err != nil {
			log.Printf("[terminal] session=%s rejected input: %v (%s)",
				h.sess.ID, err, logutil.QuoteBytes(m.Data, 64))
			h.audit(sessionaudit.EventInputRejected, err.Error())
			h.sendError(ctx, protocol.CodeValidation, err.Error())
			return
		}
		if inputguard.IsControlInput(m.Data) {
			if sig, ok := inputguard.ControlSignalFor(m.Data[0]); ok {
				log.Printf("[terminal] session=%s control key %s", h.sess.ID, sig)
			}
		}
		if _, err := h.sess.WriteInput(m.Data); err != nil {
			h.sendError(ctx, protocol.CodeInternal, "write to terminal: "+err.Error())
			return
		}
		h.reg.UpdateActivity(h.sess.ID)

	case *protocol.Resize:
		if err := h.sess.Terminal.Resize(m.Rows, m.Cols); err != nil {
			h.sendError(ctx, protocol.CodeInternal, "resize terminal: "+err.Error())
		}

	case *protocol.Signal:
		if err := h.sess.Terminal.SendSignal(m.Signal); err != nil {
			h.sendError(ctx, protocol.CodeInternal, "send signal: "+err.Error())
		}
	}
}

// send serializes writes from the input and output goroutines.
func (h *ConnectionHandler) send(ctx context.Context, msg []byte) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return h.conn.Write(ctx, msg)
}

func (h *ConnectionHandler) sendError(ctx context.Context, code protocol.ErrorCode, message string) {
	if err := h.send(ctx, protocol.EncodeError(code, message)); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[terminal] session=%s failed to send error: %v", h.sess.ID, err)
	}
}

func (h *ConnectionHandler) audit(eventType, details string) {
	if h.opts.Audit == nil {
		return
	}
	h.opts.Audit(sessionaudit.Entry{
		EventType:     eventType,
		SessionID:     h.sess.ID,
		OwnerID:       h.sess.OwnerID,
		CorrelationID: h.sess.CorrelationID(),
		SourceIP:      h.opts.SourceIP,
		Details:       details,
	})
}

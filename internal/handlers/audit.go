package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gluk-w/termrelay/internal/middleware"
	"github.com/gluk-w/termrelay/internal/sessionaudit"
)

// GetAuditLogs handles GET /api/v1/terminal/audit. Results are limited to the
// caller's own sessions.
//
// Query parameters: session_id, event_type, since (RFC 3339), limit, offset.
func (t *Terminal) GetAuditLogs(w http.ResponseWriter, r *http.Request) {
	if t.Auditor == nil {
		writeError(w, http.StatusServiceUnavailable, "Audit logging not initialized")
		return
	}

	q := r.URL.Query()
	opts := sessionaudit.QueryOptions{
		OwnerID:   middleware.GetOwner(r),
		SessionID: q.Get("session_id"),
		EventType: q.Get("event_type"),
	}

	if s := q.Get("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid since")
			return
		}
		opts.Since = &since
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		opts.Limit = limit
	}

	if offsetStr := q.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			writeError(w, http.StatusBadRequest, "Invalid offset")
			return
		}
		opts.Offset = offset
	}

	result, err := t.Auditor.Query(opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query audit logs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

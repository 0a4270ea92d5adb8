// Package sessionaudit stores terminal session lifecycle events in the
// database and answers filtered queries over them.
package sessionaudit

import (
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/gluk-w/termrelay/internal/database"
	"github.com/gluk-w/termrelay/internal/logutil"
	"github.com/gluk-w/termrelay/internal/termsession"
)

// Connection-level event types. Session lifecycle types come from
// termsession.EventType.
const (
	EventInputRejected      = "input_rejected"
	EventConnectionAttached = "connection_attached"
	EventConnectionDetached = "connection_detached"
)

// DefaultRetentionDays is the default number of days to keep audit rows.
const DefaultRetentionDays = 90

// Entry contains the fields needed to create an audit row.
type Entry struct {
	EventType     string
	SessionID     string
	OwnerID       string
	CorrelationID string
	SourceIP      string
	Details       string
}

// Auditor records and queries session audit rows.
type Auditor struct {
	db            *gorm.DB
	retentionDays int
	nowFn         func() time.Time
}

// NewAuditor creates an Auditor writing to db. If retentionDays is 0,
// DefaultRetentionDays is used.
func NewAuditor(db *gorm.DB, retentionDays int) *Auditor {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Auditor{db: db, retentionDays: retentionDays, nowFn: time.Now}
}

// Log stores entry and mirrors it to the standard logger.
func (a *Auditor) Log(entry Entry) error {
	record := database.SessionEvent{
		EventType:     entry.EventType,
		SessionID:     entry.SessionID,
		OwnerID:       entry.OwnerID,
		CorrelationID: entry.CorrelationID,
		SourceIP:      entry.SourceIP,
		Details:       entry.Details,
		CreatedAt:     a.nowFn(),
	}
	if err := a.db.Create(&record).Error; err != nil {
		log.Printf("[session-audit] failed to write audit row: %v", err)
		return err
	}

	log.Printf("[session-audit] %s session=%s owner=%s details=%s",
		entry.EventType,
		entry.SessionID,
		logutil.SanitizeForLog(entry.OwnerID),
		logutil.SanitizeForLog(entry.Details),
	)
	return nil
}

// RecordSessionEvent adapts registry lifecycle events. Install it with
// Registry.OnEvent.
func (a *Auditor) RecordSessionEvent(ev termsession.Event) {
	a.Log(Entry{
		EventType:     string(ev.Type),
		SessionID:     ev.SessionID,
		OwnerID:       ev.OwnerID,
		CorrelationID: ev.CorrelationID,
		Details:       ev.Detail,
	})
}

// QueryOptions specifies filters for Query.
type QueryOptions struct {
	SessionID string
	OwnerID   string
	EventType string
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}

// QueryResult holds matching rows, newest first, with pagination metadata.
type QueryResult struct {
	Entries []database.SessionEvent `json:"entries"`
	Total   int64                   `json:"total"`
	Limit   int                     `json:"limit"`
	Offset  int                     `json:"offset"`
}

// Query returns rows matching opts.
func (a *Auditor) Query(opts QueryOptions) (*QueryResult, error) {
	tx := a.db.Model(&database.SessionEvent{})
	if opts.SessionID != "" {
		tx = tx.Where("session_id = ?", opts.SessionID)
	}
	if opts.OwnerID != "" {
		tx = tx.Where("owner_id = ?", opts.OwnerID)
	}
	if opts.EventType != "" {
		tx = tx.Where("event_type = ?", opts.EventType)
	}
	if opts.Since != nil {
		tx = tx.Where("created_at >= ?", *opts.Since)
	}
	if opts.Until != nil {
		tx = tx.Where("created_at <= ?", *opts.Until)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, err
	}

	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	var entries []database.SessionEvent
	if err := tx.Order("created_at DESC, id DESC").Offset(opts.Offset).Limit(opts.Limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return &QueryResult{Entries: entries, Total: total, Limit: opts.Limit, Offset: opts.Offset}, nil
}

// PurgeOlderThan deletes rows older than days, or the configured retention
// when days is 0. It returns the number of rows deleted.
func (a *Auditor) PurgeOlderThan(days int) (int64, error) {
	if days <= 0 {
		days = a.retentionDays
	}
	cutoff := a.nowFn().AddDate(0, 0, -days)
	result := a.db.Where("created_at < ?", cutoff).Delete(&database.SessionEvent{})
	if result.Error != nil {
		log.Printf("[session-audit] purge failed: %v", result.Error)
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("[session-audit] purged %d rows older than %d days", result.RowsAffected, days)
	}
	return result.RowsAffected, nil
}

// RetentionDays returns the configured retention period.
func (a *Auditor) RetentionDays() int {
	return a.retentionDays
}

// SetNowFunc sets the clock used for timestamps and purge cutoffs.
func (a *Auditor) SetNowFunc(fn func() time.Time) {
	a.nowFn = fn
}

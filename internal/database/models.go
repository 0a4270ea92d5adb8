package database

import "time"

// SessionEvent is one row of the terminal session audit trail.
type SessionEvent struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	EventType     string    `gorm:"index;not null" json:"event_type"`
	SessionID     string    `gorm:"index" json:"session_id"`
	OwnerID       string    `gorm:"index" json:"owner_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	SourceIP      string    `json:"source_ip,omitempty"`
	Details       string    `json:"details,omitempty"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
}

package sessionaudit

import (
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gluk-w/termrelay/internal/database"
	"github.com/gluk-w/termrelay/internal/termsession"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&database.SessionEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestAuditor(t *testing.T) *Auditor {
	t.Helper()
	return NewAuditor(setupTestDB(t), 90)
}

func TestNewAuditor_DefaultRetention(t *testing.T) {
	a := NewAuditor(setupTestDB(t), 0)
	if a.RetentionDays() != DefaultRetentionDays {
		t.Errorf("expected %d retention days, got %d", DefaultRetentionDays, a.RetentionDays())
	}
}

func TestLogAndQuery(t *testing.T) {
	a := newTestAuditor(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := base
	a.SetNowFunc(func() time.Time { return clock })

	entries := []Entry{
		{EventType: string(termsession.EventSessionCreated), SessionID: "s1", OwnerID: "alice"},
		{EventType: EventConnectionAttached, SessionID: "s1", OwnerID: "alice", SourceIP: "10.0.0.1"},
		{EventType: EventInputRejected, SessionID: "s1", OwnerID: "alice", Details: "dangerous escape sequence: osc-title"},
		{EventType: string(termsession.EventSessionCreated), SessionID: "s2", OwnerID: "bob"},
	}
	for _, e := range entries {
		if err := a.Log(e); err != nil {
			t.Fatalf("Log: %v", err)
		}
		clock = clock.Add(time.Minute)
	}

	res, err := a.Query(QueryOptions{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Total != 4 || len(res.Entries) != 4 {
		t.Fatalf("expected 4 entries, got total=%d len=%d", res.Total, len(res.Entries))
	}
	if res.Entries[0].SessionID != "s2" {
		t.Errorf("expected newest first, got %s", res.Entries[0].SessionID)
	}
	if res.Limit != 50 {
		t.Errorf("expected default limit 50, got %d", res.Limit)
	}

	res, err = a.Query(QueryOptions{OwnerID: "alice", EventType: EventInputRejected})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Total != 1 || res.Entries[0].Details != "dangerous escape sequence: osc-title" {
		t.Errorf("unexpected filtered result %+v", res)
	}

	since := base.Add(90 * time.Second)
	res, err = a.Query(QueryOptions{Since: &since})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Total != 2 {
		t.Errorf("expected 2 entries since %v, got %d", since, res.Total)
	}

	res, err = a.Query(QueryOptions{SessionID: "s1", Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Total != 3 || len(res.Entries) != 2 {
		t.Errorf("expected page of 2 out of 3, got total=%d len=%d", res.Total, len(res.Entries))
	}
}

func TestQuery_LimitCapped(t *testing.T) {
	a := newTestAuditor(t)
	res, err := a.Query(QueryOptions{Limit: 5000})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Limit != 1000 {
		t.Errorf("expected limit capped at 1000, got %d", res.Limit)
	}
}

func TestPurgeOlderThan(t *testing.T) {
	a := newTestAuditor(t)
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	a.SetNowFunc(func() time.Time { return now.AddDate(0, 0, -100) })
	a.Log(Entry{EventType: string(termsession.EventSessionClosed), SessionID: "old"})
	a.SetNowFunc(func() time.Time { return now.AddDate(0, 0, -10) })
	a.Log(Entry{EventType: string(termsession.EventSessionClosed), SessionID: "recent"})
	a.SetNowFunc(func() time.Time { return now })

	n, err := a.PurgeOlderThan(0)
	if err != nil {
		t.Fatalf("PurgeOlderThan: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged row, got %d", n)
	}

	res, _ := a.Query(QueryOptions{})
	if res.Total != 1 || res.Entries[0].SessionID != "recent" {
		t.Errorf("expected only the recent row to remain, got %+v", res.Entries)
	}

	n, err = a.PurgeOlderThan(5)
	if err != nil {
		t.Fatalf("PurgeOlderThan(5): %v", err)
	}
	if n != 1 {
		t.Errorf("expected explicit window to purge 1 row, got %d", n)
	}
}

func TestRecordSessionEvent(t *testing.T) {
	a := newTestAuditor(t)
	a.RecordSessionEvent(termsession.Event{
		Type:          termsession.EventSessionExpired,
		SessionID:     "s9",
		OwnerID:       "carol",
		CorrelationID: "run-7",
		Detail:        "idle",
	})

	res, err := a.Query(QueryOptions{EventType: string(termsession.EventSessionExpired)})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Total != 1 {
		t.Fatalf("expected 1 row, got %d", res.Total)
	}
	got := res.Entries[0]
	if got.SessionID != "s9" || got.OwnerID != "carol" || got.CorrelationID != "run-7" || got.Details != "idle" {
		t.Errorf("unexpected row %+v", got)
	}
}

package termsession

import (
	"testing"
	"time"
)

func TestSweeper_EvictsOnSchedule(t *testing.T) {
	r := NewRegistry(Config{IdleTimeout: time.Minute})
	term := newFakeTerminal()
	r.CreateSession("alice", term, "")
	term.setExited()

	s, err := StartSweeper(r, "@every 1s")
	if err != nil {
		t.Fatalf("StartSweeper: %v", err)
	}
	defer s.Stop()

	// Sessions leave the registry before their terminals are closed, so wait
	// on the close itself.
	deadline := time.Now().Add(5 * time.Second)
	for term.closeCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweeper did not close the exited session")
		}
		time.Sleep(50 * time.Millisecond)
	}
	s.Stop()
	if r.Count() != 0 {
		t.Errorf("expected registry empty, got %d", r.Count())
	}
	if term.closeCount() != 1 {
		t.Errorf("expected terminal closed once, got %d", term.closeCount())
	}
}

func TestSweeper_InvalidSchedule(t *testing.T) {
	if _, err := StartSweeper(NewRegistry(Config{}), "not a schedule"); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestSweeper_ExtraJob(t *testing.T) {
	s, err := StartSweeper(NewRegistry(Config{}), "")
	if err != nil {
		t.Fatalf("StartSweeper: %v", err)
	}
	defer s.Stop()

	ran := make(chan struct{}, 1)
	if err := s.Schedule("@every 1s", func() {
		select {
		case ran <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled job never ran")
	}
}

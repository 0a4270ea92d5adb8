package config

import (
	"reflect"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	s, err := Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.ListenAddr != ":8000" {
		t.Errorf("ListenAddr = %q", s.ListenAddr)
	}
	if s.TerminalSessionTimeout != 30*time.Minute {
		t.Errorf("TerminalSessionTimeout = %v", s.TerminalSessionTimeout)
	}
	if s.TerminalBufferSize != 64*1024 {
		t.Errorf("TerminalBufferSize = %d", s.TerminalBufferSize)
	}
	if s.TerminalCloseTimeout != 3*time.Second {
		t.Errorf("TerminalCloseTimeout = %v", s.TerminalCloseTimeout)
	}
	if !s.TerminalReplay {
		t.Error("TerminalReplay should default to true")
	}
	if s.OwnerHeader != "X-Owner-ID" {
		t.Errorf("OwnerHeader = %q", s.OwnerHeader)
	}
	if got := s.Command(); !reflect.DeepEqual(got, []string{"/bin/bash", "-l"}) {
		t.Errorf("Command() = %v", got)
	}
}

func TestParse_Overrides(t *testing.T) {
	t.Setenv("TERMRELAY_TERMINAL_SESSION_TIMEOUT", "5m")
	t.Setenv("TERMRELAY_TERMINAL_COMMAND", "/bin/sh -i")
	t.Setenv("TERMRELAY_TERMINAL_ROWS", "50")
	t.Setenv("TERMRELAY_TERMINAL_REPLAY", "false")

	s, err := Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.TerminalSessionTimeout != 5*time.Minute {
		t.Errorf("TerminalSessionTimeout = %v", s.TerminalSessionTimeout)
	}
	if got := s.Command(); !reflect.DeepEqual(got, []string{"/bin/sh", "-i"}) {
		t.Errorf("Command() = %v", got)
	}
	if s.TerminalRows != 50 {
		t.Errorf("TerminalRows = %d", s.TerminalRows)
	}
	if s.TerminalReplay {
		t.Error("TerminalReplay should be false")
	}
}

func TestParse_InvalidDuration(t *testing.T) {
	t.Setenv("TERMRELAY_TERMINAL_CLOSE_TIMEOUT", "soon")
	if _, err := Parse(); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestResolvedLogPath(t *testing.T) {
	s := Settings{DataPath: "/data"}
	if got := s.ResolvedLogPath(); got != "/data/termrelay.log" {
		t.Errorf("ResolvedLogPath() = %q", got)
	}
	s.LogPath = "/tmp/x.log"
	if got := s.ResolvedLogPath(); got != "/tmp/x.log" {
		t.Errorf("ResolvedLogPath() = %q", got)
	}
}

package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/gluk-w/termrelay/internal/termsig"
)

func TestParseInbound_Input(t *testing.T) {
	msg, err := ParseInbound([]byte(`{"type":"input","data":"ls -la\r"}`))
	if err != nil {
		t.Fatalf("ParseInbound: %v", err)
	}
	in, ok := msg.(*Input)
	if !ok {
		t.Fatalf("expected *Input, got %T", msg)
	}
	if string(in.Data) != "ls -la\r" {
		t.Errorf("unexpected data %q", in.Data)
	}
}

func TestParseInbound_InputKeepsEscapes(t *testing.T) {
	msg, err := ParseInbound([]byte(`{"type":"input","data":"\u001b]0;x\u0007"}`))
	if err != nil {
		t.Fatalf("ParseInbound: %v", err)
	}
	if got := string(msg.(*Input).Data); got != "\x1b]0;x\x07" {
		t.Errorf("escape bytes should pass through the parser untouched, got %q", got)
	}
}

func TestParseInbound_EmptyInputIsValid(t *testing.T) {
	msg, err := ParseInbound([]byte(`{"type":"input","data":""}`))
	if err != nil {
		t.Fatalf("ParseInbound: %v", err)
	}
	if len(msg.(*Input).Data) != 0 {
		t.Error("expected empty data")
	}
}

func TestParseInbound_Resize(t *testing.T) {
	tests := []struct {
		raw        string
		rows, cols uint16
	}{
		{`{"type":"resize","rows":40,"cols":120}`, 40, 120},
		{`{"type":"resize","rows":9999,"cols":600}`, MaxResizeRows, MaxResizeCols},
		{`{"type":"resize","rows":1,"cols":1}`, 1, 1},
	}
	for _, tt := range tests {
		msg, err := ParseInbound([]byte(tt.raw))
		if err != nil {
			t.Errorf("ParseInbound(%s): %v", tt.raw, err)
			continue
		}
		r := msg.(*Resize)
		if r.Rows != tt.rows || r.Cols != tt.cols {
			t.Errorf("ParseInbound(%s) = %dx%d, want %dx%d", tt.raw, r.Rows, r.Cols, tt.rows, tt.cols)
		}
	}
}

func TestParseInbound_Signal(t *testing.T) {
	for _, name := range []string{"SIGINT", "SIGTERM", "SIGQUIT", "SIGTSTP", "EOF"} {
		msg, err := ParseInbound([]byte(`{"type":"signal","signal":"` + name + `"}`))
		if err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}
		if got := msg.(*Signal).Signal; got != termsig.Signal(name) {
			t.Errorf("expected %s, got %s", name, got)
		}
	}
}

func TestParseInbound_UnknownSignal(t *testing.T) {
	_, err := ParseInbound([]byte(`{"type":"signal","signal":"SIGKILL"}`))
	if !errors.Is(err, termsig.ErrUnknownSignal) {
		t.Errorf("expected ErrUnknownSignal, got %v", err)
	}
}

func TestParseInbound_Invalid(t *testing.T) {
	cases := []string{
		`not json`,
		`[]`,
		`{}`,
		`{"type":"bogus"}`,
		`{"type":"input"}`,
		`{"type":"input","data":42}`,
		`{"type":"resize","rows":10}`,
		`{"type":"resize","rows":0,"cols":80}`,
		`{"type":"resize","rows":-5,"cols":80}`,
		`{"type":"resize","rows":"10","cols":"80"}`,
		`{"type":"signal"}`,
		`{"type":"output","data":"x"}`,
	}
	for _, raw := range cases {
		if _, err := ParseInbound([]byte(raw)); !errors.Is(err, ErrInvalidMessage) {
			t.Errorf("ParseInbound(%s): expected ErrInvalidMessage, got %v", raw, err)
		}
	}
}

func TestEncodeOutbound(t *testing.T) {
	var out OutputMessage
	if err := json.Unmarshal(EncodeOutput([]byte("\x1b[32mhi\x1b[0m")), &out); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}
	if out.Type != TypeOutput || out.Data != "\x1b[32mhi\x1b[0m" {
		t.Errorf("unexpected output %+v", out)
	}

	var e ErrorMessage
	if err := json.Unmarshal(EncodeError(CodeValidation, "too large"), &e); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if e.Type != TypeError || e.Code != CodeValidation || e.Message != "too large" {
		t.Errorf("unexpected error %+v", e)
	}

	var s SessionMessage
	if err := json.Unmarshal(EncodeSession("abc", true), &s); err != nil {
		t.Fatalf("unmarshal session: %v", err)
	}
	if s.Type != TypeSession || s.SessionID != "abc" || !s.Created {
		t.Errorf("unexpected session %+v", s)
	}
}

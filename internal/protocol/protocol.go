// Package protocol defines the JSON messages exchanged with a terminal client.
//
// Inbound messages are a closed set (input, resize, signal) decoded eagerly by
// ParseInbound; anything that does not fit one of them is rejected with
// ErrInvalidMessage. Outbound messages are plain structs with a fixed Type.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gluk-w/termrelay/internal/termsig"
)

// Type is the "type" discriminator of a message.
type Type string

const (
	TypeInput   Type = "input"
	TypeResize  Type = "resize"
	TypeSignal  Type = "signal"
	TypeOutput  Type = "output"
	TypeError   Type = "error"
	TypeSession Type = "session"
)

// ErrorCode classifies an error message.
type ErrorCode string

const (
	CodeValidation ErrorCode = "VALIDATION"
	CodeInternal   ErrorCode = "INTERNAL"
)

// Upper bounds applied to resize requests.
const (
	MaxResizeRows = 500
	MaxResizeCols = 500
)

// ErrInvalidMessage is returned when a frame is not one of the inbound shapes.
var ErrInvalidMessage = errors.New("invalid message")

// Inbound is one of *Input, *Resize or *Signal.
type Inbound interface {
	MessageType() Type
}

// Input carries raw bytes for the process.
type Input struct {
	Data []byte
}

// Resize asks for a new window size.
type Resize struct {
	Rows, Cols uint16
}

// Signal asks for a logical signal to be delivered.
type Signal struct {
	Signal termsig.Signal
}

func (*Input) MessageType() Type  { return TypeInput }
func (*Resize) MessageType() Type { return TypeResize }
func (*Signal) MessageType() Type { return TypeSignal }

// inboundFrame is the union of all inbound fields. Pointers distinguish a
// missing field from a zero value.
type inboundFrame struct {
	Type   Type    `json:"type"`
	Data   *string `json:"data"`
	Rows   *int    `json:"rows"`
	Cols   *int    `json:"cols"`
	Signal *string `json:"signal"`
}

// ParseInbound decodes a client frame. Parse failures wrap ErrInvalidMessage;
// an unrecognized signal name wraps termsig.ErrUnknownSignal.
func ParseInbound(raw []byte) (Inbound, error) {
	var f inboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	switch f.Type {
	case TypeInput:
		if f.Data == nil {
			return nil, fmt.Errorf("%w: input requires data", ErrInvalidMessage)
		}
		return &Input{Data: []byte(*f.Data)}, nil

	case TypeResize:
		if f.Rows == nil || f.Cols == nil {
			return nil, fmt.Errorf("%w: resize requires rows and cols", ErrInvalidMessage)
		}
		if *f.Rows <= 0 || *f.Cols <= 0 {
			return nil, fmt.Errorf("%w: resize dimensions must be positive, got %dx%d", ErrInvalidMessage, *f.Rows, *f.Cols)
		}
		return &Resize{
			Rows: uint16(min(*f.Rows, MaxResizeRows)),
			Cols: uint16(min(*f.Cols, MaxResizeCols)),
		}, nil

	case TypeSignal:
		if f.Signal == nil {
			return nil, fmt.Errorf("%w: signal requires a name", ErrInvalidMessage)
		}
		sig, err := termsig.Parse(*f.Signal)
		if err != nil {
			return nil, err
		}
		return &Signal{Signal: sig}, nil

	case "":
		return nil, fmt.Errorf("%w: missing type", ErrInvalidMessage)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, f.Type)
	}
}

// OutputMessage forwards process output.
type OutputMessage struct {
	Type Type   `json:"type"`
	Data string `json:"data"`
}

// ErrorMessage reports a failed request. The connection stays open.
type ErrorMessage struct {
	Type    Type      `json:"type"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// SessionMessage tells the client which session it is attached to.
type SessionMessage struct {
	Type      Type   `json:"type"`
	SessionID string `json:"session_id"`
	Created   bool   `json:"created"`
}

// EncodeOutput builds an output frame.
func EncodeOutput(data []byte) []byte {
	return mustMarshal(OutputMessage{Type: TypeOutput, Data: string(data)})
}

// EncodeError builds an error frame.
func EncodeError(code ErrorCode, message string) []byte {
	return mustMarshal(ErrorMessage{Type: TypeError, Code: code, Message: message})
}

// EncodeSession builds a session frame.
func EncodeSession(sessionID string, created bool) []byte {
	return mustMarshal(SessionMessage{Type: TypeSession, SessionID: sessionID, Created: created})
}

// mustMarshal encodes the fixed outbound structs, which cannot fail.
func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("protocol: marshal %T: %v", v, err))
	}
	return b
}

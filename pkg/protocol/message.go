package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Opcode identifies the kind of gateway message.
type Opcode int

const (
	OpDispatch       Opcode = 0 // server → client, named event with payload
	OpHeartbeat      Opcode = 1 // client → server keepalive
	OpHeartbeatACK   Opcode = 2 // server → client heartbeat reply
	OpPresenceUpdate Opcode = 3 // client → server presence change
)

// String returns the string representation of the opcode.
func (op Opcode) String() string {
	switch op {
	case OpDispatch:
		return "DISPATCH"
	case OpHeartbeat:
		return "HEARTBEAT"
	case OpHeartbeatACK:
		return "HEARTBEAT_ACK"
	case OpPresenceUpdate:
		return "PRESENCE_UPDATE"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether the opcode is part of the protocol vocabulary.
func (op Opcode) Valid() bool {
	return op >= OpDispatch && op <= OpPresenceUpdate
}

// Protocol errors.
var (
	ErrMalformedMessage = errors.New("protocol: malformed message")
	ErrUnknownOpcode    = errors.New("protocol: unknown opcode")
	ErrUnexpectedOpcode = errors.New("protocol: unexpected opcode from client")
)

// Message is the wire envelope for all gateway traffic.
//
// T is set only for DISPATCH messages and names the delivered event.
// D carries the event payload and is opaque to the protocol layer.
// Both are omitted from the encoded form entirely when absent.
type Message struct {
	Op Opcode          `json:"op"`
	T  string          `json:"t,omitempty"`
	D  json.RawMessage `json:"d,omitempty"`
}

// Encode encodes the message to its JSON wire form.
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", m.Op, err)
	}
	return data, nil
}

// Decode decodes a wire message. It rejects invalid JSON and opcodes
// outside the protocol vocabulary.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if !m.Op.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownOpcode, int(m.Op))
	}
	return &m, nil
}

// ValidateInbound checks that a decoded message is one a client is
// allowed to send. DISPATCH and HEARTBEAT_ACK are server → client only.
func ValidateInbound(m *Message) error {
	switch m.Op {
	case OpHeartbeat, OpPresenceUpdate:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedOpcode, m.Op)
	}
}

// NewDispatch builds a DISPATCH envelope for the named event.
// A nil payload produces a DISPATCH without a "d" field. Raw JSON
// payloads are carried through untouched.
func NewDispatch(event string, payload any) (*Message, error) {
	m := &Message{Op: OpDispatch, T: event}
	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		if len(p) > 0 {
			m.D = p
		}
	default:
		d, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: encode %s payload: %w", event, err)
		}
		m.D = d
	}
	return m, nil
}

// NewHeartbeat builds a client HEARTBEAT message.
func NewHeartbeat() *Message {
	return &Message{Op: OpHeartbeat}
}

// NewHeartbeatACK builds the server reply to a HEARTBEAT.
func NewHeartbeatACK() *Message {
	return &Message{Op: OpHeartbeatACK}
}

// NewPresenceUpdate builds a client PRESENCE_UPDATE carrying the new
// presence payload.
func NewPresenceUpdate(payload json.RawMessage) *Message {
	return &Message{Op: OpPresenceUpdate, D: payload}
}

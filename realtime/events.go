package realtime

import (
	"encoding/json"
	"time"
)

// ConnState is the lifecycle state of a Transport.
type ConnState int

const (
	StateIdle ConnState = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is one of Connected, Disconnected, Message, UnknownMessage or
// ErrorEvent.
type Event interface {
	event()
}

// Connected is published after a handshake succeeds.
type Connected struct {
	Endpoint string
	At       time.Time
}

// Disconnected is published when the socket goes away, whether requested or
// not. Err is nil for requested disconnects.
type Disconnected struct {
	Reason string
	Err    error
	At     time.Time
}

// Message is an inbound frame on a known topic. Raw is the frame as
// received, Payload the inflated bytes and Decoded the parsed JSON, if any.
// Message sync frames also carry their operations split into Sync.
type Message struct {
	Topic   string
	Kind    string
	Raw     []byte
	Payload []byte
	Decoded any
	Sync    []SyncItem
	At      time.Time
}

// UnknownMessage is an inbound frame on a topic with no handler.
type UnknownMessage struct {
	Topic   string
	Raw     []byte
	Payload []byte
	Decoded any
	At      time.Time
}

// ErrorEvent reports a fault inside the transport. The transport keeps
// running; a Disconnected event follows if the socket was lost.
type ErrorEvent struct {
	Cause error
	At    time.Time
}

func (Connected) event()      {}
func (Disconnected) event()   {}
func (Message) event()        {}
func (UnknownMessage) event() {}
func (ErrorEvent) event()     {}

// Record is the JSON form of an Event used by relays and the control API.
type Record struct {
	Type     string          `json:"type"`
	At       time.Time       `json:"at"`
	Endpoint string          `json:"endpoint,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Error    string          `json:"error,omitempty"`
	Topic    string          `json:"topic,omitempty"`
	Kind     string          `json:"kind,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Text     string          `json:"text,omitempty"`
	Items    []SyncItem      `json:"items,omitempty"`
}

// NewRecord converts e to its JSON form. Payloads that are valid JSON are
// embedded as-is; anything else is carried as text.
func NewRecord(e Event) Record {
	switch ev := e.(type) {
	case Connected:
		return Record{Type: "connected", At: ev.At, Endpoint: ev.Endpoint}
	case Disconnected:
		r := Record{Type: "disconnected", At: ev.At, Reason: ev.Reason}
		if ev.Err != nil {
			r.Error = ev.Err.Error()
		}
		return r
	case Message:
		r := Record{Type: "message", At: ev.At, Topic: ev.Topic, Kind: ev.Kind, Items: ev.Sync}
		setPayload(&r, ev.Payload, ev.Decoded)
		return r
	case UnknownMessage:
		r := Record{Type: "unknown_message", At: ev.At, Topic: ev.Topic}
		setPayload(&r, ev.Payload, ev.Decoded)
		return r
	case ErrorEvent:
		r := Record{Type: "error", At: ev.At}
		if ev.Cause != nil {
			r.Error = ev.Cause.Error()
		}
		return r
	default:
		return Record{Type: "unknown"}
	}
}

func setPayload(r *Record, payload []byte, decoded any) {
	if decoded != nil && json.Valid(payload) {
		r.Payload = json.RawMessage(payload)
		return
	}
	r.Text = string(payload)
}

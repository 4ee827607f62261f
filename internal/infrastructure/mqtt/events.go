package mqtt

import "time"

// ConnectionState is the client-level connection state. Exactly one holds at
// any instant.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateManuallyDisconnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateManuallyDisconnected:
		return "manually_disconnected"
	default:
		return "unknown"
	}
}

// EventKind tags an Event.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventConnectionFailed
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventConnectionFailed:
		return "connection_failed"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is what the dispatcher delivers to the Handler.
type Event struct {
	Kind EventKind
	Time time.Time

	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool

	Err error
}

// Handler receives connection and message callbacks.
//
// All callbacks run on one dispatcher goroutine, in the order the events
// occurred, and never while a client lock is held. A handler may call any
// Client method, including Publish and Subscribe. A slow handler delays later
// events but never the network or queued operations; events wait in an
// unbounded queue until it catches up.
type Handler interface {
	OnConnected()
	OnConnectionFailed(reason error)
	OnMessageReceived(topic string, payload []byte)
}

// HandlerFuncs adapts optional functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Connected        func()
	ConnectionFailed func(reason error)
	MessageReceived  func(topic string, payload []byte)
}

// OnConnected implements Handler.
func (h HandlerFuncs) OnConnected() {
	if h.Connected != nil {
		h.Connected()
	}
}

// OnConnectionFailed implements Handler.
func (h HandlerFuncs) OnConnectionFailed(reason error) {
	if h.ConnectionFailed != nil {
		h.ConnectionFailed(reason)
	}
}

// OnMessageReceived implements Handler.
func (h HandlerFuncs) OnMessageReceived(topic string, payload []byte) {
	if h.MessageReceived != nil {
		h.MessageReceived(topic, payload)
	}
}

// Handlers fans every callback out to each handler in order.
type Handlers []Handler

// OnConnected implements Handler.
func (hs Handlers) OnConnected() {
	for _, h := range hs {
		h.OnConnected()
	}
}

// OnConnectionFailed implements Handler.
func (hs Handlers) OnConnectionFailed(reason error) {
	for _, h := range hs {
		h.OnConnectionFailed(reason)
	}
}

// OnMessageReceived implements Handler.
func (hs Handlers) OnMessageReceived(topic string, payload []byte) {
	for _, h := range hs {
		h.OnMessageReceived(topic, payload)
	}
}

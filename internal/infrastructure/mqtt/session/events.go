package session

import (
	"github.com/nerrad567/lightlink-core/internal/infrastructure/mqtt/packet"
	"github.com/nerrad567/lightlink-core/internal/infrastructure/mqtt/schedule"
)

// EventKind tags an Event.
type EventKind int

const (
	// EventConnected is emitted once when the session reaches Connected.
	EventConnected EventKind = iota + 1

	// EventMessage carries an inbound PUBLISH.
	EventMessage

	// EventConnectionLost is emitted once when a connected session fails.
	EventConnectionLost

	// EventDisconnected is emitted once after an orderly Disconnect of a connected session.
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventMessage:
		return "message"
	case EventConnectionLost:
		return "connection_lost"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is a session-level occurrence. Only the fields relevant to Kind are set.
type Event struct {
	Kind       EventKind
	Generation schedule.Generation

	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool

	Err error
}

// Sink receives session events in the order they occur.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit calls f.
func (f SinkFunc) Emit(e Event) { f(e) }

// Observer receives protocol counters. Implementations must be cheap and non-blocking.
type Observer interface {
	PacketSent(t packet.Type)
	PacketReceived(t packet.Type)
	DecodeError()
}

// Logger is the logging surface used by sessions.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopObserver struct{}

func (noopObserver) PacketSent(packet.Type)     {}
func (noopObserver) PacketReceived(packet.Type) {}
func (noopObserver) DecodeError()               {}

package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Publish/Subscribe outside the Connected state.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrSessionUsed is returned when Connect is called on a session that already ran.
	ErrSessionUsed = errors.New("mqtt: session already used")

	// ErrSessionClosed is returned when the session is torn down during Connect.
	ErrSessionClosed = errors.New("mqtt: session closed")

	// ErrConnAckTimeout is returned when no CONNACK arrives in time.
	ErrConnAckTimeout = errors.New("mqtt: timed out waiting for CONNACK")

	// ErrConnectionLost is the cause reported when the stream ends unexpectedly.
	ErrConnectionLost = errors.New("mqtt: connection lost")

	// ErrPingTimeout is reported when too many PINGREQs go unanswered.
	ErrPingTimeout = errors.New("mqtt: keepalive pings unanswered")

	// ErrStale is reported when no inbound traffic arrives within the staleness window.
	ErrStale = errors.New("mqtt: no inbound traffic")

	// ErrTransportClosed is reported when the stream closed without the read loop noticing.
	ErrTransportClosed = errors.New("mqtt: transport closed")

	// ErrInvalidTopic is returned for an empty topic or filter.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")

	// ErrInvalidQoS is returned for a QoS outside 0-2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")
)

// RefusedError is returned when the broker answers CONNECT with a non-zero code.
type RefusedError struct {
	Code byte
}

var refusedReasons = map[byte]string{
	0x01: "unacceptable protocol version",
	0x02: "identifier rejected",
	0x03: "server unavailable",
	0x04: "bad user name or password",
	0x05: "not authorized",
}

func (e *RefusedError) Error() string {
	if reason, ok := refusedReasons[e.Code]; ok {
		return "mqtt: connection refused: " + reason
	}
	return fmt.Sprintf("mqtt: connection refused: code %d", e.Code)
}

package mqtt

import (
	"errors"

	"github.com/nerrad567/lightlink-core/internal/infrastructure/mqtt/session"
)

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when attempting operations on a disconnected client.
	// A connect and one retry of the request are scheduled in the background.
	ErrNotConnected = session.ErrNotConnected

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = session.ErrInvalidQoS

	// ErrInvalidTopic is returned when an empty topic is provided.
	ErrInvalidTopic = session.ErrInvalidTopic

	// ErrInvalidConfig is returned by New when the options cannot produce a client.
	ErrInvalidConfig = errors.New("mqtt: invalid configuration")

	// ErrPayloadTooLarge is returned when a publish payload exceeds the configured maximum.
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")

	// ErrClosed is returned by operations on a client after Close.
	ErrClosed = errors.New("mqtt: client closed")

	// ErrForcedReconnect is the reason reported when a forced reconnect
	// drops a live connection and no new one follows.
	ErrForcedReconnect = errors.New("mqtt: forced reconnect")

	// ErrReconnectStalled is the reason logged when the health task finds no
	// connection attempt within the stale window.
	ErrReconnectStalled = errors.New("mqtt: reconnect stalled")
)

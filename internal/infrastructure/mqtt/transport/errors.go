package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when writing to a connection that has been closed.
	ErrClosed = errors.New("transport: connection closed")

	// ErrPacketTooLarge marks an inbound frame above the configured maximum. The frame is skipped.
	ErrPacketTooLarge = errors.New("transport: packet exceeds maximum size")

	// ErrUnknownKind is returned by NewFactory for an unrecognised transport kind.
	ErrUnknownKind = errors.New("transport: unknown transport kind")
)

// Error is a dial, read or write failure on the stream.
type Error struct {
	Op   string
	Addr string
	Err  error
}

func (e *Error) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

package packet

import (
	"errors"
	"fmt"
)

// Sentinel errors for codec failures. DecodeError unwraps to one of these.
var (
	// ErrTruncated is returned when the input ends before the declared length.
	ErrTruncated = errors.New("packet: truncated input")

	// ErrLengthOverflow is returned when a remaining-length varint continues past 4 bytes
	// or a value to encode exceeds MaxRemainingLength.
	ErrLengthOverflow = errors.New("packet: remaining length exceeds 4 bytes")

	// ErrMalformed is returned for structurally invalid packets (bad flags, bad QoS, short fields).
	ErrMalformed = errors.New("packet: malformed packet")

	// ErrTopicTooLong is returned when a topic does not fit a 16-bit length prefix.
	ErrTopicTooLong = errors.New("packet: topic exceeds 65535 bytes")

	// ErrInvalidQoS is returned when a QoS value is not 0, 1 or 2.
	ErrInvalidQoS = errors.New("packet: invalid QoS level (must be 0, 1, or 2)")

	// ErrUnsupported is returned when encoding a packet kind the codec does not produce.
	ErrUnsupported = errors.New("packet: unsupported packet type")
)

// DecodeError describes why a frame could not be decoded.
// The offending frame should be dropped; the stream itself remains usable.
type DecodeError struct {
	Type   Type
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Type != 0 {
		return fmt.Sprintf("packet: decode %s: %s", e.Type, e.Reason)
	}
	return "packet: decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeErr(t Type, err error, format string, args ...any) *DecodeError {
	return &DecodeError{Type: t, Reason: fmt.Sprintf(format, args...), Err: err}
}

package packet

import (
	"errors"
	"io"
)

const (
	// MaxRemainingLength is the largest value a 4-byte remaining-length varint can carry.
	MaxRemainingLength = 268_435_455

	// maxLengthBytes is the maximum number of bytes in a remaining-length varint.
	maxLengthBytes = 4
)

// AppendLength appends the varint encoding of n to dst.
// Each byte carries 7 bits, least significant group first, with the MSB as continuation flag.
func AppendLength(dst []byte, n int) ([]byte, error) {
	if n < 0 || n > MaxRemainingLength {
		return dst, ErrLengthOverflow
	}
	for {
		b := byte(n % 128) //nolint:mnd // 7-bit groups
		n /= 128           //nolint:mnd // 7-bit groups
		if n > 0 {
			b |= 0x80
		}
		dst = append(dst, b)
		if n == 0 {
			return dst, nil
		}
	}
}

// EncodeLength returns the varint encoding of n.
func EncodeLength(n int) ([]byte, error) {
	return AppendLength(make([]byte, 0, maxLengthBytes), n)
}

// DecodeLength reads a remaining-length varint from the start of b.
// It returns the value and the number of bytes consumed.
func DecodeLength(b []byte) (int, int, error) {
	value := 0
	for i := 0; i < maxLengthBytes; i++ {
		if i >= len(b) {
			return 0, 0, decodeErr(0, ErrTruncated, "remaining length truncated after %d bytes", i)
		}
		digit := b[i]
		value |= int(digit&0x7f) << (7 * i) //nolint:mnd // 7-bit groups
		if digit&0x80 == 0 {
			return value, i + 1, nil
		}
	}
	return 0, 0, decodeErr(0, ErrLengthOverflow, "continuation bit set on byte %d", maxLengthBytes)
}

// ReadLength reads a remaining-length varint from r one byte at a time.
// I/O errors from r are returned unchanged so callers can tell a dead stream from a bad frame.
func ReadLength(r io.ByteReader) (int, error) {
	value := 0
	for i := 0; i < maxLengthBytes; i++ {
		digit, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		value |= int(digit&0x7f) << (7 * i) //nolint:mnd // 7-bit groups
		if digit&0x80 == 0 {
			return value, nil
		}
	}
	return 0, decodeErr(0, ErrLengthOverflow, "continuation bit set on byte %d", maxLengthBytes)
}

// IsDecodeError reports whether err is a codec error rather than an I/O error.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

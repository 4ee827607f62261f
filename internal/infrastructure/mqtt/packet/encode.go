package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/valyala/bytebufferpool"
)

// Encode serialises p into a complete frame (fixed header, remaining length, body).
func Encode(p Packet) ([]byte, error) {
	switch p.(type) {
	case *PingReq:
		return cloneFrame(pingReqFrame), nil
	case *PingResp:
		return cloneFrame(pingRespFrame), nil
	case *Disconnect:
		return cloneFrame(disconnectFrame), nil
	}

	body := bytebufferpool.Get()
	defer bytebufferpool.Put(body)

	var header byte
	var err error
	switch pk := p.(type) {
	case *Connect:
		header = byte(TypeConnect) << 4
		err = encodeConnect(body, pk)
	case *ConnAck:
		header = byte(TypeConnAck) << 4
		err = encodeConnAck(body, pk)
	case *Publish:
		header, err = encodePublish(body, pk)
	case *Subscribe:
		header = byte(TypeSubscribe)<<4 | 0x02
		err = encodeSubscribe(body, pk)
	case *Unsubscribe:
		header = byte(TypeUnsubscribe)<<4 | 0x02
		err = encodeUnsubscribe(body, pk)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupported, p)
	}
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 1+maxLengthBytes+body.Len())
	out = append(out, header)
	out, err = AppendLength(out, body.Len())
	if err != nil {
		return nil, err
	}
	return append(out, body.B...), nil
}

func cloneFrame(f []byte) []byte {
	return append([]byte(nil), f...)
}

func encodeConnect(buf *bytebufferpool.ByteBuffer, c *Connect) error {
	var flags byte
	if c.Username != "" {
		flags |= 0x80
	}
	if c.Password != "" {
		flags |= 0x40
	}
	if c.Will != nil {
		if c.Will.Topic == "" {
			return fmt.Errorf("%w: will topic cannot be empty", ErrMalformed)
		}
		if c.Will.QoS > 2 { //nolint:mnd // QoS 0-2
			return ErrInvalidQoS
		}
		flags |= 0x04
		flags |= c.Will.QoS << 3
		if c.Will.Retain {
			flags |= 0x20
		}
	}
	if c.CleanSession {
		flags |= 0x02
	}

	if err := writeString(buf, protocolName); err != nil {
		return err
	}
	buf.B = append(buf.B, protocolLevel, flags)
	buf.B = binary.BigEndian.AppendUint16(buf.B, c.KeepAlive)

	if err := writeString(buf, c.ClientID); err != nil {
		return err
	}
	if c.Will != nil {
		if err := writeString(buf, c.Will.Topic); err != nil {
			return err
		}
		if err := writeBytes(buf, c.Will.Payload); err != nil {
			return err
		}
	}
	if c.Username != "" {
		if err := writeString(buf, c.Username); err != nil {
			return err
		}
	}
	if c.Password != "" {
		if err := writeString(buf, c.Password); err != nil {
			return err
		}
	}
	return nil
}

func encodeConnAck(buf *bytebufferpool.ByteBuffer, c *ConnAck) error {
	var sp byte
	if c.SessionPresent {
		sp = 0x01
	}
	buf.B = append(buf.B, sp, c.ReturnCode)
	return nil
}

func encodePublish(buf *bytebufferpool.ByteBuffer, p *Publish) (byte, error) {
	if p.QoS > 2 { //nolint:mnd // QoS 0-2
		return 0, ErrInvalidQoS
	}
	header := byte(TypePublish)<<4 | p.QoS<<1
	if p.Dup {
		header |= 0x08
	}
	if p.Retain {
		header |= 0x01
	}
	if err := writeString(buf, p.Topic); err != nil {
		return 0, err
	}
	if p.QoS > 0 {
		id := p.PacketID
		if id == 0 {
			id = FixedPacketID
		}
		buf.B = binary.BigEndian.AppendUint16(buf.B, id)
	}
	buf.B = append(buf.B, p.Payload...)
	return header, nil
}

func encodeSubscribe(buf *bytebufferpool.ByteBuffer, s *Subscribe) error {
	if s.QoS > 2 { //nolint:mnd // QoS 0-2
		return ErrInvalidQoS
	}
	buf.B = binary.BigEndian.AppendUint16(buf.B, FixedPacketID)
	if err := writeString(buf, s.Filter); err != nil {
		return err
	}
	buf.B = append(buf.B, s.QoS)
	return nil
}

func encodeUnsubscribe(buf *bytebufferpool.ByteBuffer, u *Unsubscribe) error {
	buf.B = binary.BigEndian.AppendUint16(buf.B, FixedPacketID)
	return writeString(buf, u.Filter)
}

func writeString(buf *bytebufferpool.ByteBuffer, s string) error {
	if len(s) > MaxTopicLength {
		return ErrTopicTooLong
	}
	buf.B = binary.BigEndian.AppendUint16(buf.B, uint16(len(s))) //nolint:gosec // bounded above
	buf.B = append(buf.B, s...)
	return nil
}

func writeBytes(buf *bytebufferpool.ByteBuffer, b []byte) error {
	if len(b) > MaxTopicLength {
		return fmt.Errorf("%w: length-prefixed field exceeds 65535 bytes", ErrMalformed)
	}
	buf.B = binary.BigEndian.AppendUint16(buf.B, uint16(len(b))) //nolint:gosec // bounded above
	buf.B = append(buf.B, b...)
	return nil
}

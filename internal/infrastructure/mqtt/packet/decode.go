package packet

import "encoding/binary"

// Decode decodes the first complete frame in b and returns it with the number
// of bytes it occupied. When the frame is delimited but its body is invalid,
// the consumed count is still returned so the caller can skip past it.
func Decode(b []byte) (Packet, int, error) {
	if len(b) < 2 { //nolint:mnd // fixed header + at least one length byte
		return nil, 0, decodeErr(0, ErrTruncated, "need at least 2 bytes, have %d", len(b))
	}
	length, n, err := DecodeLength(b[1:])
	if err != nil {
		return nil, 0, err
	}
	start := 1 + n
	if length > len(b)-start {
		return nil, 0, decodeErr(Type(b[0]>>4), ErrTruncated,
			"remaining length %d exceeds available %d bytes", length, len(b)-start)
	}
	end := start + length
	pkt, err := DecodeBody(b[0], b[start:end])
	if err != nil {
		return nil, end, err
	}
	return pkt, end, nil
}

// DecodeBody decodes a frame whose fixed header byte and body have already
// been separated, as the transport read loop does.
func DecodeBody(header byte, body []byte) (Packet, error) {
	t := Type(header >> 4)
	flags := header & 0x0f

	switch t {
	case TypeConnect:
		return decodeConnect(body)
	case TypeConnAck:
		if len(body) != 2 { //nolint:mnd // CONNACK body is always 2 bytes
			return nil, decodeErr(t, ErrMalformed, "body length %d, want 2", len(body))
		}
		return &ConnAck{SessionPresent: body[0]&0x01 == 1, ReturnCode: body[1]}, nil
	case TypePublish:
		return decodePublish(flags, body)
	case TypeSubscribe:
		return decodeSubscribe(body)
	case TypeUnsubscribe:
		r := &reader{t: t, b: body}
		if _, err := r.readUint16("packet id"); err != nil {
			return nil, err
		}
		filter, err := r.readString("topic filter")
		if err != nil {
			return nil, err
		}
		return &Unsubscribe{Filter: filter}, nil
	case TypePingReq, TypePingResp, TypeDisconnect:
		if len(body) != 0 {
			return nil, decodeErr(t, ErrMalformed, "unexpected %d body bytes", len(body))
		}
		switch t {
		case TypePingReq:
			return &PingReq{}, nil
		case TypePingResp:
			return &PingResp{}, nil
		default:
			return &Disconnect{}, nil
		}
	case 0, 15: //nolint:mnd // reserved types
		return nil, decodeErr(t, ErrMalformed, "reserved packet type")
	default:
		return &Other{Kind: t, Flags: flags, Body: append([]byte(nil), body...)}, nil
	}
}

func decodePublish(flags byte, body []byte) (*Publish, error) {
	p := &Publish{
		Dup:    flags&0x08 != 0,
		QoS:    (flags >> 1) & 0x03,
		Retain: flags&0x01 != 0,
	}
	if p.QoS > 2 { //nolint:mnd // QoS 0-2
		return nil, decodeErr(TypePublish, ErrInvalidQoS, "qos bits set to 3")
	}

	r := &reader{t: TypePublish, b: body}
	topic, err := r.readString("topic")
	if err != nil {
		return nil, err
	}
	p.Topic = topic
	if p.QoS > 0 {
		id, err := r.readUint16("packet id")
		if err != nil {
			return nil, err
		}
		p.PacketID = id
	}
	p.Payload = append([]byte{}, r.rest()...)
	return p, nil
}

func decodeSubscribe(body []byte) (*Subscribe, error) {
	r := &reader{t: TypeSubscribe, b: body}
	if _, err := r.readUint16("packet id"); err != nil {
		return nil, err
	}
	filter, err := r.readString("topic filter")
	if err != nil {
		return nil, err
	}
	qos, err := r.readByte("requested qos")
	if err != nil {
		return nil, err
	}
	if qos > 2 { //nolint:mnd // QoS 0-2
		return nil, decodeErr(TypeSubscribe, ErrInvalidQoS, "requested qos %d", qos)
	}
	return &Subscribe{Filter: filter, QoS: qos}, nil
}

func decodeConnect(body []byte) (*Connect, error) {
	r := &reader{t: TypeConnect, b: body}
	name, err := r.readString("protocol name")
	if err != nil {
		return nil, err
	}
	level, err := r.readByte("protocol level")
	if err != nil {
		return nil, err
	}
	if name != protocolName || level != protocolLevel {
		return nil, decodeErr(TypeConnect, ErrMalformed, "unsupported protocol %q level %d", name, level)
	}
	flags, err := r.readByte("connect flags")
	if err != nil {
		return nil, err
	}
	keepAlive, err := r.readUint16("keepalive")
	if err != nil {
		return nil, err
	}

	c := &Connect{KeepAlive: keepAlive, CleanSession: flags&0x02 != 0}
	if c.ClientID, err = r.readString("client id"); err != nil {
		return nil, err
	}
	if flags&0x04 != 0 {
		w := &Will{QoS: (flags >> 3) & 0x03, Retain: flags&0x20 != 0}
		if w.Topic, err = r.readString("will topic"); err != nil {
			return nil, err
		}
		if w.Payload, err = r.readBytes("will payload"); err != nil {
			return nil, err
		}
		c.Will = w
	}
	if flags&0x80 != 0 {
		if c.Username, err = r.readString("username"); err != nil {
			return nil, err
		}
	}
	if flags&0x40 != 0 {
		if c.Password, err = r.readString("password"); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// reader walks a packet body with bounds checks on every field.
type reader struct {
	t   Type
	b   []byte
	off int
}

func (r *reader) readByte(field string) (byte, error) {
	if r.off >= len(r.b) {
		return 0, decodeErr(r.t, ErrTruncated, "%s missing", field)
	}
	v := r.b[r.off]
	r.off++
	return v, nil
}

func (r *reader) readUint16(field string) (uint16, error) {
	if len(r.b)-r.off < 2 { //nolint:mnd // 16-bit field
		return 0, decodeErr(r.t, ErrTruncated, "%s needs 2 bytes, have %d", field, len(r.b)-r.off)
	}
	v := binary.BigEndian.Uint16(r.b[r.off:])
	r.off += 2
	return v, nil
}

func (r *reader) readBytes(field string) ([]byte, error) {
	n, err := r.readUint16(field + " length")
	if err != nil {
		return nil, err
	}
	if int(n) > len(r.b)-r.off {
		return nil, decodeErr(r.t, ErrTruncated, "%s length %d exceeds remaining %d bytes", field, n, len(r.b)-r.off)
	}
	v := append([]byte{}, r.b[r.off:r.off+int(n)]...)
	r.off += int(n)
	return v, nil
}

func (r *reader) readString(field string) (string, error) {
	b, err := r.readBytes(field)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) rest() []byte {
	return r.b[r.off:]
}

package packet

import (
	"bufio"
	"bytes"
	"io"
	"testing"

	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// ============================================================================
// PUBLISH
// ============================================================================

func TestPublishRoundTrip(t *testing.T) {
	in := &Publish{Topic: "home/livingroom/light", Payload: []byte("ON"), QoS: 0, Retain: true}

	frame, err := Encode(in)
	require.NoError(t, err)
	assert.Equal(t, byte(0x31), frame[0], "fixed header")

	pkt, n, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, len(frame), n)

	out, ok := pkt.(*Publish)
	require.True(t, ok, "Decode() type = %T, want *Publish", pkt)
	assert.Equal(t, in.Topic, out.Topic)
	assert.Equal(t, in.Payload, out.Payload)
	assert.Equal(t, in.QoS, out.QoS)
	assert.Equal(t, in.Retain, out.Retain)
	assert.False(t, out.Dup)
}

func TestPublishQoS1CarriesPacketID(t *testing.T) {
	frame, err := Encode(&Publish{Topic: "a", Payload: []byte("x"), QoS: 1, Dup: true})
	require.NoError(t, err)

	// header, length, topic len (2), topic (1), packet id (2), payload (1)
	assert.Equal(t, []byte{0x3A, 0x06, 0x00, 0x01, 'a', 0x00, 0x01, 'x'}, frame)

	pkt, _, err := Decode(frame)
	require.NoError(t, err)
	p := pkt.(*Publish)
	assert.Equal(t, uint16(1), p.PacketID)
	assert.True(t, p.Dup)
	assert.Equal(t, []byte("x"), p.Payload)
}

func TestDecodePublishTruncatedMidTopic(t *testing.T) {
	frame, err := Encode(&Publish{Topic: "home/livingroom/light", Payload: []byte("ON")})
	require.NoError(t, err)

	// Cut inside the topic: header(1) + length(1) + topic len(2) + 5 topic bytes.
	truncated := frame[:9]
	assert.NotPanics(t, func() {
		_, _, err = Decode(truncated)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTruncated)
	assert.True(t, IsDecodeError(err))
}

func TestDecodePublishTopicLengthBeyondBody(t *testing.T) {
	// Remaining length 4 is honoured, but the topic claims 200 bytes.
	frame := []byte{0x30, 0x04, 0x00, 0xC8, 'a', 'b'}

	_, n, err := Decode(frame)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTruncated)
	assert.Equal(t, len(frame), n, "consumed count lets callers skip the bad frame")
}

func TestDecodePublishInvalidQoS(t *testing.T) {
	_, _, err := Decode([]byte{0x36, 0x03, 0x00, 0x01, 'a'})
	assert.ErrorIs(t, err, ErrInvalidQoS)
}

func TestEncodePublishRejectsLongTopic(t *testing.T) {
	_, err := Encode(&Publish{Topic: string(make([]byte, MaxTopicLength+1))})
	assert.ErrorIs(t, err, ErrTopicTooLong)
}

func TestPublishRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := &Publish{
			Topic:   rapid.StringN(1, 64, 256).Draw(t, "topic"),
			Payload: rapid.SliceOfN(rapid.Byte(), 0, 512).Draw(t, "payload"),
			QoS:     rapid.ByteRange(0, 2).Draw(t, "qos"),
			Retain:  rapid.Bool().Draw(t, "retain"),
		}
		frame, err := Encode(in)
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		pkt, n, err := Decode(frame)
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		out := pkt.(*Publish)
		if n != len(frame) || out.Topic != in.Topic || !bytes.Equal(out.Payload, in.Payload) ||
			out.QoS != in.QoS || out.Retain != in.Retain {
			t.Fatalf("round trip mismatch: in=%+v out=%+v", in, out)
		}
	})
}

// ============================================================================
// CONNECT
// ============================================================================

func TestConnectMinimalLayout(t *testing.T) {
	frame, err := Encode(&Connect{ClientID: "ab", KeepAlive: 30, CleanSession: true})
	require.NoError(t, err)

	want := []byte{
		0x10, 0x0E,
		0x00, 0x04, 'M', 'Q', 'T', 'T',
		0x04,
		0x02,
		0x00, 0x1E,
		0x00, 0x02, 'a', 'b',
	}
	assert.Equal(t, want, frame)
}

func TestConnectFlagsAndFieldOrder(t *testing.T) {
	in := &Connect{
		ClientID:     "lightlink-01",
		Username:     "user",
		Password:     "secret",
		KeepAlive:    60,
		CleanSession: true,
		Will: &Will{
			Topic:   "client/status",
			Payload: []byte(`{"status":"offline"}`),
			QoS:     1,
			Retain:  true,
		},
	}
	frame, err := Encode(in)
	require.NoError(t, err)

	// bit7 user, bit6 pass, bit5 will retain, bits4-3 qos 1, bit2 will, bit1 clean
	assert.Equal(t, byte(0xEE), frame[2+6+1], "connect flags")

	pkt, _, err := Decode(frame)
	require.NoError(t, err)
	out := pkt.(*Connect)
	assert.Equal(t, in, out)
}

func TestConnectWithoutWillLeavesFlagClear(t *testing.T) {
	frame, err := Encode(&Connect{ClientID: "c"})
	require.NoError(t, err)
	assert.Zero(t, frame[2+6+1]&0x3C, "will bits must be clear")
}

func TestConnectRejectsWillWithoutTopic(t *testing.T) {
	_, err := Encode(&Connect{ClientID: "c", Will: &Will{Payload: []byte("x")}})
	assert.ErrorIs(t, err, ErrMalformed)
}

// ============================================================================
// SUBSCRIBE, CONNACK, fixed frames
// ============================================================================

func TestSubscribeUsesFixedPacketID(t *testing.T) {
	frame, err := Encode(&Subscribe{Filter: "sensor/data", QoS: 1})
	require.NoError(t, err)

	assert.Equal(t, byte(0x82), frame[0])
	assert.Equal(t, []byte{0x00, 0x01}, frame[2:4])
	assert.Equal(t, byte(1), frame[len(frame)-1])

	pkt, _, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, &Subscribe{Filter: "sensor/data", QoS: 1}, pkt)
}

func TestUnsubscribeShape(t *testing.T) {
	frame, err := Encode(&Unsubscribe{Filter: "time"})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xA2, 0x08, 0x00, 0x01, 0x00, 0x04, 't', 'i', 'm', 'e'}, frame)
}

func TestFixedFrames(t *testing.T) {
	tests := []struct {
		pkt  Packet
		want []byte
	}{
		{&PingReq{}, []byte{0xC0, 0x00}},
		{&PingResp{}, []byte{0xD0, 0x00}},
		{&Disconnect{}, []byte{0xE0, 0x00}},
	}
	for _, tt := range tests {
		got, err := Encode(tt.pkt)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "Encode(%s)", tt.pkt.Type())

		decoded, n, err := Decode(got)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, tt.pkt.Type(), decoded.Type())
	}

	// Encoded frames must not alias the shared templates.
	a, _ := Encode(&PingReq{})
	a[0] = 0xFF
	b, _ := Encode(&PingReq{})
	assert.Equal(t, byte(0xC0), b[0])
}

func TestConnAckDecode(t *testing.T) {
	pkt, _, err := Decode([]byte{0x20, 0x02, 0x01, 0x05})
	require.NoError(t, err)
	ack := pkt.(*ConnAck)
	assert.True(t, ack.SessionPresent)
	assert.False(t, ack.Accepted())
	assert.Equal(t, ConnRefusedNotAuthorized, ack.ReturnCode)

	_, _, err = Decode([]byte{0x20, 0x01, 0x00})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeUninterpretedTypes(t *testing.T) {
	pkt, n, err := Decode([]byte{0x90, 0x03, 0x00, 0x01, 0x00})
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	other, ok := pkt.(*Other)
	require.True(t, ok)
	assert.Equal(t, TypeSubAck, other.Type())
	assert.Equal(t, []byte{0x00, 0x01, 0x00}, other.Body)
}

func TestDecodeReservedType(t *testing.T) {
	_, _, err := Decode([]byte{0xF0, 0x00})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodePingWithBody(t *testing.T) {
	_, _, err := Decode([]byte{0xD0, 0x01, 0x00})
	assert.ErrorIs(t, err, ErrMalformed)
}

// ============================================================================
// Cross-check against an independent decoder
// ============================================================================

func decodeWithMochi(t *testing.T, frame []byte) *packets.Packet {
	t.Helper()
	r := bufio.NewReader(bytes.NewReader(frame))
	hb, err := r.ReadByte()
	require.NoError(t, err)

	fh := new(packets.FixedHeader)
	require.NoError(t, fh.Decode(hb))
	rem, _, err := packets.DecodeLength(r)
	require.NoError(t, err)
	fh.Remaining = rem

	body := make([]byte, rem)
	_, err = io.ReadFull(r, body)
	require.NoError(t, err)

	pk := &packets.Packet{FixedHeader: *fh}
	switch fh.Type {
	case packets.Connect:
		err = pk.ConnectDecode(body)
	case packets.Publish:
		err = pk.PublishDecode(body)
	case packets.Subscribe:
		err = pk.SubscribeDecode(body)
	}
	require.NoError(t, err)
	return pk
}

func TestEncodedFramesDecodeWithMochi(t *testing.T) {
	t.Run("connect", func(t *testing.T) {
		frame, err := Encode(&Connect{
			ClientID:     "lightlink-01",
			Username:     "user",
			Password:     "secret",
			KeepAlive:    30,
			CleanSession: true,
			Will:         &Will{Topic: "client/status", Payload: []byte("offline"), QoS: 1, Retain: true},
		})
		require.NoError(t, err)

		pk := decodeWithMochi(t, frame)
		assert.Equal(t, "lightlink-01", pk.Connect.ClientIdentifier)
		assert.Equal(t, uint16(30), pk.Connect.Keepalive)
		assert.True(t, pk.Connect.Clean)
		assert.True(t, pk.Connect.WillFlag)
		assert.Equal(t, "client/status", pk.Connect.WillTopic)
		assert.Equal(t, []byte("offline"), pk.Connect.WillPayload)
		assert.Equal(t, byte(1), pk.Connect.WillQos)
		assert.True(t, pk.Connect.WillRetain)
		assert.Equal(t, []byte("user"), pk.Connect.Username)
		assert.Equal(t, []byte("secret"), pk.Connect.Password)
	})

	t.Run("publish", func(t *testing.T) {
		frame, err := Encode(&Publish{Topic: "control", Payload: []byte(`{"level1":40}`), QoS: 1, Retain: true})
		require.NoError(t, err)

		pk := decodeWithMochi(t, frame)
		assert.Equal(t, "control", pk.TopicName)
		assert.Equal(t, []byte(`{"level1":40}`), pk.Payload)
		assert.Equal(t, byte(1), pk.FixedHeader.Qos)
		assert.True(t, pk.FixedHeader.Retain)
		assert.Equal(t, FixedPacketID, pk.PacketID)
	})

	t.Run("subscribe", func(t *testing.T) {
		frame, err := Encode(&Subscribe{Filter: "sensor/#", QoS: 1})
		require.NoError(t, err)

		pk := decodeWithMochi(t, frame)
		assert.Equal(t, FixedPacketID, pk.PacketID)
		require.Len(t, pk.Filters, 1)
		assert.Equal(t, "sensor/#", pk.Filters[0].Filter)
		assert.Equal(t, byte(1), pk.Filters[0].Qos)
	})
}

// Package packet encodes and decodes the subset of MQTT 3.1.1 control packets
// used by the LightLink client.
//
// The codec is a pure data transform: it never performs I/O and never panics
// on hostile input. Every length read from the wire is checked against the
// buffer before slicing, and violations are reported as *DecodeError.
//
// # Supported Packets
//
//   - CONNECT (encode, decode)
//   - CONNACK (decode, encode for test brokers)
//   - PUBLISH (encode, decode)
//   - SUBSCRIBE / UNSUBSCRIBE with the fixed packet identifier 0x0001
//   - PINGREQ, PINGRESP, DISCONNECT (two-byte frames)
//
// Any other control packet decodes to *Other so callers can still treat it as
// inbound traffic for liveness purposes.
//
// # Usage
//
//	frame, err := packet.Encode(&packet.Publish{Topic: "control", Payload: []byte(`{"level1":40}`)})
//	if err != nil {
//	    return err
//	}
//
//	pkt, n, err := packet.Decode(buf)
//	if errors.Is(err, packet.ErrTruncated) {
//	    // wait for more bytes
//	}
package packet

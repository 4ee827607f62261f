package packet

import "fmt"

// Type is the MQTT control packet type carried in the high nibble of the fixed header.
type Type byte

// Control packet types.
const (
	TypeConnect     Type = 1
	TypeConnAck     Type = 2
	TypePublish     Type = 3
	TypePubAck      Type = 4
	TypePubRec      Type = 5
	TypePubRel      Type = 6
	TypePubComp     Type = 7
	TypeSubscribe   Type = 8
	TypeSubAck      Type = 9
	TypeUnsubscribe Type = 10
	TypeUnsubAck    Type = 11
	TypePingReq     Type = 12
	TypePingResp    Type = 13
	TypeDisconnect  Type = 14
)

var typeNames = map[Type]string{
	TypeConnect:     "CONNECT",
	TypeConnAck:     "CONNACK",
	TypePublish:     "PUBLISH",
	TypePubAck:      "PUBACK",
	TypePubRec:      "PUBREC",
	TypePubRel:      "PUBREL",
	TypePubComp:     "PUBCOMP",
	TypeSubscribe:   "SUBSCRIBE",
	TypeSubAck:      "SUBACK",
	TypeUnsubscribe: "UNSUBSCRIBE",
	TypeUnsubAck:    "UNSUBACK",
	TypePingReq:     "PINGREQ",
	TypePingResp:    "PINGRESP",
	TypeDisconnect:  "DISCONNECT",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TYPE(%d)", byte(t))
}

// Protocol constants for MQTT 3.1.1.
const (
	protocolName  = "MQTT"
	protocolLevel = 0x04

	// FixedPacketID is the identifier used for every SUBSCRIBE/UNSUBSCRIBE.
	// The client keeps no identifier pool.
	FixedPacketID uint16 = 0x0001

	// MaxTopicLength is the largest topic that fits the 16-bit length prefix.
	MaxTopicLength = 65535
)

// CONNACK return codes.
const (
	ConnAccepted             byte = 0x00
	ConnRefusedProtocol      byte = 0x01
	ConnRefusedIdentifier    byte = 0x02
	ConnRefusedUnavailable   byte = 0x03
	ConnRefusedBadCredential byte = 0x04
	ConnRefusedNotAuthorized byte = 0x05
)

// Packet is implemented by every decoded or encodable control packet.
type Packet interface {
	Type() Type
}

// Will is the message the broker publishes if the client disappears uncleanly.
type Will struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// Connect opens a session. Empty Username/Password are treated as absent.
type Connect struct {
	ClientID     string
	Username     string
	Password     string
	KeepAlive    uint16
	CleanSession bool
	Will         *Will
}

// ConnAck is the broker's answer to Connect.
type ConnAck struct {
	SessionPresent bool
	ReturnCode     byte
}

// Accepted reports whether the broker accepted the connection.
func (c *ConnAck) Accepted() bool { return c.ReturnCode == ConnAccepted }

// Publish carries an application message.
type Publish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retain   bool
	Dup      bool
	PacketID uint16
}

// Subscribe requests a single topic filter.
type Subscribe struct {
	Filter string
	QoS    byte
}

// Unsubscribe removes a single topic filter.
type Unsubscribe struct {
	Filter string
}

// PingReq is the keepalive probe.
type PingReq struct{}

// PingResp is the broker's keepalive answer.
type PingResp struct{}

// Disconnect announces an orderly close.
type Disconnect struct{}

// Other is any control packet the client does not interpret (SUBACK, PUBACK, ...).
type Other struct {
	Kind  Type
	Flags byte
	Body  []byte
}

func (*Connect) Type() Type     { return TypeConnect }
func (*ConnAck) Type() Type     { return TypeConnAck }
func (*Publish) Type() Type     { return TypePublish }
func (*Subscribe) Type() Type   { return TypeSubscribe }
func (*Unsubscribe) Type() Type { return TypeUnsubscribe }
func (*PingReq) Type() Type     { return TypePingReq }
func (*PingResp) Type() Type    { return TypePingResp }
func (*Disconnect) Type() Type  { return TypeDisconnect }
func (o *Other) Type() Type     { return o.Kind }

// Pre-encoded two-byte frames.
var (
	pingReqFrame    = []byte{0xC0, 0x00}
	pingRespFrame   = []byte{0xD0, 0x00}
	disconnectFrame = []byte{0xE0, 0x00}
)

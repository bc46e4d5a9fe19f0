package protocol

import "github.com/pkg/errors"

// connect flag bits, bit 0 is reserved and must be 0
const (
	connFlagReserved     = 0x01
	connFlagCleanSession = 0x02
	connFlagWill         = 0x04
	connFlagWillQoS      = 0x18
	connFlagWillRetain   = 0x20
	connFlagPassword     = 0x40
	connFlagUsername     = 0x80
)

// ProtocolName and ProtocolLevel are what NewConnectPacket fills in,
// MQTT 3.1.1
const (
	ProtocolName  = "MQTT"
	ProtocolLevel = 4
)

/*
	CONNECT PACKET
*/

// ConnectPacket is the first packet a client sends. The codec does not
// judge the protocol name or level, the broker does.
type ConnectPacket struct {
	ProtocolName  string
	ProtocolLevel byte
	CleanSession  bool
	WillFlag      bool
	WillQoS       byte
	WillRetain    bool
	KeepAlive     uint16
	ClientID      string
	WillTopic     string
	WillMessage   []byte
	UsernameFlag  bool
	Username      []byte
	PasswordFlag  bool
	Password      []byte
}

// ConnectPacketConfig is used to set up a connect packet
type ConnectPacketConfig struct {
	ClientID         string
	Username         []byte
	Password         []byte
	KeepAliveSeconds uint16
	CleanSession     bool
	WillTopic        string
	WillMessage      []byte
	WillQoS          byte
	WillRetain       bool
}

// NewConnectPacket builds an MQTT 3.1.1 connect packet. A will is set
// when WillTopic is non empty.
func NewConnectPacket(cfg *ConnectPacketConfig) (*ConnectPacket, error) {
	if cfg.WillQoS > 2 {
		return nil, errors.Errorf("invalid will qos: %d", cfg.WillQoS)
	}
	pkt := &ConnectPacket{
		ProtocolName:  ProtocolName,
		ProtocolLevel: ProtocolLevel,
		CleanSession:  cfg.CleanSession,
		KeepAlive:     cfg.KeepAliveSeconds,
		ClientID:      cfg.ClientID,
		UsernameFlag:  cfg.Username != nil,
		Username:      cfg.Username,
		PasswordFlag:  cfg.Password != nil,
		Password:      cfg.Password,
	}
	if cfg.WillTopic != "" {
		pkt.WillFlag = true
		pkt.WillTopic = cfg.WillTopic
		pkt.WillMessage = cfg.WillMessage
		pkt.WillQoS = cfg.WillQoS
		pkt.WillRetain = cfg.WillRetain
	} else if cfg.WillQoS != 0 || cfg.WillRetain || cfg.WillMessage != nil {
		return nil, errors.New("will qos, retain and message require a will topic")
	}
	return pkt, nil
}

func (p *ConnectPacket) Type() PacketType { return Connect }

func (p *ConnectPacket) connectFlags() byte {
	var flags byte
	if p.CleanSession {
		flags |= connFlagCleanSession
	}
	if p.WillFlag {
		flags |= connFlagWill
		flags |= (p.WillQoS << 3) & connFlagWillQoS
		if p.WillRetain {
			flags |= connFlagWillRetain
		}
	}
	if p.PasswordFlag {
		flags |= connFlagPassword
	}
	if p.UsernameFlag {
		flags |= connFlagUsername
	}
	return flags
}

// Serialize serializes the contents of a connect packet into
// a []byte buffer.
func (p *ConnectPacket) Serialize(b []byte) ([]byte, error) {
	if p.WillQoS > 2 || (!p.WillFlag && (p.WillQoS != 0 || p.WillRetain)) {
		return nil, ErrInvalidPacket
	}
	err := checkStrLen([]byte(p.ProtocolName), []byte(p.ClientID),
		[]byte(p.WillTopic), p.WillMessage, p.Username, p.Password)
	if err != nil {
		return nil, err
	}
	payloadLen := p.payloadLen()
	b, err = allocFor(b, payloadLen)
	if err != nil {
		return nil, err
	}
	buf := newWritableBuf(b)
	buf.WriteByte(serializeControlByte(Connect))
	writePayloadSize(buf, uint32(payloadLen))
	// variable header
	buf.writeMQTTStr([]byte(p.ProtocolName))
	buf.WriteByte(p.ProtocolLevel)
	buf.WriteByte(p.connectFlags())
	buf.WriteUInt16(p.KeepAlive)
	// payload
	buf.writeMQTTStr([]byte(p.ClientID))
	if p.WillFlag {
		buf.writeMQTTStr([]byte(p.WillTopic))
		buf.writeMQTTStr(p.WillMessage)
	}
	if p.UsernameFlag {
		buf.writeMQTTStr(p.Username)
	}
	if p.PasswordFlag {
		buf.writeMQTTStr(p.Password)
	}
	return b[:buf.bytesWritten()], nil
}

func (p *ConnectPacket) payloadLen() int {
	n := 2 + len(p.ProtocolName) +
		1 + // protocol level
		1 + // connect flags
		2 + // keep alive
		2 + len(p.ClientID)
	if p.WillFlag {
		n += 2 + len(p.WillTopic) + 2 + len(p.WillMessage)
	}
	if p.UsernameFlag {
		n += 2 + len(p.Username)
	}
	if p.PasswordFlag {
		n += 2 + len(p.Password)
	}
	return n
}

// Len returns number of bytes connect packet will
// take when serialized
func (p *ConnectPacket) Len() int {
	return pktLen(p.payloadLen())
}

// DeserializeConnectPktPayload parses the body of a connect packet
func DeserializeConnectPktPayload(f FixedHeader, p []byte) (*ConnectPacket, error) {
	pkt := &ConnectPacket{}
	pr := &pktReader{from: p}
	pkt.ProtocolName = pr.readStr()
	pkt.ProtocolLevel = pr.readByte()
	flags := pr.readByte()
	pkt.KeepAlive = pr.readUInt16()
	if pr.err != nil {
		return nil, pr.err
	}
	if flags&connFlagReserved != 0 {
		return nil, ErrInvalidPacket
	}
	pkt.CleanSession = flags&connFlagCleanSession != 0
	pkt.WillFlag = flags&connFlagWill != 0
	pkt.WillQoS = (flags & connFlagWillQoS) >> 3
	pkt.WillRetain = flags&connFlagWillRetain != 0
	pkt.PasswordFlag = flags&connFlagPassword != 0
	pkt.UsernameFlag = flags&connFlagUsername != 0
	if pkt.WillQoS > 2 || (!pkt.WillFlag && (pkt.WillQoS != 0 || pkt.WillRetain)) {
		return nil, ErrInvalidPacket
	}

	pkt.ClientID = pr.readStr()
	if pkt.WillFlag {
		pkt.WillTopic = pr.readStr()
		pkt.WillMessage = pr.readBytes()
	}
	if pkt.UsernameFlag {
		pkt.Username = pr.readBytes()
	}
	if pkt.PasswordFlag {
		pkt.Password = pr.readBytes()
	}
	if err := pr.done(); err != nil {
		return nil, err
	}
	return pkt, nil
}

/*
	CONNACK PACKET
*/

// ConnackPacket is the broker's answer to CONNECT
type ConnackPacket struct {
	SessionPresent bool
	ReturnCode     ConnectReturnCode
}

// ConnectReturnCode is the second byte of a CONNACK body
type ConnectReturnCode byte

const (
	ConnAccepted ConnectReturnCode = iota
	ConnRefusedUnacceptableProtocol
	ConnRefusedIdentifierRejected
	ConnRefusedServerUnavailable
	ConnRefusedBadUsernamePass
	ConnRefusedNotAuthorized
)

func (code ConnectReturnCode) String() string {
	switch code {
	case ConnAccepted:
		return "Connection accepted"
	case ConnRefusedUnacceptableProtocol:
		return "The Server does not support the level of the MQTT protocol requested by the Client"
	case ConnRefusedIdentifierRejected:
		return "The Client identifier is correct UTF-8 but not allowed by the Server"
	case ConnRefusedServerUnavailable:
		return "The Network Connection has been made but the MQTT service is unavailable"
	case ConnRefusedBadUsernamePass:
		return "The data in the user name or password is malformed"
	case ConnRefusedNotAuthorized:
		return "The Client is not authorized to connect"
	default:
		return "Reserved for future use"
	}
}

func (p *ConnackPacket) Type() PacketType { return Connack }

func (p *ConnackPacket) Serialize(b []byte) ([]byte, error) {
	if b == nil {
		b = make([]byte, 4)
	}
	if len(b) < 4 {
		return nil, ErrShortBuffer
	}
	b[0] = serializeControlByte(Connack)
	b[1] = 2 // remaining length
	if p.SessionPresent {
		b[2] = 1
	} else {
		b[2] = 0
	}
	b[3] = byte(p.ReturnCode)
	return b[:4], nil
}

// Len is 2 bytes for the fixed header, 2 for the variable header
func (p *ConnackPacket) Len() int { return 4 }

// ConnectionAccepted reports whether the broker took the connection
// and describes the return code.
func (p *ConnackPacket) ConnectionAccepted() (ok bool, description string) {
	return p.ReturnCode == ConnAccepted, p.ReturnCode.String()
}

// DeserializeConnackPktPayload parses the body of a connack packet
func DeserializeConnackPktPayload(f FixedHeader, p []byte) (*ConnackPacket, error) {
	pr := &pktReader{from: p}
	ack := pr.readByte()
	code := pr.readByte()
	if err := pr.done(); err != nil {
		return nil, err
	}
	return &ConnackPacket{
		SessionPresent: ack&0x01 != 0,
		ReturnCode:     ConnectReturnCode(code),
	}, nil
}

/*
	DISCONNECT PACKET
*/

// DisconnectPacket is the last packet a well behaved client sends
type DisconnectPacket struct{}

func (p *DisconnectPacket) Type() PacketType { return Disconnect }

func (p *DisconnectPacket) Serialize(b []byte) ([]byte, error) {
	return serializeEmpty(Disconnect, b)
}

// Len is always 2, disconnect has no body
func (p *DisconnectPacket) Len() int { return 2 }

package protocol

// SubackFailure is the SUBACK return code for a rejected subscription
const SubackFailure byte = 0x80

// TopicQoS holds both a topic and it's qos
type TopicQoS struct {
	Topic string
	QoS   byte
}

// SubscribePacket is an in-mem representation
// of a sub packet. Requested QoS values are kept as received, it's up
// to the broker to grant or refuse them.
type SubscribePacket struct {
	MessageID uint16
	Topics    []TopicQoS
}

func (p *SubscribePacket) Type() PacketType { return Subscribe }

// AddTopic appends a topic filter plus requested QoS level
func (p *SubscribePacket) AddTopic(topic string, qos byte) {
	p.Topics = append(p.Topics, TopicQoS{topic, qos})
}

// Serialize serializes the contents of a subscribe packet into
// a []byte buffer.
func (p *SubscribePacket) Serialize(b []byte) ([]byte, error) {
	for _, t := range p.Topics {
		if err := checkStrLen([]byte(t.Topic)); err != nil {
			return nil, err
		}
	}
	payloadLen := p.payloadLen()
	b, err := allocFor(b, payloadLen)
	if err != nil {
		return nil, err
	}
	buf := newWritableBuf(b)
	buf.WriteByte(serializeControlByte(Subscribe))
	writePayloadSize(buf, uint32(payloadLen))
	buf.WriteUInt16(p.MessageID)
	for _, t := range p.Topics {
		buf.writeMQTTStr([]byte(t.Topic))
		buf.WriteByte(t.QoS)
	}
	return b[:buf.bytesWritten()], nil
}

func (p *SubscribePacket) payloadLen() int {
	payloadLen := 2 // for packet identifier
	for _, t := range p.Topics {
		payloadLen = payloadLen + 2 + len(t.Topic) + 1
	}
	return payloadLen
}

// Len returns number of bytes subscribe packet will
// take when serialized
func (p *SubscribePacket) Len() int {
	return pktLen(p.payloadLen())
}

// DeserializeSubscribePktPayload parses the body of a subscribe packet
func DeserializeSubscribePktPayload(f FixedHeader, p []byte) (*SubscribePacket, error) {
	pkt := &SubscribePacket{}
	pr := &pktReader{from: p}
	pkt.MessageID = pr.readUInt16()
	for !pr.isReadComplete() {
		topic := pr.readStr()
		qos := pr.readByte()
		pkt.AddTopic(topic, qos)
	}
	if pr.err != nil {
		return nil, pr.err
	}
	return pkt, nil
}

// SubackPacket carries one return code per requested topic, in
// request order
type SubackPacket struct {
	MessageID   uint16
	ReturnCodes []byte
}

func (p *SubackPacket) Type() PacketType { return Suback }

// AddCode might be failure or QoS
func (p *SubackPacket) AddCode(c byte) {
	p.ReturnCodes = append(p.ReturnCodes, c)
}

// Serialize serializes the contents of a suback packet into
// a []byte buffer.
func (p *SubackPacket) Serialize(b []byte) ([]byte, error) {
	payloadLen := p.payloadLen()
	b, err := allocFor(b, payloadLen)
	if err != nil {
		return nil, err
	}
	buf := newWritableBuf(b)
	buf.WriteByte(serializeControlByte(Suback))
	writePayloadSize(buf, uint32(payloadLen))
	buf.WriteUInt16(p.MessageID)
	buf.Write(p.ReturnCodes)
	return b[:buf.bytesWritten()], nil
}

func (p *SubackPacket) payloadLen() int {
	return 2 + len(p.ReturnCodes)
}

func (p *SubackPacket) Len() int {
	return pktLen(p.payloadLen())
}

// DeserializeSubackPktPayload parses the body of a suback packet
func DeserializeSubackPktPayload(f FixedHeader, p []byte) (*SubackPacket, error) {
	pkt := &SubackPacket{}
	pr := &pktReader{from: p}
	pkt.MessageID = pr.readUInt16()
	pkt.ReturnCodes = pr.readRest()
	if pr.err != nil {
		return nil, pr.err
	}
	return pkt, nil
}

// UnsubscribePacket is an in-mem representation
// of a Unsubscribe packet
type UnsubscribePacket struct {
	MessageID uint16
	Topics    []string
}

func (p *UnsubscribePacket) Type() PacketType { return Unsubscribe }

// Serialize serializes the contents of a unsub packet into
// a []byte buffer.
func (p *UnsubscribePacket) Serialize(b []byte) ([]byte, error) {
	for _, topic := range p.Topics {
		if err := checkStrLen([]byte(topic)); err != nil {
			return nil, err
		}
	}
	payloadLen := p.payloadLen()
	b, err := allocFor(b, payloadLen)
	if err != nil {
		return nil, err
	}
	buf := newWritableBuf(b)
	buf.WriteByte(serializeControlByte(Unsubscribe))
	writePayloadSize(buf, uint32(payloadLen))
	buf.WriteUInt16(p.MessageID)
	for _, topic := range p.Topics {
		buf.writeMQTTStr([]byte(topic))
	}
	return b[:buf.bytesWritten()], nil
}

func (p *UnsubscribePacket) payloadLen() int {
	payloadLen := 2
	for _, topic := range p.Topics {
		payloadLen = payloadLen + 2 + len(topic)
	}
	return payloadLen
}

func (p *UnsubscribePacket) Len() int {
	return pktLen(p.payloadLen())
}

// DeserializeUnsubscribePktPayload parses the body of an unsubscribe packet
func DeserializeUnsubscribePktPayload(f FixedHeader, p []byte) (*UnsubscribePacket, error) {
	pkt := &UnsubscribePacket{}
	pr := &pktReader{from: p}
	pkt.MessageID = pr.readUInt16()
	for !pr.isReadComplete() {
		pkt.Topics = append(pkt.Topics, pr.readStr())
	}
	if pr.err != nil {
		return nil, pr.err
	}
	return pkt, nil
}

// UnsubackPacket is an in-mem representation
// of a unsuback packet
type UnsubackPacket struct {
	MessageID uint16
}

func (p *UnsubackPacket) Type() PacketType { return Unsuback }

func (p *UnsubackPacket) Serialize(b []byte) ([]byte, error) {
	return serializeAck(Unsuback, p.MessageID, b)
}

// Len is the fixed header (2 bytes) plus the message id (2)
func (p *UnsubackPacket) Len() int { return 4 }

// DeserializeUnsubackPktPayload parses the body of an unsuback packet
func DeserializeUnsubackPktPayload(f FixedHeader, p []byte) (*UnsubackPacket, error) {
	pkt, err := deserializeAckPktPayload(f, p)
	if err != nil {
		return nil, err
	}
	return pkt.(*UnsubackPacket), nil
}

package protocol

// PublishPacket carries an application message. MessageID is only
// present on the wire when QoS > 0.
type PublishPacket struct {
	Dup       bool
	QoS       byte
	Retain    bool
	Topic     string
	MessageID uint16
	Payload   []byte
}

func (p *PublishPacket) Type() PacketType { return Publish }

// Serialize serializes the contents of a publish packet into
// a []byte buffer.
func (p *PublishPacket) Serialize(b []byte) ([]byte, error) {
	if p.QoS > 2 {
		return nil, ErrInvalidPacket
	}
	if err := checkStrLen([]byte(p.Topic)); err != nil {
		return nil, err
	}
	payloadLen := p.payloadLen()
	b, err := allocFor(b, payloadLen)
	if err != nil {
		return nil, err
	}
	buf := newWritableBuf(b)
	buf.WriteByte(serializePublishControlByte(p.QoS, p.Dup, p.Retain))
	writePayloadSize(buf, uint32(payloadLen))
	buf.writeMQTTStr([]byte(p.Topic))
	if p.QoS > 0 {
		buf.WriteUInt16(p.MessageID)
	}
	buf.Write(p.Payload)
	return b[:buf.bytesWritten()], nil
}

func (p *PublishPacket) payloadLen() int {
	n := 2 + len(p.Topic) + len(p.Payload)
	if p.QoS > 0 {
		n += 2
	}
	return n
}

// Len returns number of bytes publish packet will
// take when serialized
func (p *PublishPacket) Len() int {
	return pktLen(p.payloadLen())
}

// DeserializePublishPktPayload parses the body of a publish packet. The
// dup, qos and retain flags come from the fixed header.
func DeserializePublishPktPayload(f FixedHeader, p []byte) (*PublishPacket, error) {
	pkt := &PublishPacket{
		Dup:    f.Dup(),
		QoS:    f.QoS(),
		Retain: f.Retain(),
	}
	if pkt.QoS > 2 {
		return nil, ErrInvalidPacket
	}
	pr := &pktReader{from: p}
	pkt.Topic = pr.readStr()
	if pkt.QoS > 0 {
		pkt.MessageID = pr.readUInt16()
	}
	pkt.Payload = pr.readRest()
	if pr.err != nil {
		return nil, pr.err
	}
	return pkt, nil
}

/*
	PUBLISH ACKNOWLEDGEMENTS
	PUBACK, PUBREC, PUBREL and PUBCOMP only carry a message id
*/

// PubackPacket acknowledges a QoS 1 publish
type PubackPacket struct {
	MessageID uint16
}

func (p *PubackPacket) Type() PacketType { return Puback }

func (p *PubackPacket) Serialize(b []byte) ([]byte, error) {
	return serializeAck(Puback, p.MessageID, b)
}

func (p *PubackPacket) Len() int { return 4 }

// PubrecPacket is the first QoS 2 acknowledgement
type PubrecPacket struct {
	MessageID uint16
}

func (p *PubrecPacket) Type() PacketType { return Pubrec }

func (p *PubrecPacket) Serialize(b []byte) ([]byte, error) {
	return serializeAck(Pubrec, p.MessageID, b)
}

func (p *PubrecPacket) Len() int { return 4 }

// PubrelPacket answers a PUBREC
type PubrelPacket struct {
	MessageID uint16
}

func (p *PubrelPacket) Type() PacketType { return Pubrel }

func (p *PubrelPacket) Serialize(b []byte) ([]byte, error) {
	return serializeAck(Pubrel, p.MessageID, b)
}

func (p *PubrelPacket) Len() int { return 4 }

// PubcompPacket completes a QoS 2 exchange
type PubcompPacket struct {
	MessageID uint16
}

func (p *PubcompPacket) Type() PacketType { return Pubcomp }

func (p *PubcompPacket) Serialize(b []byte) ([]byte, error) {
	return serializeAck(Pubcomp, p.MessageID, b)
}

func (p *PubcompPacket) Len() int { return 4 }

// serializeAck writes the 4 byte form shared by every packet whose body
// is a lone message id
func serializeAck(c PacketType, id uint16, b []byte) ([]byte, error) {
	if b == nil {
		b = make([]byte, 4)
	}
	if len(b) < 4 {
		return nil, ErrShortBuffer
	}
	b[0] = serializeControlByte(c)
	b[1] = 2
	b[2] = byte(id >> 8)
	b[3] = byte(id)
	return b[:4], nil
}

func deserializeAckPktPayload(f FixedHeader, p []byte) (Packet, error) {
	pr := &pktReader{from: p}
	id := pr.readUInt16()
	if err := pr.done(); err != nil {
		return nil, err
	}
	switch f.PktType {
	case Puback:
		return &PubackPacket{MessageID: id}, nil
	case Pubrec:
		return &PubrecPacket{MessageID: id}, nil
	case Pubrel:
		return &PubrelPacket{MessageID: id}, nil
	case Pubcomp:
		return &PubcompPacket{MessageID: id}, nil
	case Unsuback:
		return &UnsubackPacket{MessageID: id}, nil
	}
	return nil, ErrUnknownCommand
}

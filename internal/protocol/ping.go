package protocol

/*
	PING REQUEST PACKET
*/

// PingreqPacket is sent by clients to keep the connection alive
type PingreqPacket struct{}

func (p *PingreqPacket) Type() PacketType { return Pingreq }

func (p *PingreqPacket) Serialize(b []byte) ([]byte, error) {
	return serializeEmpty(Pingreq, b)
}

// Len is always 2, a control byte and a zero remaining length
func (p *PingreqPacket) Len() int { return 2 }

/*
	PING RESPONSE PACKET
*/

// PingrespPacket answers a PINGREQ
type PingrespPacket struct{}

func (p *PingrespPacket) Type() PacketType { return Pingresp }

func (p *PingrespPacket) Serialize(b []byte) ([]byte, error) {
	return serializeEmpty(Pingresp, b)
}

func (p *PingrespPacket) Len() int { return 2 }

func serializeEmpty(c PacketType, b []byte) ([]byte, error) {
	if b == nil {
		b = make([]byte, 2)
	}
	if len(b) < 2 {
		return nil, ErrShortBuffer
	}
	b[0] = serializeControlByte(c)
	b[1] = 0 // no payload
	return b[:2], nil
}

func deserializeEmptyPktPayload(f FixedHeader, p []byte) (Packet, error) {
	if len(p) != 0 {
		return nil, ErrInvalidPacket
	}
	switch f.PktType {
	case Pingreq:
		return &PingreqPacket{}, nil
	case Pingresp:
		return &PingrespPacket{}, nil
	case Disconnect:
		return &DisconnectPacket{}, nil
	}
	return nil, ErrUnknownCommand
}

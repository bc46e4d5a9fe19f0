package protocol

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
)

// Packet represents all the methods a packet should implement
type Packet interface {
	Type() PacketType
	// Serialize writes the packet into b and returns the written
	// slice. A nil b is allocated with the exact size required.
	Serialize(b []byte) ([]byte, error)
	// Len is the number of bytes Serialize will write
	Len() int
}

// Reader is what the streaming decoder reads frames from
type Reader interface {
	io.Reader
	io.ByteReader
}

// Encode serializes p into a freshly allocated buffer
func Encode(p Packet) ([]byte, error) {
	b, err := p.Serialize(nil)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %s", p.Type())
	}
	return b, nil
}

// Decode parses the first packet in b. While b does not yet hold a full
// frame it returns a nil packet, 0 and a nil error. Otherwise it returns
// the packet and the number of bytes it took up.
func Decode(b []byte) (Packet, int, error) {
	n, err := FrameLength(b)
	if err != nil || n == 0 {
		return nil, 0, err
	}
	f, err := ReadFixedHeader(bytes.NewReader(b[:n]))
	if err != nil {
		return nil, 0, err
	}
	pkt, err := DeserializePayload(f, b[n-int(f.PayloadSize):n])
	if err != nil {
		return nil, 0, err
	}
	return pkt, n, nil
}

// ReadPacket reads a single packet from r. Bodies larger than maxSize
// are rejected with ErrPacketTooLarge before being read; a maxSize of
// zero or less means no limit beyond the protocol's own.
func ReadPacket(r Reader, maxSize int) (Packet, error) {
	f, err := ReadFixedHeader(r)
	if err != nil {
		return nil, err
	}
	if isReservedPacketType(f.PktType) {
		return nil, ErrUnknownCommand
	}
	if maxSize > 0 && int(f.PayloadSize) > maxSize {
		return nil, errors.Wrapf(ErrPacketTooLarge, "%s body of %d bytes", f.PktType, f.PayloadSize)
	}
	buf := make([]byte, f.PayloadSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrapf(err, "reading %s body", f.PktType)
	}
	return DeserializePayload(f, buf)
}

// DeserializePayload builds the packet described by f out of its body.
// The flags nibble is only looked at for PUBLISH.
func DeserializePayload(f FixedHeader, p []byte) (pkt Packet, err error) {
	switch f.PktType {
	case Connect:
		pkt, err = DeserializeConnectPktPayload(f, p)
	case Connack:
		pkt, err = DeserializeConnackPktPayload(f, p)
	case Publish:
		pkt, err = DeserializePublishPktPayload(f, p)
	case Puback, Pubrec, Pubrel, Pubcomp:
		pkt, err = deserializeAckPktPayload(f, p)
	case Subscribe:
		pkt, err = DeserializeSubscribePktPayload(f, p)
	case Suback:
		pkt, err = DeserializeSubackPktPayload(f, p)
	case Unsubscribe:
		pkt, err = DeserializeUnsubscribePktPayload(f, p)
	case Unsuback:
		pkt, err = DeserializeUnsubackPktPayload(f, p)
	case Pingreq, Pingresp, Disconnect:
		pkt, err = deserializeEmptyPktPayload(f, p)
	default:
		return nil, ErrUnknownCommand
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s", f.PktType)
	}
	return pkt, nil
}

// allocFor checks the body fits the remaining length field and that b
// can hold the whole packet, allocating b if nil.
func allocFor(b []byte, payloadLen int) ([]byte, error) {
	if payloadLen > MaxPayloadSize {
		return nil, ErrPacketTooLarge
	}
	lenPkt := 1 + lenPayloadSizeField(payloadLen) + payloadLen
	if b == nil {
		b = make([]byte, lenPkt)
	}
	if len(b) < lenPkt {
		return nil, ErrShortBuffer
	}
	return b, nil
}

func pktLen(payloadLen int) int {
	return 1 + // control pkt type + flags
		lenPayloadSizeField(payloadLen) + // remaining length field
		payloadLen
}

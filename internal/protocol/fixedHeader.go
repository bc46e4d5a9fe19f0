package protocol

import (
	"io"

	"github.com/pkg/errors"
)

// MaxPayloadSize is the largest value the remaining length field can hold
const MaxPayloadSize = 268435455

// maxPayloadSizeBytes is the max number of bytes the remaining
// length field may take up
const maxPayloadSizeBytes = 4

// FixedHeader is the decoded first part of every control packet
type FixedHeader struct {
	PktType     PacketType
	Flags       uint8
	PayloadSize uint32
}

// Dup is only meaningful for PUBLISH
func (f FixedHeader) Dup() bool { return f.Flags&publishFlagDup != 0 }

// QoS is only meaningful for PUBLISH
func (f FixedHeader) QoS() byte { return (f.Flags & publishFlagQoS) >> 1 }

// Retain is only meaningful for PUBLISH
func (f FixedHeader) Retain() bool { return f.Flags&publishFlagRetain != 0 }

// IsValidFlagsSet reports whether the flags nibble holds what MQTT
// 3.1.1 mandates for the packet type. Decoding is lenient and only
// rejects a PUBLISH qos of 3.
func (f FixedHeader) IsValidFlagsSet() bool {
	if f.PktType == Publish {
		return f.QoS() < 3
	}
	return f.Flags == reservedFlags(f.PktType)
}

func writePayloadSize(w io.ByteWriter, n uint32) (bytesWritten int, err error) {
	for {
		encodedByte := byte(n % 0x80)
		n = n >> 7
		if n > 0 {
			encodedByte = encodedByte | 0x80
		}
		if err = w.WriteByte(encodedByte); err != nil {
			return
		}
		bytesWritten++
		if n == 0 {
			break
		}
	}
	return
}

// lenPayloadSizeField returns the number of bytes the remaining length
// field takes up for a body of n bytes
func lenPayloadSizeField(n int) int {
	switch {
	case n < 128:
		return 1
	case n < 16384:
		return 2
	case n < 2097152:
		return 3
	default:
		return 4
	}
}

// readPayloadSize decodes the remaining length field. It never consumes
// more than 4 bytes: a 4th byte with the continuation bit set is
// ErrMalformedLength. Running out of bytes mid-field is reported as
// io.ErrUnexpectedEOF.
func readPayloadSize(r io.ByteReader) (val uint32, err error) {
	encodedByte, err := r.ReadByte()
	if err != nil {
		return 0, errors.Wrap(err, "reading remaining length")
	}
	val = uint32(encodedByte & 0x7F)
	var bytesRead int = 1
	for {
		// 8th bit indicates continuation
		if (encodedByte & 0x80) == 0 {
			break
		}
		if bytesRead == maxPayloadSizeBytes {
			return val, ErrMalformedLength
		}
		encodedByte, err = r.ReadByte()
		if err == io.EOF {
			return val, errors.Wrap(io.ErrUnexpectedEOF, "reading remaining length")
		} else if err != nil {
			return val, errors.Wrap(err, "reading remaining length")
		}
		val += uint32(encodedByte&0x7F) << (7 * bytesRead)
		bytesRead++
	}
	return val, nil
}

// ReadFixedHeader reads the control byte and the remaining length field
func ReadFixedHeader(r io.ByteReader) (f FixedHeader, err error) {
	c, err := r.ReadByte()
	if err != nil {
		return f, err
	}
	f.PktType, f.Flags = deserializeControlByte(c)
	f.PayloadSize, err = readPayloadSize(r)
	return f, err
}

// FrameLength reports the total length (fixed header plus body) of the
// packet at the start of b. It returns 0 while b does not yet hold the
// complete frame, and ErrMalformedLength if the remaining length field
// is longer than 4 bytes.
func FrameLength(b []byte) (int, error) {
	if len(b) < 2 {
		return 0, nil
	}
	var (
		size       int
		multiplier = 1
	)
	for i := 1; ; i++ {
		if i > maxPayloadSizeBytes {
			return 0, ErrMalformedLength
		}
		if i >= len(b) {
			return 0, nil
		}
		digit := b[i]
		size += int(digit&0x7F) * multiplier
		if digit&0x80 == 0 {
			total := 1 + i + size
			if len(b) < total {
				return 0, nil
			}
			return total, nil
		}
		multiplier *= 128
	}
}

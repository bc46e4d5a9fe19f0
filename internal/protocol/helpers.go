package protocol

import "errors"

var (
	// ErrInvalidPacket is returned for packets whose content breaks
	// the wire format in a way not covered by a more specific error
	ErrInvalidPacket = errors.New("packet content is invalid")

	// ErrShortBuffer is returned by Serialize when the supplied
	// buffer cannot hold the encoded packet
	ErrShortBuffer = errors.New("buffer is too short")

	// ErrMalformedLength is returned when the remaining length field
	// uses more than 4 bytes
	ErrMalformedLength = errors.New("malformed remaining length, 4th byte's 8th bit indicates continue")

	// ErrTruncatedBuffer is returned when a declared string, integer
	// or payload extends past the end of the packet body
	ErrTruncatedBuffer = errors.New("declared length exceeds available bytes")

	// ErrUnknownCommand is returned for the reserved command codes 0 and 15
	ErrUnknownCommand = errors.New("unknown control packet type")

	// ErrPacketTooLarge is returned when a body exceeds the largest
	// encodable remaining length, or a configured maximum
	ErrPacketTooLarge = errors.New("packet too large")

	// ErrStringTooLong is returned when a string does not fit a
	// 16-bit length prefix
	ErrStringTooLong = errors.New("string longer than 65535 bytes")
)

const maxStrLen = 0xFFFF

type writableBuf struct {
	buf            []byte
	lastWriteIndex int
}

func newWritableBuf(b []byte) *writableBuf {
	return &writableBuf{
		buf:            b,
		lastWriteIndex: -1,
	}
}

func (b *writableBuf) bytesWritten() int {
	return b.lastWriteIndex + 1
}

func (b *writableBuf) WriteByte(c byte) error {
	b.lastWriteIndex++
	b.buf[b.lastWriteIndex] = c
	return nil
}

func (b *writableBuf) Write(p []byte) (n int, err error) {
	n = len(p)
	copy(b.buf[b.lastWriteIndex+1:], p)
	b.lastWriteIndex += n
	return
}

// WriteUInt16 writes n big-endian
func (b *writableBuf) WriteUInt16(n uint16) {
	b.WriteByte(byte(n >> 8))
	b.WriteByte(byte(n))
}

// writeMQTTStr writes a 2 byte length prefix followed by str.
// Callers check the length with checkStrLen beforehand.
func (b *writableBuf) writeMQTTStr(str []byte) {
	b.WriteUInt16(uint16(len(str)))
	b.Write(str)
}

func checkStrLen(strs ...[]byte) error {
	for _, s := range strs {
		if len(s) > maxStrLen {
			return ErrStringTooLong
		}
	}
	return nil
}

// pktReader reads the body of a single packet. The first error is
// sticky: every read after it is a no-op returning zero values.
// Returned slices are copies and never alias from.
type pktReader struct {
	i    int
	err  error
	from []byte
}

func (r *pktReader) isReadComplete() bool {
	return r.err != nil || r.i >= len(r.from)
}

func (r *pktReader) remaining() int {
	return len(r.from) - r.i
}

func (r *pktReader) readByte() (c byte) {
	if r.err == nil {
		if r.i+1 > len(r.from) {
			r.err = ErrTruncatedBuffer
			return
		}
		c = r.from[r.i]
		r.i++
	}
	return
}

func (r *pktReader) readUInt16() (num uint16) {
	if r.err == nil {
		if r.i+2 > len(r.from) {
			r.err = ErrTruncatedBuffer
			return
		}
		num = (uint16(r.from[r.i]) << 8) + uint16(r.from[r.i+1])
		r.i += 2
	}
	return
}

// readBytes reads a length prefixed byte string. A zero length string
// is returned as nil.
func (r *pktReader) readBytes() (str []byte) {
	strLen := int(r.readUInt16())
	if r.err == nil {
		if r.i+strLen > len(r.from) {
			r.err = ErrTruncatedBuffer
			return
		}
		if strLen > 0 {
			str = append([]byte(nil), r.from[r.i:r.i+strLen]...)
			r.i += strLen
		}
	}
	return
}

func (r *pktReader) readStr() string {
	return string(r.readBytes())
}

// readRest consumes everything left in the body
func (r *pktReader) readRest() (buf []byte) {
	if r.err == nil && r.i < len(r.from) {
		buf = append([]byte(nil), r.from[r.i:]...)
		r.i = len(r.from)
	}
	return
}

// done reports the sticky error, or ErrInvalidPacket when bytes are
// left over after a fixed size body.
func (r *pktReader) done() error {
	if r.err != nil {
		return r.err
	}
	if r.i != len(r.from) {
		return ErrInvalidPacket
	}
	return nil
}

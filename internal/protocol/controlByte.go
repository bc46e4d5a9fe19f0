package protocol

// PacketType is the 4-bit command code carried in the high nibble of
// the first fixed header byte.
type PacketType uint8

// Control packet types. 0 and 15 are reserved.
const (
	Connect PacketType = iota + 1
	Connack
	Publish
	Puback
	Pubrec
	Pubrel
	Pubcomp
	Subscribe
	Suback
	Unsubscribe
	Unsuback
	Pingreq
	Pingresp
	Disconnect
)

func (c PacketType) String() string {
	if c > 15 {
		return "Invalid"
	}
	return [...]string{
		"Reserved", "CONNECT", "CONNACK",
		"PUBLISH", "PUBACK", "PUBREC",
		"PUBREL", "PUBCOMP", "SUBSCRIBE",
		"SUBACK", "UNSUBSCRIBE", "UNSUBACK",
		"PINGREQ", "PINGRESP", "DISCONNECT", "Reserved"}[c]
}

func isReservedPacketType(c PacketType) bool {
	return c == 0 || c >= 15
}

// flag ORred into the low nibble of a publish control byte
const (
	publishFlagDup    = 0x08
	publishFlagQoS    = 0x06
	publishFlagRetain = 0x01
)

// reservedFlags returns the fixed low nibble for non-publish packets.
// PUBREL, SUBSCRIBE and UNSUBSCRIBE carry 0b0010 on the wire.
func reservedFlags(c PacketType) uint8 {
	switch c {
	case Pubrel, Subscribe, Unsubscribe:
		return 0x02
	default:
		return 0x00
	}
}

// serializeControlByte is for use with non-publish packets.
func serializeControlByte(c PacketType) byte {
	return byte(c)<<4 | reservedFlags(c)
}

func serializePublishControlByte(qos byte, dup, retain bool) byte {
	flags := (qos << 1) & publishFlagQoS
	if dup {
		flags |= publishFlagDup
	}
	if retain {
		flags |= publishFlagRetain
	}
	return byte(Publish)<<4 | flags
}

// deserializeControlByte returns the packet type and flags nibble.
func deserializeControlByte(b byte) (PacketType, uint8) {
	return PacketType(b >> 4), b & 0x0F
}

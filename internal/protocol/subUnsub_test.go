package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubscribePacket(t *testing.T) {
	pkt := &SubscribePacket{MessageID: 9999}
	pkt.AddTopic("foo/bar", 0)
	pkt.AddTopic("asd/fgh/jkl", 1)
	pkt.AddTopic("qwe/rty/yui/p", 2)
	serialized, err := pkt.Serialize(nil)
	require.NoError(t, err)
	require.NotNil(t, serialized)

	// check fixed header
	f, err := ReadFixedHeader(bytes.NewReader(serialized))
	require.NoError(t, err)
	require.Equal(t, f.PktType, Subscribe)
	require.True(t, f.IsValidFlagsSet())
	require.Equal(t, uint32(pkt.payloadLen()), f.PayloadSize)

	// check payload
	payload := serialized[len(serialized)-int(f.PayloadSize):]
	pktRcvd, err := DeserializeSubscribePktPayload(f, payload)
	require.NoError(t, err)
	require.NotNil(t, pktRcvd)
	require.Equal(t, pkt, pktRcvd)

	t.Run("requested qos is kept as is", func(t *testing.T) {
		wire := []byte{0x82, 0x06, 0x00, 0x01, 0x00, 0x01, 'a', 0x07}
		got, _, err := Decode(wire)
		require.NoError(t, err)
		require.Equal(t, []TopicQoS{{"a", 7}}, got.(*SubscribePacket).Topics)
	})

	t.Run("topic without its qos byte", func(t *testing.T) {
		wire := []byte{0x82, 0x05, 0x00, 0x01, 0x00, 0x01, 'a'}
		_, _, err := Decode(wire)
		require.ErrorIs(t, err, ErrTruncatedBuffer)
	})

	t.Run("declared topic length past the body", func(t *testing.T) {
		wire := []byte{0x82, 0x06, 0x00, 0x01, 0x00, 0x09, 'a', 0x00}
		_, _, err := Decode(wire)
		require.ErrorIs(t, err, ErrTruncatedBuffer)
	})
}

func TestSubackPacket(t *testing.T) {
	pkt := &SubackPacket{MessageID: 9999}
	pkt.AddCode(SubackFailure)
	pkt.AddCode(1)
	pkt.AddCode(0)
	serialized, err := pkt.Serialize(nil)
	require.NoError(t, err)
	require.NotNil(t, serialized)

	// check fixed header
	f, err := ReadFixedHeader(bytes.NewReader(serialized))
	require.NoError(t, err)
	require.Equal(t, f.PktType, Suback)
	require.True(t, f.IsValidFlagsSet())
	require.Equal(t, uint32(pkt.payloadLen()), f.PayloadSize)

	// check payload
	payload := serialized[len(serialized)-int(f.PayloadSize):]
	pktRcvd, err := DeserializeSubackPktPayload(f, payload)
	require.NoError(t, err)
	require.NotNil(t, pktRcvd)
	require.Equal(t, pkt, pktRcvd)
}

func TestUnsubscribePacket(t *testing.T) {
	pkt := &UnsubscribePacket{MessageID: 9999}
	pkt.Topics = append(pkt.Topics, "foo/bar", "asd/fgh/jkl", "qwe/rty/yui/p")
	serialized, err := pkt.Serialize(nil)
	require.NoError(t, err)
	require.NotNil(t, serialized)

	// check fixed header
	f, err := ReadFixedHeader(bytes.NewReader(serialized))
	require.NoError(t, err)
	require.Equal(t, f.PktType, Unsubscribe)
	require.True(t, f.IsValidFlagsSet())
	require.Equal(t, uint32(pkt.payloadLen()), f.PayloadSize)

	// check payload
	payload := serialized[len(serialized)-int(f.PayloadSize):]
	pktRcvd, err := DeserializeUnsubscribePktPayload(f, payload)
	require.NoError(t, err)
	require.NotNil(t, pktRcvd)
	require.Equal(t, pkt, pktRcvd)
}

func TestUnsubackPacket(t *testing.T) {
	pkt := &UnsubackPacket{MessageID: 9999}
	serialized, err := pkt.Serialize(nil)
	require.NoError(t, err)
	require.NotNil(t, serialized)

	// check fixed header
	f, err := ReadFixedHeader(bytes.NewReader(serialized))
	require.NoError(t, err)
	require.Equal(t, f.PktType, Unsuback)
	require.True(t, f.IsValidFlagsSet())
	require.Equal(t, uint32(2), f.PayloadSize)

	// check payload
	payload := serialized[len(serialized)-int(f.PayloadSize):]
	pktRcvd, err := DeserializeUnsubackPktPayload(f, payload)
	require.NoError(t, err)
	require.NotNil(t, pktRcvd)
	require.Equal(t, pkt, pktRcvd)
}

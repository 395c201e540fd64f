package onion

import (
	"testing"

	"github.com/go-i2p/go-onion/lib/ipport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// relayResponse walks a response from the destination back through the
// relays and returns the final delivery.
func (n *testNetwork) relayResponse(t *testing.T, packet []byte) *Result {
	t.Helper()
	for i := HopCount - 1; i >= 0; i-- {
		res, err := n.relays[i].onion.DecodeResponse(packet)
		require.NoError(t, err, "decode response at %s", Hop(i))
		if i == 0 {
			require.Equal(t, ActionDeliver, res.Action)
			return res
		}
		require.Equal(t, ActionForward, res.Action)
		require.Equal(t, n.relays[i-1].addr, res.Next)
		packet = res.Packet
	}
	return nil
}

func TestResponseRoundTrip(t *testing.T) {
	net := newTestNetwork(t)
	packet, err := EncodeSend(net.path(t), net.dest.addr, []byte("lookup"))
	require.NoError(t, err)
	delivered := net.relaySend(t, packet)

	_, tag, err := SplitDelivered(delivered.Packet)
	require.NoError(t, err)

	answer := []byte("lookup response")
	resp, err := EncodeResponse(tag, answer)
	require.NoError(t, err)
	assert.Len(t, resp, 1+Return3+len(answer))
	assert.Equal(t, byte(KindRecv3), resp[0])

	res := net.relayResponse(t, resp)
	assert.Equal(t, net.sender.addr, res.Next)
	assert.Equal(t, answer, res.Payload)
	assert.Equal(t, answer, res.Packet)
	assert.Empty(t, res.ReturnTag)
	assert.False(t, res.ViaFallback)
}

func TestResponseForwardedKinds(t *testing.T) {
	net := newTestNetwork(t)
	packet, err := EncodeSend(net.path(t), net.dest.addr, []byte("q"))
	require.NoError(t, err)
	delivered := net.relaySend(t, packet)

	resp, err := EncodeResponse(delivered.ReturnTag, []byte("a"))
	require.NoError(t, err)

	res, err := net.relays[2].onion.DecodeResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, byte(KindRecv2), res.Packet[0])
	assert.Len(t, res.Packet, 1+Return2+1)

	res, err = net.relays[1].onion.DecodeResponse(res.Packet)
	require.NoError(t, err)
	assert.Equal(t, byte(KindRecv1), res.Packet[0])
	assert.Len(t, res.Packet, 1+Return1+1)

	// The wrong relay cannot peel a layer it did not seal.
	_, err = net.relays[2].onion.DecodeResponse(res.Packet)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestResponseMaxSize(t *testing.T) {
	net := newTestNetwork(t)
	packet, err := EncodeSend(net.path(t), net.dest.addr, []byte("q"))
	require.NoError(t, err)
	delivered := net.relaySend(t, packet)

	resp, err := EncodeResponse(delivered.ReturnTag, make([]byte, MaxResponseDataSize))
	require.NoError(t, err)
	assert.Len(t, resp, MaxPacketSize)

	res := net.relayResponse(t, resp)
	assert.Len(t, res.Payload, MaxResponseDataSize)

	_, err = EncodeResponse(delivered.ReturnTag, make([]byte, MaxResponseDataSize+1))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestEncodeResponseInvalid(t *testing.T) {
	_, err := EncodeResponse(make([]byte, Return2), []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = EncodeResponse(make([]byte, Return3), nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDecodeResponseMalformed(t *testing.T) {
	node := newTestNode(t, 41000)

	tests := []struct {
		name   string
		packet []byte
	}{
		{name: "empty", packet: nil},
		{name: "send kind", packet: append([]byte{byte(KindSend1)}, make([]byte, Return3+1)...)},
		{name: "recv3 without payload", packet: append([]byte{byte(KindRecv3)}, make([]byte, Return3)...)},
		{name: "recv1 without payload", packet: append([]byte{byte(KindRecv1)}, make([]byte, Return1)...)},
		{name: "oversized", packet: append([]byte{byte(KindRecv2)}, make([]byte, MaxPacketSize)...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := node.onion.DecodeResponse(tt.packet)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestResponseFallbackToVirtualSender(t *testing.T) {
	var delivered []byte
	var deliveredTo ipport.IPPort

	net := newTestNetwork(t)
	net.relays[0] = newTestNode(t, 33446, WithFallback(FallbackFunc(func(dest ipport.IPPort, packet []byte) error {
		deliveredTo = dest
		delivered = append([]byte(nil), packet...)
		return nil
	})))
	// The originator reached the entry relay over a TCP connection.
	net.sender.addr = ipport.Virtual(ipport.FamilyTCPServer, []byte("tcp-peer-1"), 0)

	packet, err := EncodeSend(net.path(t), net.dest.addr, []byte("q"))
	require.NoError(t, err)
	sent := net.relaySend(t, packet)

	resp, err := EncodeResponse(sent.ReturnTag, []byte("answer"))
	require.NoError(t, err)

	res := net.relayResponse(t, resp)
	assert.True(t, res.ViaFallback)
	assert.Equal(t, net.sender.addr, deliveredTo)
	assert.Equal(t, []byte("answer"), delivered)
}

func TestResponseAfterRotation(t *testing.T) {
	net := newTestNetwork(t)
	packet, err := EncodeSend(net.path(t), net.dest.addr, []byte("q"))
	require.NoError(t, err)
	sent := net.relaySend(t, packet)

	for _, r := range net.relays {
		require.NoError(t, r.onion.RotateSecret())
	}
	resp, err := EncodeResponse(sent.ReturnTag, []byte("late"))
	require.NoError(t, err)
	res := net.relayResponse(t, resp)
	assert.Equal(t, []byte("late"), res.Payload)

	require.NoError(t, net.relays[2].onion.RotateSecret())
	_, err = net.relays[2].onion.DecodeResponse(resp)
	assert.ErrorIs(t, err, ErrExpired)
}

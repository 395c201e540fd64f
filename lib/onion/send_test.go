package onion

import (
	"bytes"
	"testing"

	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/go-onion/lib/ipport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/nacl/box"
)

func randomPayload(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestSendRoundTrip(t *testing.T) {
	net := newTestNetwork(t)
	path := net.path(t)

	for _, size := range []int{1, 16, 500, MaxDataSize} {
		payload := randomPayload(t, size)
		packet, err := EncodeSend(path, net.dest.addr, payload)
		require.NoError(t, err)
		assert.Len(t, packet, size+Send1+1)
		assert.Equal(t, byte(KindSendInitial), packet[0])

		res := net.relaySend(t, packet)
		assert.Equal(t, net.dest.addr, res.Next)
		assert.Equal(t, payload, res.Payload)
		assert.Len(t, res.ReturnTag, Return3)
		assert.Equal(t, append(append([]byte(nil), payload...), res.ReturnTag...), res.Packet)
		assert.False(t, res.ViaFallback)

		gotPayload, gotTag, err := SplitDelivered(res.Packet)
		require.NoError(t, err)
		assert.Equal(t, payload, gotPayload)
		assert.Equal(t, res.ReturnTag, gotTag)
	}
}

func TestForwardedPacketSizes(t *testing.T) {
	net := newTestNetwork(t)
	payload := randomPayload(t, 100)
	packet, err := EncodeSend(net.path(t), net.dest.addr, payload)
	require.NoError(t, err)

	res, err := net.relays[0].onion.DecodeSend(Hop1, packet, net.sender.addr)
	require.NoError(t, err)
	assert.Equal(t, byte(KindSend1), res.Packet[0])
	assert.Len(t, res.Packet, 1+Send2+len(payload))

	res, err = net.relays[1].onion.DecodeSend(Hop2, res.Packet, net.relays[0].addr)
	require.NoError(t, err)
	assert.Equal(t, byte(KindSend2), res.Packet[0])
	assert.Len(t, res.Packet, 1+Send3+len(payload))
}

func TestSendSizeCeiling(t *testing.T) {
	net := newTestNetwork(t)
	path := net.path(t)

	packet, err := EncodeSend(path, net.dest.addr, make([]byte, MaxDataSize))
	require.NoError(t, err)
	assert.Len(t, packet, MaxPacketSize)

	_, err = EncodeSend(path, net.dest.addr, make([]byte, MaxDataSize+1))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	_, err = EncodeSend(path, net.dest.addr, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = EncodeSend(nil, net.dest.addr, []byte{1})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = EncodeSend(path, ipport.IPPort{}, []byte{1})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSendTamperRejectedAtEntry(t *testing.T) {
	net := newTestNetwork(t)
	packet, err := EncodeSend(net.path(t), net.dest.addr, randomPayload(t, 24))
	require.NoError(t, err)

	// Every bit after the kind byte is covered by the entry layer: the
	// nonce, the presented key and the ciphertext.
	for bit := 8; bit < len(packet)*8; bit++ {
		_, err := net.relays[0].onion.DecodeSend(Hop1, flipBit(packet, bit), net.sender.addr)
		require.ErrorIs(t, err, ErrAuthenticationFailed, "bit %d", bit)
	}
}

func TestSendTamperRejectedAtMiddle(t *testing.T) {
	net := newTestNetwork(t)
	packet, err := EncodeSend(net.path(t), net.dest.addr, randomPayload(t, 24))
	require.NoError(t, err)

	res, err := net.relays[0].onion.DecodeSend(Hop1, packet, net.sender.addr)
	require.NoError(t, err)
	forwarded := res.Packet

	end := len(forwarded) - Return1
	for bit := 8; bit < end*8; bit += 7 {
		_, err := net.relays[1].onion.DecodeSend(Hop2, flipBit(forwarded, bit), net.relays[0].addr)
		require.ErrorIs(t, err, ErrAuthenticationFailed, "bit %d", bit)
	}
}

func TestDecodeSendWrongRelay(t *testing.T) {
	net := newTestNetwork(t)
	packet, err := EncodeSend(net.path(t), net.dest.addr, []byte("hello"))
	require.NoError(t, err)

	// The middle relay cannot open a layer sealed for the entry relay.
	_, err = net.relays[1].onion.DecodeSend(Hop1, packet, net.sender.addr)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestDecodeSendMalformed(t *testing.T) {
	net := newTestNetwork(t)
	packet, err := EncodeSend(net.path(t), net.dest.addr, []byte("hello"))
	require.NoError(t, err)
	relay := net.relays[0].onion

	tests := []struct {
		name   string
		role   Hop
		packet []byte
		err    error
	}{
		{name: "wrong role", role: Hop2, packet: packet, err: ErrMalformed},
		{name: "unknown role", role: Hop(5), packet: packet, err: ErrInvalidInput},
		{name: "empty", role: Hop1, packet: nil, err: ErrMalformed},
		{name: "no payload", role: Hop1, packet: packet[:1+Send1], err: ErrMalformed},
		{name: "oversized", role: Hop1, packet: make([]byte, MaxPacketSize+1), err: ErrMalformed},
		{name: "wrong kind", role: Hop1, packet: append([]byte{byte(KindRecv3)}, packet[1:]...), err: ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := relay.DecodeSend(tt.role, tt.packet, net.sender.addr)
			assert.ErrorIs(t, err, tt.err)
			assert.Nil(t, res)
		})
	}
}

func TestDecodeSendBadInnerAddress(t *testing.T) {
	net := newTestNetwork(t)
	path := net.path(t)

	// Hand craft an entry layer whose next hop address has a bogus family.
	var nonce [NonceSize]byte
	plain := bytes.Repeat([]byte{0xee}, ipport.Size+2*SendBase+10)
	entry := path.hops[Hop1]
	packet := append([]byte{byte(KindSendInitial)}, nonce[:]...)
	packet = append(packet, entry.senderKey[:]...)
	packet = box.SealAfterPrecomputation(packet, plain, &nonce, &entry.sharedKey)

	_, err := net.relays[0].onion.DecodeSend(Hop1, packet, net.sender.addr)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestEphemeralPathRoundTrip(t *testing.T) {
	net := newTestNetwork(t)
	path, err := CreateEphemeralPath(net.sender.onion, net.nodes())
	require.NoError(t, err)

	assert.Equal(t, net.sender.onion.PublicKey(), path.SenderKey(Hop1))
	assert.NotEqual(t, net.sender.onion.PublicKey(), path.SenderKey(Hop2))
	assert.NotEqual(t, net.sender.onion.PublicKey(), path.SenderKey(Hop3))
	assert.NotEqual(t, path.SenderKey(Hop2), path.SenderKey(Hop3))

	payload := []byte("ephemeral")
	packet, err := EncodeSend(path, net.dest.addr, payload)
	require.NoError(t, err)

	res := net.relaySend(t, packet)
	assert.Equal(t, payload, res.Payload)

	again, err := CreateEphemeralPath(net.sender.onion, net.nodes())
	require.NoError(t, err)
	assert.Equal(t, path.SharedKey(Hop1), again.SharedKey(Hop1))
	assert.NotEqual(t, path.SharedKey(Hop2), again.SharedKey(Hop2))
}

func TestSendFallbackDelivery(t *testing.T) {
	var gotDest ipport.IPPort
	var gotPacket []byte
	handler := FallbackFunc(func(dest ipport.IPPort, packet []byte) error {
		gotDest = dest
		gotPacket = append([]byte(nil), packet...)
		return nil
	})

	net := newTestNetwork(t)
	net.relays[2] = newTestNode(t, 33448, WithFallback(handler))
	virtual := ipport.Virtual(ipport.FamilyTCPOnion, []byte("relay-conn-9"), 0)

	packet, err := EncodeSend(net.path(t), virtual, []byte("over tcp"))
	require.NoError(t, err)

	res := net.relaySend(t, packet)
	assert.True(t, res.ViaFallback)
	assert.Equal(t, virtual, gotDest)
	assert.Equal(t, res.Packet, gotPacket)
	assert.Equal(t, []byte("over tcp"), res.Payload)
}

func TestSendFallbackMissing(t *testing.T) {
	net := newTestNetwork(t)
	virtual := ipport.Virtual(ipport.FamilyTCPClient, []byte{7}, 0)
	packet, err := EncodeSend(net.path(t), virtual, []byte("nowhere"))
	require.NoError(t, err)

	res, err := net.relays[0].onion.DecodeSend(Hop1, packet, net.sender.addr)
	require.NoError(t, err)
	res, err = net.relays[1].onion.DecodeSend(Hop2, res.Packet, net.relays[0].addr)
	require.NoError(t, err)
	_, err = net.relays[2].onion.DecodeSend(Hop3, res.Packet, net.relays[1].addr)
	assert.ErrorIs(t, err, ErrNoFallback)
}

func TestForwardDecrypted(t *testing.T) {
	net := newTestNetwork(t)
	path := net.path(t)
	payload := []byte("relayed by tcp")
	packet, err := EncodeSend(path, net.dest.addr, payload)
	require.NoError(t, err)

	// An alternate transport opens the entry layer on its own and hands
	// the plaintext over.
	var nonce [NonceSize]byte
	copy(nonce[:], packet[1:1+NonceSize])
	entryKey := path.SharedKey(Hop1)
	plain, ok := box.OpenAfterPrecomputation(nil, packet[1+NonceSize+PublicKeySize:], &nonce, &entryKey)
	require.True(t, ok)

	source := ipport.Virtual(ipport.FamilyTCPServer, []byte("client-3"), 0)
	res, err := net.relays[0].onion.ForwardDecrypted(plain, source, &nonce)
	require.NoError(t, err)
	assert.Equal(t, ActionForward, res.Action)
	assert.Equal(t, net.relays[1].addr, res.Next)

	res, err = net.relays[1].onion.DecodeSend(Hop2, res.Packet, net.relays[0].addr)
	require.NoError(t, err)
	res, err = net.relays[2].onion.DecodeSend(Hop3, res.Packet, net.relays[1].addr)
	require.NoError(t, err)
	assert.Equal(t, payload, res.Payload)

	_, err = net.relays[0].onion.ForwardDecrypted(plain[:10], source, &nonce)
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = net.relays[0].onion.ForwardDecrypted(plain, source, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSplitDelivered(t *testing.T) {
	_, _, err := SplitDelivered(make([]byte, Return3))
	assert.ErrorIs(t, err, ErrMalformed)

	payload, tag, err := SplitDelivered(make([]byte, Return3+4))
	require.NoError(t, err)
	assert.Len(t, payload, 4)
	assert.Len(t, tag, Return3)
}

func TestDecodeSendRejectsNonCanonicalKey(t *testing.T) {
	net := newTestNetwork(t)
	packet, err := EncodeSend(net.path(t), net.dest.addr, randomPayload(t, 24))
	require.NoError(t, err)

	// The top bit of the presented key is ignored by X25519, so flipping it
	// would otherwise leave the layer openable.
	keyTop := 1 + NonceSize + PublicKeySize - 1
	packet[keyTop] |= 0x80

	_, err = net.relays[0].onion.DecodeSend(Hop1, packet, net.sender.addr)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestForwardDecryptedRejectsNonCanonicalKey(t *testing.T) {
	net := newTestNetwork(t)

	plain := make([]byte, 0, ipport.Size+SendBase*2+8)
	plain = append(plain, net.relays[1].addr.Bytes()...)
	key := net.sender.onion.PublicKey()
	key[PublicKeySize-1] |= 0x80
	plain = append(plain, key[:]...)
	plain = append(plain, make([]byte, SendBase*2+8-PublicKeySize)...)

	var nonce [NonceSize]byte
	_, err := net.relays[0].onion.ForwardDecrypted(plain, net.sender.addr, &nonce)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

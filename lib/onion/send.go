package onion

import (
	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/go-onion/lib/ipport"
	"github.com/samber/oops"
	"golang.org/x/crypto/nacl/box"
)

// EncodeSend wraps payload for dest in three layers along path and returns
// the datagram to send to the path's entry relay, Path.Address(Hop1).
//
// The packet is
//
//	kind ‖ nonce ‖ senderKey1 ‖ box1(addr2 ‖ senderKey2 ‖ box2(addr3 ‖ senderKey3 ‖ box3(dest ‖ payload)))
//
// and is exactly len(payload)+Send1+1 bytes long. One random nonce serves
// all three layers, each sealed under a different key.
func EncodeSend(path *Path, dest ipport.IPPort, payload []byte) ([]byte, error) {
	if path == nil {
		return nil, oops.Wrapf(ErrInvalidInput, "nil path")
	}
	if len(payload) == 0 {
		return nil, oops.Wrapf(ErrInvalidInput, "empty payload")
	}
	if len(payload) > MaxDataSize {
		return nil, oops.Wrapf(ErrPayloadTooLarge, "payload is %d bytes, max %d", len(payload), MaxDataSize)
	}
	if !dest.Valid() {
		return nil, oops.Wrapf(ErrInvalidInput, "destination has unusable address family %s", dest.Family)
	}

	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, oops.Wrapf(err, "failed to generate onion nonce")
	}

	inner := make([]byte, 0, ipport.Size+len(payload))
	inner = append(inner, dest.Bytes()...)
	inner = append(inner, payload...)

	// Seal from the innermost layer outwards.
	for i := HopCount - 1; i >= 1; i-- {
		h := &path.hops[i]
		layer := make([]byte, 0, SendBase+len(inner))
		layer = append(layer, h.addr.Bytes()...)
		layer = append(layer, h.senderKey[:]...)
		layer = box.SealAfterPrecomputation(layer, inner, &nonce, &h.sharedKey)
		inner = layer
	}

	entry := &path.hops[Hop1]
	packet := make([]byte, 0, 1+NonceSize+PublicKeySize+len(inner)+MACSize)
	packet = append(packet, byte(KindSendInitial))
	packet = append(packet, nonce[:]...)
	packet = append(packet, entry.senderKey[:]...)
	packet = box.SealAfterPrecomputation(packet, inner, &nonce, &entry.sharedKey)
	return packet, nil
}

package onion

import (
	"fmt"

	"github.com/go-i2p/go-onion/lib/ipport"
	"golang.org/x/crypto/nacl/box"
)

// HopCount is the fixed number of relays in a path.
const HopCount = 3

const (
	NonceSize     = 24
	PublicKeySize = 32
	MACSize       = box.Overhead

	// MaxPacketSize is the largest datagram produced or accepted.
	MaxPacketSize = 1400
)

// Return tag sizes after one, two and three relays.
const (
	Return1 = NonceSize + ipport.Size + MACSize
	Return2 = NonceSize + ipport.Size + MACSize + Return1
	Return3 = NonceSize + ipport.Size + MACSize + Return2
)

// Fixed overhead of send packets, excluding the kind byte and payload.
const (
	SendBase = PublicKeySize + ipport.Size + MACSize
	Send3    = NonceSize + SendBase + Return2
	Send2    = NonceSize + SendBase*2 + Return1
	Send1    = NonceSize + SendBase*3
)

const (
	// MaxDataSize is the largest payload EncodeSend accepts.
	MaxDataSize = MaxPacketSize - (Send1 + 1)
	// MaxResponseDataSize is the largest payload EncodeResponse accepts.
	MaxResponseDataSize = MaxPacketSize - (1 + Return3)
)

// Kind is the first byte of every onion packet.
type Kind byte

const (
	KindSendInitial Kind = 0x80
	KindSend1       Kind = 0x81
	KindSend2       Kind = 0x82
	KindRecv3       Kind = 0x8c
	KindRecv2       Kind = 0x8d
	KindRecv1       Kind = 0x8e
)

func (k Kind) String() string {
	switch k {
	case KindSendInitial:
		return "send_initial"
	case KindSend1:
		return "send_1"
	case KindSend2:
		return "send_2"
	case KindRecv3:
		return "recv_3"
	case KindRecv2:
		return "recv_2"
	case KindRecv1:
		return "recv_1"
	}
	return fmt.Sprintf("kind(0x%02x)", byte(k))
}

// Hop is a position in a path, entry first.
type Hop int

const (
	Hop1 Hop = iota
	Hop2
	Hop3
)

func (h Hop) valid() bool {
	return h >= Hop1 && h <= Hop3
}

func (h Hop) String() string {
	if !h.valid() {
		return fmt.Sprintf("hop(%d)", int(h))
	}
	return fmt.Sprintf("hop%d", int(h)+1)
}

// sendKind is the packet kind a relay at position h accepts.
func (h Hop) sendKind() Kind {
	return KindSendInitial + Kind(h)
}

// KindsForHop returns the send kind a relay in position h handles and the
// recv kind it peels on the way back.
func KindsForHop(h Hop) (send, recv Kind) {
	return h.sendKind(), KindRecv1 - Kind(h)
}

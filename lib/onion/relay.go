package onion

import (
	"github.com/go-i2p/go-onion/lib/ipport"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"golang.org/x/crypto/nacl/box"
)

// Action tells the caller what to do with a decoded packet.
type Action int

const (
	// ActionForward means Packet must be sent to Next.
	ActionForward Action = iota + 1
	// ActionDeliver means the packet reached its final address.
	ActionDeliver
)

func (a Action) String() string {
	switch a {
	case ActionForward:
		return "forward"
	case ActionDeliver:
		return "deliver"
	}
	return "unknown"
}

// Result is the outcome of peeling one onion layer.
type Result struct {
	Action Action

	// Next is the next hop when forwarding, or the final address when
	// delivering.
	Next ipport.IPPort

	// Packet holds the exact bytes to put on the wire to Next. For a
	// delivery in the send direction it is Payload followed by ReturnTag.
	Packet []byte

	// Payload is the application data of a delivery.
	Payload []byte

	// ReturnTag is the complete three-layer tag handed to the destination
	// of a send. It is empty for response deliveries.
	ReturnTag []byte

	// ViaFallback is set when the delivery was handed to the
	// FallbackHandler instead of being left to the caller.
	ViaFallback bool
}

// DecodeSend peels the layer addressed to this node in position role.
// source is the address the packet arrived from.
//
// At hop1 and hop2 the result forwards a smaller packet, with a return tag
// naming source appended, to the next relay. At hop3 the result delivers
// the payload and the full return tag to the destination; destinations in
// a virtual address family are handed to the FallbackHandler.
//
// Errors are for local diagnostics only and must never be reported back
// to the sender.
func (o *Onion) DecodeSend(role Hop, packet []byte, source ipport.IPPort) (*Result, error) {
	if !role.valid() {
		return nil, oops.Wrapf(ErrInvalidInput, "unknown hop %d", int(role))
	}
	res, err := o.decodeSend(role, packet, source)
	if err != nil {
		log.WithFields(logger.Fields{
			"at":     "(Onion) DecodeSend",
			"hop":    role.String(),
			"source": source.String(),
			"size":   len(packet),
			"reason": DropReason(err),
		}).Debug("dropping onion packet")
		return nil, err
	}
	return res, nil
}

func (o *Onion) decodeSend(role Hop, packet []byte, source ipport.IPPort) (*Result, error) {
	// Bytes that precede the first layer's plaintext: nonce and key are
	// followed by the ciphertext and, past hop1, the incoming return tag.
	var overhead, tagSize int
	switch role {
	case Hop1:
		overhead, tagSize = Send1, 0
	case Hop2:
		overhead, tagSize = Send2, Return1
	case Hop3:
		overhead, tagSize = Send3, Return2
	}

	if len(packet) <= 1+overhead || len(packet) > MaxPacketSize {
		return nil, oops.Wrapf(ErrMalformed, "%s packet is %d bytes", role, len(packet))
	}
	if Kind(packet[0]) != role.sendKind() {
		return nil, oops.Wrapf(ErrMalformed, "%s cannot handle %s", role, Kind(packet[0]))
	}

	var nonce [NonceSize]byte
	copy(nonce[:], packet[1:1+NonceSize])
	var senderKey [PublicKeySize]byte
	copy(senderKey[:], packet[1+NonceSize:1+NonceSize+PublicKeySize])

	body := packet[1+NonceSize+PublicKeySize : len(packet)-tagSize]
	tag := packet[len(packet)-tagSize:]

	if !canonicalKey(&senderKey) {
		return nil, oops.Wrapf(ErrAuthenticationFailed, "%s presented a non-canonical key", role)
	}
	shared := o.cache(role).GetOrCompute(&senderKey)
	plain, ok := box.OpenAfterPrecomputation(nil, body, &nonce, shared)
	if !ok {
		return nil, oops.Wrapf(ErrAuthenticationFailed, "%s layer did not open", role)
	}

	if role == Hop3 {
		return o.deliverSend(plain, source, tag)
	}
	return o.forwardSend(role, plain, source, &nonce, tag)
}

// forwardSend builds the packet for the relay following role from the
// decrypted layer plain = next ‖ senderKey ‖ ciphertext.
func (o *Onion) forwardSend(role Hop, plain []byte, source ipport.IPPort, nonce *[NonceSize]byte, tag []byte) (*Result, error) {
	if len(plain) <= ipport.Size+PublicKeySize+MACSize {
		return nil, oops.Wrapf(ErrMalformed, "%s layer too short", role)
	}
	next, err := ipport.Decode(plain[:ipport.Size])
	if err != nil {
		return nil, oops.Wrapf(ErrMalformed, "%s next hop: %v", role, err)
	}

	var nextKey [PublicKeySize]byte
	copy(nextKey[:], plain[ipport.Size:ipport.Size+PublicKeySize])
	if !canonicalKey(&nextKey) {
		return nil, oops.Wrapf(ErrAuthenticationFailed, "%s layer carries a non-canonical key", role)
	}

	newTag, err := o.AppendReturnTag(source, tag)
	if err != nil {
		return nil, err
	}

	rest := plain[ipport.Size:]
	out := make([]byte, 0, 1+NonceSize+len(rest)+len(newTag))
	out = append(out, byte(role.sendKind()+1))
	out = append(out, nonce[:]...)
	out = append(out, rest...)
	out = append(out, newTag...)
	if len(out) > MaxPacketSize {
		return nil, oops.Wrapf(ErrMalformed, "forwarded packet would be %d bytes", len(out))
	}

	return &Result{Action: ActionForward, Next: next, Packet: out}, nil
}

// deliverSend handles the innermost layer plain = destination ‖ payload.
func (o *Onion) deliverSend(plain []byte, source ipport.IPPort, tag []byte) (*Result, error) {
	if len(plain) <= ipport.Size {
		return nil, oops.Wrapf(ErrMalformed, "empty onion payload")
	}
	dest, err := ipport.Decode(plain[:ipport.Size])
	if err != nil {
		return nil, oops.Wrapf(ErrMalformed, "destination: %v", err)
	}

	returnTag, err := o.AppendReturnTag(source, tag)
	if err != nil {
		return nil, err
	}

	payload := plain[ipport.Size:]
	out := make([]byte, 0, len(payload)+len(returnTag))
	out = append(out, payload...)
	out = append(out, returnTag...)

	res := &Result{
		Action:    ActionDeliver,
		Next:      dest,
		Packet:    out,
		Payload:   out[:len(payload)],
		ReturnTag: out[len(payload):],
	}
	return o.maybeFallback(res)
}

// ForwardDecrypted continues a send whose first layer was already opened
// by an alternate transport, such as a TCP relay that received the packet
// on the originator's behalf. plain is the decrypted hop1 layer and source
// is the (usually virtual) address the packet came from.
func (o *Onion) ForwardDecrypted(plain []byte, source ipport.IPPort, nonce *[NonceSize]byte) (*Result, error) {
	if nonce == nil {
		return nil, oops.Wrapf(ErrInvalidInput, "nil nonce")
	}
	if len(plain) <= ipport.Size+SendBase*2 {
		return nil, oops.Wrapf(ErrMalformed, "decrypted layer is %d bytes", len(plain))
	}
	return o.forwardSend(Hop1, plain, source, nonce, nil)
}

func (o *Onion) maybeFallback(res *Result) (*Result, error) {
	if !res.Next.IsVirtual() {
		return res, nil
	}
	if o.fallback == nil {
		return nil, oops.Wrapf(ErrNoFallback, "cannot deliver to %s", res.Next)
	}
	if err := o.fallback.Deliver(res.Next, res.Packet); err != nil {
		return nil, oops.Wrapf(err, "fallback delivery to %s failed", res.Next)
	}
	res.ViaFallback = true
	return res, nil
}

// SplitDelivered separates a packet received from the last relay into the
// application payload and the return tag needed to answer it.
func SplitDelivered(packet []byte) (payload, returnTag []byte, err error) {
	if len(packet) <= Return3 {
		return nil, nil, oops.Wrapf(ErrMalformed, "delivered packet is %d bytes", len(packet))
	}
	split := len(packet) - Return3
	return packet[:split], packet[split:], nil
}

// canonicalKey reports whether the top bit of k is clear. X25519 ignores
// that bit, so a key with it set opens the same box as its canonical twin;
// genuine public keys never carry it.
func canonicalKey(k *[PublicKeySize]byte) bool {
	return k[PublicKeySize-1]&0x80 == 0
}

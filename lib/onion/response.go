package onion

import (
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// EncodeResponse builds the answer to a delivered send. returnTag is the
// three-layer tag that arrived with the request and the packet must be
// sent to the relay the request came from.
//
//	kind ‖ returnTag ‖ payload
//
// The payload is not encrypted here; the return tag only authenticates the
// path back.
func EncodeResponse(returnTag, payload []byte) ([]byte, error) {
	if len(returnTag) != Return3 {
		return nil, oops.Wrapf(ErrInvalidInput, "return tag is %d bytes, want %d", len(returnTag), Return3)
	}
	if len(payload) == 0 {
		return nil, oops.Wrapf(ErrInvalidInput, "empty payload")
	}
	if len(payload) > MaxResponseDataSize {
		return nil, oops.Wrapf(ErrPayloadTooLarge, "response is %d bytes, max %d", len(payload), MaxResponseDataSize)
	}

	packet := make([]byte, 0, 1+Return3+len(payload))
	packet = append(packet, byte(KindRecv3))
	packet = append(packet, returnTag...)
	packet = append(packet, payload...)
	return packet, nil
}

// DecodeResponse peels this node's layer off the return tag of a response
// packet. For recv 3 and recv 2 packets it forwards the response, with the
// shorter tag, to the previous relay. For recv 1 packets the tag is used
// up and the payload is delivered to the original sender; a sender in a
// virtual address family is reached through the FallbackHandler.
func (o *Onion) DecodeResponse(packet []byte) (*Result, error) {
	res, err := o.decodeResponse(packet)
	if err != nil {
		fields := logger.Fields{
			"at":     "(Onion) DecodeResponse",
			"size":   len(packet),
			"reason": DropReason(err),
		}
		if len(packet) > 0 {
			fields["kind"] = Kind(packet[0]).String()
		}
		log.WithFields(fields).Debug("dropping onion response")
		return nil, err
	}
	return res, nil
}

func (o *Onion) decodeResponse(packet []byte) (*Result, error) {
	if len(packet) == 0 {
		return nil, oops.Wrapf(ErrMalformed, "empty response")
	}

	var tagSize int
	var next Kind
	switch Kind(packet[0]) {
	case KindRecv3:
		tagSize, next = Return3, KindRecv2
	case KindRecv2:
		tagSize, next = Return2, KindRecv1
	case KindRecv1:
		tagSize = Return1
	default:
		return nil, oops.Wrapf(ErrMalformed, "not a response kind: %s", Kind(packet[0]))
	}
	if len(packet) <= 1+tagSize || len(packet) > MaxPacketSize {
		return nil, oops.Wrapf(ErrMalformed, "%s response is %d bytes", Kind(packet[0]), len(packet))
	}

	addr, rest, err := o.PeelReturnTag(packet[1 : 1+tagSize])
	if err != nil {
		return nil, err
	}
	payload := packet[1+tagSize:]

	if next == 0 {
		out := make([]byte, len(payload))
		copy(out, payload)
		res := &Result{Action: ActionDeliver, Next: addr, Packet: out, Payload: out}
		return o.maybeFallback(res)
	}

	out := make([]byte, 0, 1+len(rest)+len(payload))
	out = append(out, byte(next))
	out = append(out, rest...)
	out = append(out, payload...)
	return &Result{Action: ActionForward, Next: addr, Packet: out}, nil
}

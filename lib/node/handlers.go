package node

import (
	"github.com/go-i2p/go-onion/lib/ipport"
	"github.com/go-i2p/go-onion/lib/onion"
	"github.com/go-i2p/go-onion/lib/transport"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// DeliveredHandler receives a payload delivered by the last relay of a
// path. from is that relay's address; a reply goes back through
// SendResponse(from, returnTag, ...).
type DeliveredHandler func(from ipport.IPPort, payload, returnTag []byte)

func (n *Node) registerOnionHandlers() {
	for _, role := range []onion.Hop{onion.Hop1, onion.Hop2, onion.Hop3} {
		send, recv := onion.KindsForHop(role)
		n.dispatcher.RegisterHandler(byte(send), n.handleSend(role))
		n.dispatcher.RegisterHandler(byte(recv), n.handleResponse)
	}
}

func isOnionKind(kind byte) bool {
	for _, role := range []onion.Hop{onion.Hop1, onion.Hop2, onion.Hop3} {
		send, recv := onion.KindsForHop(role)
		if kind == byte(send) || kind == byte(recv) {
			return true
		}
	}
	return false
}

// Handle registers h for raw datagrams whose first byte is kind. This is
// how an originator receives the payload of a response.
func (n *Node) Handle(kind byte, h transport.Handler) error {
	if isOnionKind(kind) {
		return oops.Wrapf(ErrReservedKind, "kind 0x%02x", kind)
	}
	n.dispatcher.RegisterHandler(kind, h)
	return nil
}

// HandleDelivered registers h for payloads starting with kind that arrive
// with a return tag attached.
func (n *Node) HandleDelivered(kind byte, h DeliveredHandler) error {
	return n.Handle(kind, func(source ipport.IPPort, packet []byte) {
		payload, tag, err := onion.SplitDelivered(packet)
		if err != nil {
			n.metrics.PacketDropped("delivered", onion.DropReason(err))
			return
		}
		h(source, payload, tag)
	})
}

func (n *Node) handleSend(role onion.Hop) transport.Handler {
	kind, _ := onion.KindsForHop(role)
	return func(source ipport.IPPort, packet []byte) {
		res, err := n.onion.DecodeSend(role, packet, source)
		n.complete(kind, res, err)
	}
}

func (n *Node) handleResponse(_ ipport.IPPort, packet []byte) {
	kind := onion.Kind(packet[0])
	res, err := n.onion.DecodeResponse(packet)
	n.complete(kind, res, err)
}

// complete puts a decoded result on the wire and records the outcome.
func (n *Node) complete(kind onion.Kind, res *onion.Result, err error) {
	if err != nil {
		n.metrics.PacketDropped(kind.String(), onion.DropReason(err))
		return
	}
	if res.ViaFallback {
		n.metrics.FallbackUsed()
		n.metrics.PacketHandled(kind.String(), res.Action.String())
		return
	}
	if !res.Next.IsIP() {
		log.WithFields(logger.Fields{
			"at":   "(Node) complete",
			"kind": kind.String(),
			"next": res.Next.String(),
		}).Debug("dropping packet for unroutable address")
		n.metrics.PacketDropped(kind.String(), "unroutable")
		return
	}
	tr, err := n.activeTransport()
	if err != nil {
		n.metrics.PacketDropped(kind.String(), "not_running")
		return
	}
	if err := tr.Send(res.Next, res.Packet); err != nil {
		log.WithError(err).WithFields(logger.Fields{
			"at":   "(Node) complete",
			"kind": kind.String(),
			"next": res.Next.String(),
		}).Warn("failed to relay packet")
		n.metrics.PacketDropped(kind.String(), "send_failed")
		return
	}
	n.metrics.PacketHandled(kind.String(), res.Action.String())
}

func (n *Node) transportDrop(source ipport.IPPort, reason string) {
	switch reason {
	case "rate_limited":
		n.metrics.PacketRateLimited()
	default:
		n.metrics.PacketDropped("unknown", reason)
	}
}

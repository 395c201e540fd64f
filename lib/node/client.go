package node

import (
	"github.com/go-i2p/go-onion/lib/ipport"
	"github.com/go-i2p/go-onion/lib/onion"
	"github.com/samber/oops"
)

// CreatePath builds a path over three relays using the node's identity.
func (n *Node) CreatePath(relays []onion.Node) (*onion.Path, error) {
	return onion.CreatePath(n.onion, relays)
}

// CreateEphemeralPath builds a path that only reveals the node's identity
// to the entry relay.
func (n *Node) CreateEphemeralPath(relays []onion.Node) (*onion.Path, error) {
	return onion.CreateEphemeralPath(n.onion, relays)
}

// SendOnion wraps payload for dest and sends it to the path's entry relay.
func (n *Node) SendOnion(path *onion.Path, dest ipport.IPPort, payload []byte) error {
	tr, err := n.activeTransport()
	if err != nil {
		return err
	}
	packet, err := onion.EncodeSend(path, dest, payload)
	if err != nil {
		return err
	}
	if err := tr.Send(path.Address(onion.Hop1), packet); err != nil {
		return oops.Wrapf(err, "sending onion to entry relay")
	}
	return nil
}

// SendResponse answers a delivered payload. to is the last relay the
// packet came from and returnTag the tag that arrived with it.
func (n *Node) SendResponse(to ipport.IPPort, returnTag, payload []byte) error {
	tr, err := n.activeTransport()
	if err != nil {
		return err
	}
	packet, err := onion.EncodeResponse(returnTag, payload)
	if err != nil {
		return err
	}
	if err := tr.Send(to, packet); err != nil {
		return oops.Wrapf(err, "sending response to %s", to)
	}
	return nil
}

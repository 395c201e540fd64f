package onion

import (
	"github.com/go-i2p/go-onion/lib/ipport"
	"github.com/go-i2p/go-onion/lib/keys"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"golang.org/x/crypto/nacl/box"
)

// Node describes a relay candidate as handed out by the peer table.
type Node struct {
	PublicKey [32]byte
	Address   ipport.IPPort
}

// hop holds everything the encoder needs for one relay.
type hop struct {
	sharedKey [32]byte
	// senderKey is the public key we present to this relay so it can
	// derive sharedKey on its side.
	senderKey [32]byte
	nodeKey   [32]byte
	addr      ipport.IPPort
}

// Path is an immutable three-hop route. Its fields cannot be modified
// after CreatePath returns.
type Path struct {
	hops [HopCount]hop
}

// CreatePath builds a path through exactly three relays, entry first. The
// node identity is presented to every hop and each hop's shared key comes
// from that hop position's cache, so repeated paths over the same relays
// cost no Diffie-Hellman work.
//
// All layers of a packet share one nonce, so the three relays must have
// distinct public keys; a repeated relay is rejected with ErrInvalidInput.
func CreatePath(o *Onion, nodes []Node) (*Path, error) {
	if err := validateNodes(o, nodes); err != nil {
		return nil, err
	}

	p := &Path{}
	for i, n := range nodes {
		pk := n.PublicKey
		p.hops[i] = hop{
			sharedKey: *o.cache(Hop(i)).GetOrCompute(&pk),
			senderKey: o.identity.Public,
			nodeKey:   n.PublicKey,
			addr:      n.Address,
		}
	}

	log.WithFields(logger.Fields{
		"at":   "CreatePath",
		"hop1": nodes[0].Address.String(),
		"hop2": nodes[1].Address.String(),
		"hop3": nodes[2].Address.String(),
	}).Debug("created onion path")
	return p, nil
}

// CreateEphemeralPath builds a path where only the entry relay sees the
// node identity. Hops two and three are keyed with fresh one-time key
// pairs, so those relays cannot link the path to its originator. Shared
// keys for hops two and three are therefore different on every call.
func CreateEphemeralPath(o *Onion, nodes []Node) (*Path, error) {
	if err := validateNodes(o, nodes); err != nil {
		return nil, err
	}

	p := &Path{}
	pk := nodes[0].PublicKey
	p.hops[0] = hop{
		sharedKey: *o.cache(Hop1).GetOrCompute(&pk),
		senderKey: o.identity.Public,
		nodeKey:   nodes[0].PublicKey,
		addr:      nodes[0].Address,
	}
	for i := 1; i < HopCount; i++ {
		eph, err := keys.GenerateKeyPair()
		if err != nil {
			return nil, oops.Wrapf(err, "failed to generate ephemeral key for %s", Hop(i))
		}
		h := hop{
			senderKey: eph.Public,
			nodeKey:   nodes[i].PublicKey,
			addr:      nodes[i].Address,
		}
		box.Precompute(&h.sharedKey, &h.nodeKey, &eph.Private)
		eph.Zero()
		p.hops[i] = h
	}

	log.WithFields(logger.Fields{
		"at":   "CreateEphemeralPath",
		"hop1": nodes[0].Address.String(),
	}).Debug("created onion path with ephemeral inner keys")
	return p, nil
}

func validateNodes(o *Onion, nodes []Node) error {
	if o == nil {
		return oops.Wrapf(ErrInvalidInput, "nil onion context")
	}
	if len(nodes) != HopCount {
		return oops.Wrapf(ErrInvalidInput, "path needs %d nodes, got %d", HopCount, len(nodes))
	}
	for i, n := range nodes {
		for j := 0; j < i; j++ {
			if nodes[j].PublicKey == n.PublicKey {
				return oops.Wrapf(ErrInvalidInput, "node %d repeats the relay at position %d", i, j)
			}
		}
		if n.PublicKey == ([32]byte{}) {
			return oops.Wrapf(ErrInvalidInput, "node %d has an empty public key", i)
		}
		if !n.Address.Valid() {
			return oops.Wrapf(ErrInvalidInput, "node %d has unusable address family %s", i, n.Address.Family)
		}
	}
	return nil
}

// Address returns the network address of hop h. Accessors return the
// zero value for an out-of-range hop.
func (p *Path) Address(h Hop) ipport.IPPort {
	if !h.valid() {
		return ipport.IPPort{}
	}
	return p.hops[h].addr
}

// NodePublicKey returns the long-term public key of hop h.
func (p *Path) NodePublicKey(h Hop) [32]byte {
	if !h.valid() {
		return [32]byte{}
	}
	return p.hops[h].nodeKey
}

// SharedKey returns the symmetric key shared with hop h.
func (p *Path) SharedKey(h Hop) [32]byte {
	if !h.valid() {
		return [32]byte{}
	}
	return p.hops[h].sharedKey
}

// SenderKey returns the public key presented to hop h.
func (p *Path) SenderKey(h Hop) [32]byte {
	if !h.valid() {
		return [32]byte{}
	}
	return p.hops[h].senderKey
}

// Nodes returns the relays of the path, entry first.
func (p *Path) Nodes() []Node {
	nodes := make([]Node, HopCount)
	for i, h := range p.hops {
		nodes[i] = Node{PublicKey: h.nodeKey, Address: h.addr}
	}
	return nodes
}

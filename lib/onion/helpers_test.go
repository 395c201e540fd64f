package onion

import (
	"fmt"
	"testing"

	"github.com/go-i2p/go-onion/lib/ipport"
	"github.com/go-i2p/go-onion/lib/keys"
	"github.com/stretchr/testify/require"
)

// testNode is one participant of a simulated network.
type testNode struct {
	onion *Onion
	addr  ipport.IPPort
}

func newTestNode(t *testing.T, port uint16, opts ...Option) *testNode {
	t.Helper()
	kp, err := keys.GenerateKeyPair()
	require.NoError(t, err)
	o, err := New(kp, opts...)
	require.NoError(t, err)
	addr, err := ipport.Parse(fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	return &testNode{onion: o, addr: addr}
}

func (n *testNode) descriptor() Node {
	return Node{PublicKey: n.onion.PublicKey(), Address: n.addr}
}

// testNetwork is an originator, three relays and a destination.
type testNetwork struct {
	sender *testNode
	relays [HopCount]*testNode
	dest   *testNode
}

func newTestNetwork(t *testing.T) *testNetwork {
	t.Helper()
	n := &testNetwork{
		sender: newTestNode(t, 33445),
		dest:   newTestNode(t, 33449),
	}
	for i := range n.relays {
		n.relays[i] = newTestNode(t, uint16(33446+i))
	}
	return n
}

func (n *testNetwork) nodes() []Node {
	nodes := make([]Node, HopCount)
	for i, r := range n.relays {
		nodes[i] = r.descriptor()
	}
	return nodes
}

func (n *testNetwork) path(t *testing.T) *Path {
	t.Helper()
	p, err := CreatePath(n.sender.onion, n.nodes())
	require.NoError(t, err)
	return p
}

// relaySend walks packet through the three relays, checking each hop
// forwards to the next, and returns the final delivery.
func (n *testNetwork) relaySend(t *testing.T, packet []byte) *Result {
	t.Helper()
	source := n.sender.addr
	for i, relay := range n.relays {
		res, err := relay.onion.DecodeSend(Hop(i), packet, source)
		require.NoError(t, err, "decode at %s", Hop(i))
		if Hop(i) == Hop3 {
			require.Equal(t, ActionDeliver, res.Action)
			return res
		}
		require.Equal(t, ActionForward, res.Action)
		require.Equal(t, n.relays[i+1].addr, res.Next)
		packet = res.Packet
		source = relay.addr
	}
	return nil
}

func flipBit(b []byte, bit int) []byte {
	out := append([]byte(nil), b...)
	out[bit/8] ^= 1 << (bit % 8)
	return out
}

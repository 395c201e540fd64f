package onion

import "github.com/go-i2p/go-onion/lib/ipport"

// FallbackHandler delivers packets whose decoded address is not an IP
// endpoint, for example a peer reachable only over a TCP relay. dest keeps
// the virtual family and identifier exactly as decoded.
type FallbackHandler interface {
	Deliver(dest ipport.IPPort, packet []byte) error
}

// FallbackFunc adapts a function to FallbackHandler.
type FallbackFunc func(dest ipport.IPPort, packet []byte) error

// Deliver calls f.
func (f FallbackFunc) Deliver(dest ipport.IPPort, packet []byte) error {
	return f(dest, packet)
}

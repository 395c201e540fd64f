package transport

import (
	"errors"

	"github.com/go-i2p/go-onion/lib/ipport"
)

var (
	// ErrTransportClosed is returned when sending on a closed transport.
	ErrTransportClosed = errors.New("transport closed")
	// ErrUnroutable is returned when an address cannot be reached by a
	// transport, e.g. a virtual address handed to UDP.
	ErrUnroutable = errors.New("address not routable by transport")
	// ErrPacketTooLarge is returned for datagrams over the size limit.
	ErrPacketTooLarge = errors.New("datagram too large")
)

// Transport sends opaque datagrams.
type Transport interface {
	// Send transmits packet to addr. It does not retry.
	Send(addr ipport.IPPort, packet []byte) error
	// LocalAddr returns the address the transport receives on.
	LocalAddr() ipport.IPPort
	// Close stops the transport.
	Close() error
}

// Handler processes one inbound datagram. packet is only valid for the
// duration of the call.
type Handler func(source ipport.IPPort, packet []byte)

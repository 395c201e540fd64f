// Package ipport implements the fixed-size network address encoding used
// inside onion packets and return tags.
//
// An encoded address is always Size bytes:
//
//	family(1) ‖ ip(16) ‖ port(2, big-endian)
//
// IPv4 addresses are stored in their IPv4-mapped IPv6 form. Families above
// FamilyVirtual do not name an IP endpoint at all; their 16 address bytes
// are opaque to this package and are interpreted by whichever alternate
// transport registered the family.
package ipport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/samber/oops"
)

// Size is the encoded length of an IPPort.
const Size = 1 + 16 + 2

// Family identifies how the address bytes of an IPPort are interpreted.
type Family uint8

const (
	FamilyUnspec Family = 0
	FamilyInet   Family = 2
	FamilyInet6  Family = 10

	// FamilyVirtual is the first family value that does not describe an IP
	// endpoint.
	FamilyVirtual Family = 130

	FamilyTCPOnion  Family = 130
	FamilyTCPClient Family = 131
	FamilyTCPServer Family = 132
)

var (
	ErrInvalidLength = errors.New("invalid encoded address length")
	ErrUnknownFamily = errors.New("unknown address family")
	ErrNotIP         = errors.New("address is not an IP endpoint")
)

// IPPort is a network endpoint as carried on the wire.
type IPPort struct {
	Family Family
	IP     [16]byte
	Port   uint16
}

// FromAddrPort converts a netip.AddrPort. Invalid addresses yield a zero IPPort.
func FromAddrPort(ap netip.AddrPort) IPPort {
	addr := ap.Addr()
	if !addr.IsValid() {
		return IPPort{}
	}
	ipp := IPPort{Family: FamilyInet6, IP: addr.As16(), Port: ap.Port()}
	if addr.Unmap().Is4() {
		ipp.Family = FamilyInet
	}
	return ipp
}

// FromUDPAddr converts a *net.UDPAddr.
func FromUDPAddr(addr *net.UDPAddr) (IPPort, error) {
	if addr == nil {
		return IPPort{}, oops.Wrapf(ErrNotIP, "nil UDP address")
	}
	ap := addr.AddrPort()
	if !ap.Addr().IsValid() {
		return IPPort{}, oops.Wrapf(ErrNotIP, "UDP address %s has no IP", addr)
	}
	return FromAddrPort(ap), nil
}

// Parse resolves "host:port" with a literal IP host.
func Parse(s string) (IPPort, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return IPPort{}, oops.Wrapf(err, "failed to parse address %q", s)
	}
	return FromAddrPort(ap), nil
}

// Virtual builds an address in one of the virtual families. id is copied
// into the address bytes, truncated to 16 bytes.
func Virtual(family Family, id []byte, port uint16) IPPort {
	ipp := IPPort{Family: family, Port: port}
	copy(ipp.IP[:], id)
	return ipp
}

// Valid reports whether a uses a family that can be encoded and decoded.
func (a IPPort) Valid() bool {
	return a.Family.valid()
}

// IsIP reports whether the address names a concrete IPv4 or IPv6 endpoint.
func (a IPPort) IsIP() bool {
	return a.Family == FamilyInet || a.Family == FamilyInet6
}

// IsVirtual reports whether the address belongs to an alternate transport.
func (a IPPort) IsVirtual() bool {
	return a.Family >= FamilyVirtual
}

// AddrPort returns the endpoint as a netip.AddrPort.
func (a IPPort) AddrPort() (netip.AddrPort, error) {
	if !a.IsIP() {
		return netip.AddrPort{}, oops.Wrapf(ErrNotIP, "family %d", a.Family)
	}
	addr := netip.AddrFrom16(a.IP)
	if a.Family == FamilyInet {
		addr = addr.Unmap()
	}
	return netip.AddrPortFrom(addr, a.Port), nil
}

// UDPAddr returns the endpoint as a *net.UDPAddr.
func (a IPPort) UDPAddr() (*net.UDPAddr, error) {
	ap, err := a.AddrPort()
	if err != nil {
		return nil, err
	}
	return net.UDPAddrFromAddrPort(ap), nil
}

// Put writes the encoded address into b, which must hold at least Size bytes.
func (a IPPort) Put(b []byte) {
	_ = b[Size-1]
	b[0] = byte(a.Family)
	copy(b[1:17], a.IP[:])
	binary.BigEndian.PutUint16(b[17:19], a.Port)
}

// Bytes returns the Size-byte encoding of a.
func (a IPPort) Bytes() []byte {
	b := make([]byte, Size)
	a.Put(b)
	return b
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (a IPPort) MarshalBinary() ([]byte, error) {
	return a.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (a *IPPort) UnmarshalBinary(b []byte) error {
	ipp, err := Decode(b)
	if err != nil {
		return err
	}
	*a = ipp
	return nil
}

// Decode reads an encoded address. b must be exactly Size bytes.
func Decode(b []byte) (IPPort, error) {
	if len(b) != Size {
		return IPPort{}, oops.Wrapf(ErrInvalidLength, "got %d bytes, want %d", len(b), Size)
	}
	ipp := IPPort{Family: Family(b[0]), Port: binary.BigEndian.Uint16(b[17:19])}
	copy(ipp.IP[:], b[1:17])
	if !ipp.Family.valid() {
		return IPPort{}, oops.Wrapf(ErrUnknownFamily, "family %d", b[0])
	}
	if ipp.Family == FamilyInet && !netip.AddrFrom16(ipp.IP).Is4In6() {
		return IPPort{}, oops.Wrapf(ErrUnknownFamily, "inet family with non IPv4 address")
	}
	return ipp, nil
}

func (f Family) valid() bool {
	switch f {
	case FamilyInet, FamilyInet6, FamilyTCPOnion, FamilyTCPClient, FamilyTCPServer:
		return true
	}
	return false
}

func (f Family) String() string {
	switch f {
	case FamilyUnspec:
		return "unspec"
	case FamilyInet:
		return "inet"
	case FamilyInet6:
		return "inet6"
	case FamilyTCPOnion:
		return "tcp-onion"
	case FamilyTCPClient:
		return "tcp-client"
	case FamilyTCPServer:
		return "tcp-server"
	}
	return fmt.Sprintf("family(%d)", uint8(f))
}

func (a IPPort) String() string {
	if ap, err := a.AddrPort(); err == nil {
		return ap.String()
	}
	return fmt.Sprintf("%s/%x:%d", a.Family, a.IP, a.Port)
}

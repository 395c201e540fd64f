// Package udp implements transport.Transport over a single UDP socket.
package udp

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/go-i2p/go-onion/lib/ipport"
	"github.com/go-i2p/go-onion/lib/transport"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

// DefaultMaxDatagram bounds the read buffer. Anything longer is dropped.
const DefaultMaxDatagram = 1400

// DropFunc is notified when an inbound datagram is discarded before
// dispatch. reason is one of "too_large", "rate_limited", "unhandled".
type DropFunc func(source ipport.IPPort, reason string)

// Config configures a Transport.
type Config struct {
	// ListenAddress is a host:port string, e.g. "0.0.0.0:33445".
	ListenAddress string
	// MaxDatagram overrides DefaultMaxDatagram when positive.
	MaxDatagram int
	// Limiter, when set, filters inbound datagrams by source IP.
	Limiter *transport.SourceLimiter
	// OnDrop, when set, is told about every pre-dispatch drop.
	OnDrop DropFunc
}

// Transport is a UDP datagram transport with kind-based dispatch.
type Transport struct {
	conn       *net.UDPConn
	local      ipport.IPPort
	dispatcher *transport.Dispatcher
	limiter    *transport.SourceLimiter
	onDrop     DropFunc
	maxSize    int

	closed    atomic.Bool
	closeOnce sync.Once
}

var _ transport.Transport = (*Transport)(nil)

// Listen binds a UDP socket and returns a Transport that dispatches
// through d. The read loop does not start until Serve is called.
func Listen(cfg Config, d *transport.Dispatcher) (*Transport, error) {
	if d == nil {
		return nil, oops.Errorf("dispatcher is required")
	}
	laddr, err := net.ResolveUDPAddr("udp", cfg.ListenAddress)
	if err != nil {
		return nil, oops.Wrapf(err, "resolving listen address %q", cfg.ListenAddress)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, oops.Wrapf(err, "listening on %s", laddr)
	}
	local, err := ipport.FromUDPAddr(conn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		conn.Close()
		return nil, oops.Wrapf(err, "converting local address")
	}
	maxSize := cfg.MaxDatagram
	if maxSize <= 0 {
		maxSize = DefaultMaxDatagram
	}

	log.WithFields(logger.Fields{
		"at":    "Listen",
		"local": local.String(),
	}).Info("UDP transport listening")

	return &Transport{
		conn:       conn,
		local:      local,
		dispatcher: d,
		limiter:    cfg.Limiter,
		onDrop:     cfg.OnDrop,
		maxSize:    maxSize,
	}, nil
}

// LocalAddr returns the bound address.
func (t *Transport) LocalAddr() ipport.IPPort {
	return t.local
}

// Send writes packet to addr as one datagram.
func (t *Transport) Send(addr ipport.IPPort, packet []byte) error {
	if t.closed.Load() {
		return transport.ErrTransportClosed
	}
	if len(packet) > t.maxSize {
		return oops.Wrapf(transport.ErrPacketTooLarge, "%d bytes exceeds %d", len(packet), t.maxSize)
	}
	ap, err := addr.AddrPort()
	if err != nil {
		return oops.Wrapf(transport.ErrUnroutable, "destination %s: %v", addr, err)
	}
	if _, err := t.conn.WriteToUDPAddrPort(packet, ap); err != nil {
		return oops.Wrapf(err, "sending to %s", addr)
	}
	return nil
}

// Serve runs the read loop until ctx is cancelled or the transport is
// closed. It returns nil on orderly shutdown.
func (t *Transport) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { t.Close() })
	defer stop()

	// one extra byte so oversized datagrams are detectable
	buf := make([]byte, t.maxSize+1)
	for {
		n, from, err := t.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if t.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.WithError(err).WithField("at", "(Transport) Serve").Warn("UDP read failed")
			continue
		}
		source := ipport.FromAddrPort(from)
		if n > t.maxSize {
			t.drop(source, "too_large")
			continue
		}
		if t.limiter != nil && !t.limiter.Allow(from.Addr()) {
			t.drop(source, "rate_limited")
			continue
		}
		if !t.dispatcher.Dispatch(source, buf[:n]) {
			t.drop(source, "unhandled")
		}
	}
}

func (t *Transport) drop(source ipport.IPPort, reason string) {
	log.WithFields(logger.Fields{
		"at":     "(Transport) drop",
		"source": source.String(),
		"reason": reason,
	}).Debug("dropping datagram")
	if t.onDrop != nil {
		t.onDrop(source, reason)
	}
}

// Close shuts the socket. A running Serve returns afterwards.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		err = t.conn.Close()
		log.WithFields(logger.Fields{
			"at":    "(Transport) Close",
			"local": t.local.String(),
		}).Debug("UDP transport closed")
	})
	return err
}

package transport

import (
	"sync"
	"sync/atomic"

	"github.com/go-i2p/go-onion/lib/ipport"
	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// Dispatcher routes datagrams to handlers keyed by their first byte.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[byte]Handler

	unhandled atomic.Uint64
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[byte]Handler)}
}

// RegisterHandler installs h for packets starting with kind, replacing any
// previous handler. A nil h removes the handler.
func (d *Dispatcher) RegisterHandler(kind byte, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h == nil {
		delete(d.handlers, kind)
		return
	}
	d.handlers[kind] = h
}

// Dispatch hands packet to the handler registered for its first byte and
// reports whether one was found.
func (d *Dispatcher) Dispatch(source ipport.IPPort, packet []byte) bool {
	if len(packet) == 0 {
		d.unhandled.Add(1)
		return false
	}
	d.mu.RLock()
	h, ok := d.handlers[packet[0]]
	d.mu.RUnlock()
	if !ok {
		d.unhandled.Add(1)
		log.WithFields(logger.Fields{
			"at":     "(Dispatcher) Dispatch",
			"kind":   packet[0],
			"source": source.String(),
		}).Debug("no handler for packet kind")
		return false
	}
	h(source, packet)
	return true
}

// Unhandled returns how many packets found no handler.
func (d *Dispatcher) Unhandled() uint64 {
	return d.unhandled.Load()
}

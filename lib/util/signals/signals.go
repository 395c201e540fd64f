// Package signals runs registered callbacks on process signals.
//
// SIGHUP runs reload handlers. SIGINT and SIGTERM run pre-shutdown
// handlers, bounded by a timeout, and then interrupt handlers. Handlers
// run in registration order and a panicking handler does not stop the
// ones after it.
package signals

import (
	"os"
	"os/signal"
	"sync"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// sigChan is buffered so a signal arriving before Handle runs is kept.
var sigChan = make(chan os.Signal, 1)

// Handler is called when a signal is received.
type Handler func()

// HandlerID identifies a registration for later removal.
type HandlerID int

type entry struct {
	id HandlerID
	fn Handler
}

// handlerList is an ordered, concurrency-safe set of handlers.
type handlerList struct {
	mu      sync.RWMutex
	name    string
	entries []entry
}

var (
	idMu   sync.Mutex
	nextID HandlerID

	reloaders    = &handlerList{name: "reload"}
	interrupters = &handlerList{name: "interrupt"}
	preShutdown  = &handlerList{name: "pre-shutdown"}

	stopOnce sync.Once
)

func newID() HandlerID {
	idMu.Lock()
	defer idMu.Unlock()
	id := nextID
	nextID++
	return id
}

func (l *handlerList) add(f Handler) HandlerID {
	if f == nil {
		return -1
	}
	id := newID()
	l.mu.Lock()
	l.entries = append(l.entries, entry{id: id, fn: f})
	l.mu.Unlock()
	return id
}

func (l *handlerList) remove(id HandlerID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.id == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return
		}
	}
}

func (l *handlerList) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// run calls a snapshot of the handlers so that handlers may register or
// deregister others without deadlocking.
func (l *handlerList) run() {
	l.mu.RLock()
	snapshot := make([]entry, len(l.entries))
	copy(snapshot, l.entries)
	l.mu.RUnlock()

	for _, e := range snapshot {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(logger.Fields{
						"at":      "(handlerList) run",
						"handler": l.name,
						"panic":   r,
					}).Error("signal handler panicked")
				}
			}()
			e.fn()
		}()
	}
}

// RegisterReloadHandler registers f for SIGHUP. Nil handlers are ignored
// and yield -1.
func RegisterReloadHandler(f Handler) HandlerID {
	return reloaders.add(f)
}

// DeregisterReloadHandler removes a reload handler.
func DeregisterReloadHandler(id HandlerID) {
	reloaders.remove(id)
}

// RegisterInterruptHandler registers f for SIGINT and SIGTERM. Nil
// handlers are ignored and yield -1.
func RegisterInterruptHandler(f Handler) HandlerID {
	return interrupters.add(f)
}

// DeregisterInterruptHandler removes an interrupt handler.
func DeregisterInterruptHandler(id HandlerID) {
	interrupters.remove(id)
}

func handleReload() {
	log.WithField("handlers", reloaders.len()).Debug("running reload handlers")
	reloaders.run()
}

func handleInterrupted() {
	handlePreShutdown()
	log.WithField("handlers", interrupters.len()).Debug("running interrupt handlers")
	interrupters.run()
}

// StopHandle makes Handle return. Safe to call more than once.
func StopHandle() {
	stopOnce.Do(func() {
		signal.Stop(sigChan)
		close(sigChan)
	})
}

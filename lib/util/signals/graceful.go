package signals

import (
	"sync"
	"time"
)

const defaultGracefulTimeout = 30 * time.Second

var (
	timeoutMu       sync.RWMutex
	gracefulTimeout = defaultGracefulTimeout
)

// RegisterPreShutdownHandler registers f to run before the interrupt
// handlers, e.g. to stop accepting packets while state is still intact.
func RegisterPreShutdownHandler(f Handler) HandlerID {
	return preShutdown.add(f)
}

// DeregisterPreShutdownHandler removes a pre-shutdown handler.
func DeregisterPreShutdownHandler(id HandlerID) {
	preShutdown.remove(id)
}

// SetGracefulTimeout bounds how long pre-shutdown handlers may take. A
// non-positive timeout restores the 30 second default.
func SetGracefulTimeout(timeout time.Duration) {
	timeoutMu.Lock()
	defer timeoutMu.Unlock()
	if timeout <= 0 {
		timeout = defaultGracefulTimeout
	}
	gracefulTimeout = timeout
}

// handlePreShutdown reports whether every pre-shutdown handler finished
// within the graceful timeout. A hung handler is abandoned, not killed.
func handlePreShutdown() bool {
	if preShutdown.len() == 0 {
		return true
	}
	timeoutMu.RLock()
	timeout := gracefulTimeout
	timeoutMu.RUnlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		preShutdown.run()
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		log.WithField("timeout", timeout).Warn("pre-shutdown handlers timed out")
		return false
	}
}

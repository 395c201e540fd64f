package transport

import (
	"net/netip"
	"sync"
	"time"

	"github.com/go-i2p/logger"
	"golang.org/x/time/rate"
)

// SourceLimiter applies a token bucket per source IP so that one peer
// cannot monopolize a relay's packet processing.
//
// Idle sources are forgotten by a background cleanup loop, bounding memory
// to the set of recently active peers.
type SourceLimiter struct {
	mu      sync.Mutex
	sources map[netip.Addr]*sourceState

	limit rate.Limit
	burst int
	idle  time.Duration

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type sourceState struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewSourceLimiter allows each source perSecond packets per second with
// the given burst. Sources idle for longer than idle are dropped from the
// table. A non-positive perSecond disables limiting.
func NewSourceLimiter(perSecond float64, burst int, idle time.Duration) *SourceLimiter {
	if burst < 1 {
		burst = 1
	}
	if idle <= 0 {
		idle = 5 * time.Minute
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	sl := &SourceLimiter{
		sources:  make(map[netip.Addr]*sourceState),
		limit:    limit,
		burst:    burst,
		idle:     idle,
		stopChan: make(chan struct{}),
	}
	sl.wg.Add(1)
	go sl.cleanupLoop()

	log.WithFields(logger.Fields{
		"at":         "NewSourceLimiter",
		"per_second": perSecond,
		"burst":      burst,
	}).Debug("created source limiter")
	return sl
}

// Allow reports whether a packet from addr may be processed now.
func (sl *SourceLimiter) Allow(addr netip.Addr) bool {
	return sl.allowAt(addr, time.Now())
}

func (sl *SourceLimiter) allowAt(addr netip.Addr, now time.Time) bool {
	if sl.limit == rate.Inf {
		return true
	}
	addr = addr.Unmap()

	sl.mu.Lock()
	st, ok := sl.sources[addr]
	if !ok {
		st = &sourceState{limiter: rate.NewLimiter(sl.limit, sl.burst)}
		sl.sources[addr] = st
	}
	st.lastSeen = now
	sl.mu.Unlock()

	return st.limiter.AllowN(now, 1)
}

// Tracked returns how many sources currently have state.
func (sl *SourceLimiter) Tracked() int {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return len(sl.sources)
}

func (sl *SourceLimiter) cleanupLoop() {
	defer sl.wg.Done()
	ticker := time.NewTicker(sl.idle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-sl.stopChan:
			return
		case now := <-ticker.C:
			sl.cleanup(now)
		}
	}
}

func (sl *SourceLimiter) cleanup(now time.Time) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	removed := 0
	for addr, st := range sl.sources {
		if now.Sub(st.lastSeen) > sl.idle {
			delete(sl.sources, addr)
			removed++
		}
	}
	if removed > 0 {
		log.WithFields(logger.Fields{
			"at":      "(SourceLimiter) cleanup",
			"removed": removed,
		}).Debug("forgot idle sources")
	}
}

// Stop terminates the cleanup loop.
func (sl *SourceLimiter) Stop() {
	sl.stopOnce.Do(func() {
		close(sl.stopChan)
	})
	sl.wg.Wait()
}

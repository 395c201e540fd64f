package onion

import (
	"sync"
	"time"

	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/go-onion/lib/keycache"
	"github.com/go-i2p/go-onion/lib/keys"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

// DefaultRotationInterval is how long a return tag secret stays current.
const DefaultRotationInterval = 2 * time.Hour

// Onion is the per-node onion state: the node identity, one shared key
// cache per hop position and the rotating return tag secret.
type Onion struct {
	identity keys.KeyPair
	caches   [HopCount]*keycache.Cache
	fallback FallbackHandler

	cacheSize        int
	rotationInterval time.Duration
	now              func() time.Time

	secretMu  sync.RWMutex
	current   *[32]byte
	previous  *[32]byte
	rotatedAt time.Time
}

// Option configures an Onion.
type Option func(*Onion)

// WithFallback sets the handler used for decoded addresses that are not IP
// endpoints.
func WithFallback(h FallbackHandler) Option {
	return func(o *Onion) {
		o.fallback = h
	}
}

// WithKeyCacheSize bounds each of the per-hop key caches.
func WithKeyCacheSize(n int) Option {
	return func(o *Onion) {
		o.cacheSize = n
	}
}

// WithRotationInterval sets how often MaybeRotate replaces the secret.
func WithRotationInterval(d time.Duration) Option {
	return func(o *Onion) {
		if d > 0 {
			o.rotationInterval = d
		}
	}
}

// WithClock overrides the time source used by MaybeRotate.
func WithClock(now func() time.Time) Option {
	return func(o *Onion) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates the onion state for a node identified by identity.
func New(identity *keys.KeyPair, opts ...Option) (*Onion, error) {
	if identity == nil {
		return nil, oops.Wrapf(ErrInvalidInput, "nil identity")
	}
	o := &Onion{
		identity:         *identity,
		cacheSize:        keycache.DefaultSize,
		rotationInterval: DefaultRotationInterval,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	for i := range o.caches {
		c, err := keycache.New(&o.identity.Private, o.cacheSize)
		if err != nil {
			return nil, oops.Wrapf(err, "failed to create key cache for %s", Hop(i))
		}
		o.caches[i] = c
	}

	secret, err := newSecret()
	if err != nil {
		return nil, err
	}
	o.current = secret
	o.rotatedAt = o.now()

	log.WithFields(logger.Fields{
		"at":                "New",
		"public_key":        o.identity.PublicHex(),
		"rotation_interval": o.rotationInterval,
		"fallback":          o.fallback != nil,
	}).Debug("created onion context")
	return o, nil
}

func newSecret() (*[32]byte, error) {
	secret := new([32]byte)
	if _, err := rand.Read(secret[:]); err != nil {
		return nil, oops.Wrapf(err, "failed to generate return tag secret")
	}
	return secret, nil
}

// PublicKey returns the node's long-term public key.
func (o *Onion) PublicKey() [32]byte {
	return o.identity.Public
}

// cache returns the shared key cache for hop position h.
func (o *Onion) cache(h Hop) *keycache.Cache {
	return o.caches[h]
}

// SharedKey returns the cached shared key between this node and peer for
// hop position h.
func (o *Onion) SharedKey(h Hop, peer *[32]byte) (*[32]byte, error) {
	if !h.valid() {
		return nil, oops.Wrapf(ErrInvalidInput, "unknown hop %d", int(h))
	}
	return o.cache(h).GetOrCompute(peer), nil
}

// RotateSecret retires the previous return tag secret, demotes the current
// one and installs a fresh secret. Tags sealed before the last call remain
// valid until the next one.
func (o *Onion) RotateSecret() error {
	_, err := o.rotate(false)
	return err
}

// MaybeRotate rotates the secret if it has been current for at least the
// rotation interval, and reports whether it did. Concurrent callers rotate
// at most once per interval.
func (o *Onion) MaybeRotate() (bool, error) {
	return o.rotate(true)
}

// rotate swaps in a fresh secret. With onlyIfDue set, the age check and
// the swap happen under the same lock.
func (o *Onion) rotate(onlyIfDue bool) (bool, error) {
	secret, err := newSecret()
	if err != nil {
		return false, err
	}

	o.secretMu.Lock()
	if onlyIfDue && o.now().Sub(o.rotatedAt) < o.rotationInterval {
		o.secretMu.Unlock()
		zero(secret)
		return false, nil
	}
	if o.previous != nil {
		zero(o.previous)
	}
	o.previous = o.current
	o.current = secret
	o.rotatedAt = o.now()
	rotatedAt := o.rotatedAt
	o.secretMu.Unlock()

	log.WithFields(logger.Fields{
		"at":         "(Onion) rotate",
		"rotated_at": rotatedAt,
	}).Debug("rotated return tag secret")
	return true, nil
}

// RotationInterval returns the configured rotation interval.
func (o *Onion) RotationInterval() time.Duration {
	return o.rotationInterval
}

// RotatedAt returns when the current secret was installed.
func (o *Onion) RotatedAt() time.Time {
	o.secretMu.RLock()
	defer o.secretMu.RUnlock()
	return o.rotatedAt
}

// secrets returns copies of the current and, if present, previous secret.
func (o *Onion) secrets() (current [32]byte, previous *[32]byte) {
	o.secretMu.RLock()
	defer o.secretMu.RUnlock()
	current = *o.current
	if o.previous != nil {
		p := *o.previous
		previous = &p
	}
	return current, previous
}

// Close wipes the secrets and drops all cached shared keys.
func (o *Onion) Close() {
	o.secretMu.Lock()
	zero(o.current)
	if o.previous != nil {
		zero(o.previous)
		o.previous = nil
	}
	o.secretMu.Unlock()

	for _, c := range o.caches {
		c.Close()
	}
	o.identity.Zero()
}

func zero(k *[32]byte) {
	for i := range k {
		k[i] = 0
	}
}

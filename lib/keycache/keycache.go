// Package keycache caches the result of the Curve25519 shared-key
// precomputation between our secret key and a peer's public key.
package keycache

import (
	"errors"

	"github.com/go-i2p/logger"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/nacl/box"
)

var log = logger.GetGoI2PLogger()

// DefaultSize is the number of peers remembered by a cache built with a
// non-positive size.
const DefaultSize = 256

// ErrNilSecretKey is returned by New when no secret key is supplied.
var ErrNilSecretKey = errors.New("key cache requires a secret key")

// Cache maps a peer public key to the precomputed shared key between that
// peer and the cache owner's secret key. Entries never change once
// inserted; the only way a key leaves the cache is LRU eviction.
//
// Cache is safe for concurrent use.
type Cache struct {
	secret [32]byte
	keys   *lru.Cache[[32]byte, [32]byte]
}

// New creates a cache owned by secretKey holding at most size entries.
func New(secretKey *[32]byte, size int) (*Cache, error) {
	if secretKey == nil {
		return nil, ErrNilSecretKey
	}
	if size <= 0 {
		size = DefaultSize
	}
	keys, err := lru.New[[32]byte, [32]byte](size)
	if err != nil {
		return nil, err
	}
	c := &Cache{keys: keys}
	c.secret = *secretKey
	return c, nil
}

// GetOrCompute returns the shared key for peer, computing and inserting it
// on a miss. The returned array is a copy owned by the caller.
func (c *Cache) GetOrCompute(peer *[32]byte) *[32]byte {
	if shared, ok := c.keys.Get(*peer); ok {
		return &shared
	}

	var shared [32]byte
	box.Precompute(&shared, peer, &c.secret)
	// Two goroutines racing on the same peer compute identical keys, so
	// whichever insert lands last is still correct.
	if evicted := c.keys.Add(*peer, shared); evicted {
		log.WithField("at", "(Cache) GetOrCompute").Debug("evicted least recently used shared key")
	}
	return &shared
}

// Contains reports whether a shared key for peer is cached, without
// touching its recency.
func (c *Cache) Contains(peer *[32]byte) bool {
	return c.keys.Contains(*peer)
}

// Len returns the number of cached keys.
func (c *Cache) Len() int {
	return c.keys.Len()
}

// Purge drops every cached key.
func (c *Cache) Purge() {
	c.keys.Purge()
}

// Close drops every cached key and wipes the owner's secret. The cache must
// not be used afterwards.
func (c *Cache) Close() {
	c.keys.Purge()
	for i := range c.secret {
		c.secret[i] = 0
	}
}

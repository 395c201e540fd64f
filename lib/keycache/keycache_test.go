package keycache

import (
	"sync"
	"testing"

	"github.com/go-i2p/crypto/rand"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

func newKeyPair(t *testing.T) (pub, priv *[32]byte) {
	t.Helper()
	priv = new([32]byte)
	_, err := rand.Read(priv[:])
	require.NoError(t, err)
	pub = new([32]byte)
	curve25519.ScalarBaseMult(pub, priv)
	return pub, priv
}

func TestNewRequiresSecret(t *testing.T) {
	c, err := New(nil, 8)
	assert.ErrorIs(t, err, ErrNilSecretKey)
	assert.Nil(t, c)
}

func TestGetOrComputeMatchesPrecompute(t *testing.T) {
	ourPub, ourPriv := newKeyPair(t)
	peerPub, peerPriv := newKeyPair(t)

	c, err := New(ourPriv, 8)
	require.NoError(t, err)

	got := c.GetOrCompute(peerPub)

	var want [32]byte
	box.Precompute(&want, peerPub, ourPriv)
	assert.Equal(t, want, *got)

	// Both sides of the exchange derive the same key.
	var theirs [32]byte
	box.Precompute(&theirs, ourPub, peerPriv)
	assert.Equal(t, theirs, *got)

	assert.True(t, c.Contains(peerPub))
	assert.Equal(t, 1, c.Len())
}

func TestCacheHitReturnsSameKey(t *testing.T) {
	_, ourPriv := newKeyPair(t)
	peerPub, _ := newKeyPair(t)

	c, err := New(ourPriv, 8)
	require.NoError(t, err)

	first := c.GetOrCompute(peerPub)
	first[0] ^= 0xff // mutating a returned copy must not poison the cache
	second := c.GetOrCompute(peerPub)

	assert.NotEqual(t, *first, *second)
	first[0] ^= 0xff
	assert.Equal(t, *first, *second)
	assert.Equal(t, 1, c.Len())
}

func TestEviction(t *testing.T) {
	_, ourPriv := newKeyPair(t)
	c, err := New(ourPriv, 2)
	require.NoError(t, err)

	a, _ := newKeyPair(t)
	b, _ := newKeyPair(t)
	d, _ := newKeyPair(t)

	keyA := *c.GetOrCompute(a)
	c.GetOrCompute(b)
	c.GetOrCompute(d)

	assert.Equal(t, 2, c.Len())
	assert.False(t, c.Contains(a), "least recently used entry should be evicted")

	// Recomputing after eviction yields the same key.
	assert.Equal(t, keyA, *c.GetOrCompute(a))

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestConcurrentAccess(t *testing.T) {
	_, ourPriv := newKeyPair(t)
	c, err := New(ourPriv, DefaultSize)
	require.NoError(t, err)

	peers := make([]*[32]byte, 16)
	for i := range peers {
		peers[i], _ = newKeyPair(t)
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				c.GetOrCompute(peers[i%len(peers)])
			}
		}()
	}
	wg.Wait()

	for _, p := range peers {
		var want [32]byte
		box.Precompute(&want, p, ourPriv)
		assert.Equal(t, want, *c.GetOrCompute(p))
	}
}

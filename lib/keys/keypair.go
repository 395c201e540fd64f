package keys

import (
	"encoding/hex"
	"errors"

	"github.com/go-i2p/crypto/rand"
	"github.com/samber/oops"
	"golang.org/x/crypto/curve25519"
)

// KeySize is the length of a Curve25519 public or private key.
const KeySize = 32

var (
	ErrInvalidKeyLength = errors.New("invalid key length")
	ErrZeroKey          = errors.New("key is all zeros")
)

// KeyPair is a Curve25519 key pair used with NaCl box.
type KeyPair struct {
	Public  [KeySize]byte
	Private [KeySize]byte
}

// GenerateKeyPair creates a fresh key pair from the system CSPRNG.
func GenerateKeyPair() (*KeyPair, error) {
	var priv [KeySize]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, oops.Wrapf(err, "failed to read random private key")
	}
	return KeyPairFromPrivate(priv), nil
}

// KeyPairFromPrivate derives the public half of priv.
func KeyPairFromPrivate(priv [KeySize]byte) *KeyPair {
	kp := &KeyPair{Private: priv}
	curve25519.ScalarBaseMult(&kp.Public, &kp.Private)
	return kp
}

// ParsePublicKey decodes a hex encoded public key.
func ParsePublicKey(s string) ([KeySize]byte, error) {
	var pk [KeySize]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return pk, oops.Wrapf(err, "public key is not hex")
	}
	if len(b) != KeySize {
		return pk, oops.Wrapf(ErrInvalidKeyLength, "got %d bytes", len(b))
	}
	copy(pk[:], b)
	if pk == ([KeySize]byte{}) {
		return pk, ErrZeroKey
	}
	return pk, nil
}

// PublicHex returns the hex encoded public key.
func (kp *KeyPair) PublicHex() string {
	return hex.EncodeToString(kp.Public[:])
}

// Zero overwrites the private key.
func (kp *KeyPair) Zero() {
	for i := range kp.Private {
		kp.Private[i] = 0
	}
}

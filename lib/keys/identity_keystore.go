package keys

import (
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

var log = logger.GetGoI2PLogger()

// KeyStore is an interface for storing and retrieving keys
type KeyStore interface {
	KeyID() string
	// GetKeys returns the node key pair
	GetKeys() (*KeyPair, error)
	// StoreKeys stores the keys
	StoreKeys() error
}

// identityFile is the on-disk form of a node identity.
type identityFile struct {
	Public  string `yaml:"public"`
	Private string `yaml:"private"`
}

// IdentityKeystore keeps the node's long-term onion identity in
// <dir>/<name>.yaml.
type IdentityKeystore struct {
	dir     string
	name    string
	pair    *KeyPair
	created bool
}

var _ KeyStore = &IdentityKeystore{}

// NewIdentityKeystore loads the identity stored under dir/name, generating
// a new key pair if none exists yet. A freshly generated identity is not
// written until StoreKeys is called.
func NewIdentityKeystore(dir, name string) (*IdentityKeystore, error) {
	if name == "" {
		name = "identity"
	}
	ks := &IdentityKeystore{dir: dir, name: name}

	data, err := os.ReadFile(ks.path())
	switch {
	case os.IsNotExist(err):
		log.WithFields(logger.Fields{
			"at":   "NewIdentityKeystore",
			"path": ks.path(),
		}).Info("no identity found, generating a new one")
		ks.pair, err = GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		ks.created = true
	case err != nil:
		return nil, oops.Wrapf(err, "failed to read identity %s", ks.path())
	default:
		ks.pair, err = decodeIdentity(data)
		if err != nil {
			return nil, oops.Wrapf(err, "failed to decode identity %s", ks.path())
		}
	}
	return ks, nil
}

func decodeIdentity(data []byte) (*KeyPair, error) {
	var f identityFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(f.Private)
	if err != nil {
		return nil, oops.Wrapf(err, "private key is not hex")
	}
	if len(raw) != KeySize {
		return nil, oops.Wrapf(ErrInvalidKeyLength, "private key has %d bytes", len(raw))
	}
	var priv [KeySize]byte
	copy(priv[:], raw)
	kp := KeyPairFromPrivate(priv)

	if f.Public != "" && f.Public != kp.PublicHex() {
		return nil, oops.Errorf("stored public key does not match private key")
	}
	return kp, nil
}

func (ks *IdentityKeystore) path() string {
	return filepath.Join(ks.dir, ks.name+".yaml")
}

// Created reports whether the identity was generated rather than loaded.
func (ks *IdentityKeystore) Created() bool {
	return ks.created
}

// LoadOrCreateIdentity returns the identity under dir/name, generating and
// persisting one on first use.
func LoadOrCreateIdentity(dir, name string) (*KeyPair, error) {
	ks, err := NewIdentityKeystore(dir, name)
	if err != nil {
		return nil, err
	}
	if ks.Created() {
		if err := ks.StoreKeys(); err != nil {
			return nil, err
		}
	}
	return ks.GetKeys()
}

// KeyID returns the name the identity is stored under.
func (ks *IdentityKeystore) KeyID() string {
	return ks.name
}

// GetKeys returns the identity key pair.
func (ks *IdentityKeystore) GetKeys() (*KeyPair, error) {
	if ks.pair == nil {
		return nil, oops.Errorf("identity keystore %s has no keys", ks.name)
	}
	return ks.pair, nil
}

// StoreKeys writes the identity to disk with owner-only permissions.
func (ks *IdentityKeystore) StoreKeys() error {
	if err := os.MkdirAll(ks.dir, 0o700); err != nil {
		return oops.Wrapf(err, "failed to create keystore directory %s", ks.dir)
	}
	data, err := yaml.Marshal(identityFile{
		Public:  ks.pair.PublicHex(),
		Private: hex.EncodeToString(ks.pair.Private[:]),
	})
	if err != nil {
		return err
	}
	if err := os.WriteFile(ks.path(), data, 0o600); err != nil {
		return oops.Wrapf(err, "failed to write identity %s", ks.path())
	}
	log.WithFields(logger.Fields{
		"at":     "(IdentityKeystore) StoreKeys",
		"path":   ks.path(),
		"public": ks.pair.PublicHex(),
	}).Debug("stored identity")
	return nil
}

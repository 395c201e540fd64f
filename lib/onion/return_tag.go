package onion

import (
	"errors"

	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/go-onion/lib/ipport"
	"github.com/samber/oops"
	"golang.org/x/crypto/nacl/secretbox"
)

// AppendReturnTag seals prev together with the tag accumulated so far
// under the current secret:
//
//	nonce ‖ secretbox(prev ‖ existing)
//
// existing must be empty or a complete one or two layer tag.
func (o *Onion) AppendReturnTag(prev ipport.IPPort, existing []byte) ([]byte, error) {
	switch len(existing) {
	case 0, Return1, Return2:
	default:
		return nil, oops.Wrapf(ErrMalformed, "cannot extend a %d byte return tag", len(existing))
	}
	if !prev.Valid() {
		return nil, oops.Wrapf(ErrInvalidInput, "previous hop has unusable address family %s", prev.Family)
	}

	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, oops.Wrapf(err, "failed to generate return tag nonce")
	}

	plain := make([]byte, 0, ipport.Size+len(existing))
	plain = append(plain, prev.Bytes()...)
	plain = append(plain, existing...)

	secret, _ := o.secrets()
	tag := make([]byte, 0, NonceSize+len(plain)+MACSize)
	tag = append(tag, nonce[:]...)
	tag = secretbox.Seal(tag, plain, &nonce, &secret)
	return tag, nil
}

// PeelReturnTag opens the outermost layer of tag and returns the address
// it names along with the remaining, shorter tag. The layer must open
// under the current or the previous secret; otherwise the tag is reported
// as expired. A forged tag cannot be told apart from an expired one, so
// the error matches both ErrExpired and ErrAuthenticationFailed.
func (o *Onion) PeelReturnTag(tag []byte) (ipport.IPPort, []byte, error) {
	switch len(tag) {
	case Return1, Return2, Return3:
	default:
		return ipport.IPPort{}, nil, oops.Wrapf(ErrMalformed, "return tag is %d bytes", len(tag))
	}

	var nonce [NonceSize]byte
	copy(nonce[:], tag[:NonceSize])
	sealed := tag[NonceSize:]

	current, previous := o.secrets()
	plain, ok := secretbox.Open(nil, sealed, &nonce, &current)
	if !ok && previous != nil {
		plain, ok = secretbox.Open(nil, sealed, &nonce, previous)
	}
	if !ok {
		return ipport.IPPort{}, nil, oops.Wrapf(errors.Join(ErrExpired, ErrAuthenticationFailed), "return tag opens under no known secret")
	}

	addr, err := ipport.Decode(plain[:ipport.Size])
	if err != nil {
		return ipport.IPPort{}, nil, oops.Wrapf(ErrMalformed, "return tag address: %v", err)
	}
	return addr, plain[ipport.Size:], nil
}

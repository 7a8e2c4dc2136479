package crypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/curve25519"

	"duet/internal/domain"
	"duet/internal/util/memzero"
)

// ErrLowOrderPoint is returned when a DH output is all zeros.
var ErrLowOrderPoint = errors.New("x25519: low order point")

// GenerateX25519 returns a fresh Curve25519 key pair.
// The private key is clamped per RFC 7748.
func GenerateX25519() (priv domain.X25519Private, pub domain.X25519Public, err error) {
	var scalar [32]byte
	defer memzero.Zero32(&scalar)
	if _, err = rand.Read(scalar[:]); err != nil {
		return
	}
	return X25519FromScalar(scalar)
}

// X25519FromScalar clamps scalar and returns the resulting key pair.
func X25519FromScalar(scalar [32]byte) (priv domain.X25519Private, pub domain.X25519Public, err error) {
	priv = domain.X25519Private(scalar)
	clamp(&priv)
	pub, err = PublicFromPrivate(priv)
	return
}

// PublicFromPrivate computes the public half of priv.
func PublicFromPrivate(priv domain.X25519Private) (pub domain.X25519Public, err error) {
	pb, err := curve25519.X25519(priv.Slice(), curve25519.Basepoint)
	if err != nil {
		return pub, err
	}
	copy(pub[:], pb)
	return pub, nil
}

// DH computes X25519 Diffie–Hellman.
func DH(priv domain.X25519Private, pub domain.X25519Public) (out [32]byte, err error) {
	secret, err := curve25519.X25519(priv.Slice(), pub.Slice())
	if err != nil {
		return out, ErrLowOrderPoint
	}
	copy(out[:], secret)
	memzero.Zero(secret)
	return out, nil
}

func clamp(k *domain.X25519Private) {
	kb := k[:]
	kb[0] &= 248
	kb[31] &= 127
	kb[31] |= 64
}

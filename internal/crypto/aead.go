package crypto

import (
	"crypto/cipher"

	"golang.org/x/crypto/chacha20poly1305"
)

// AEAD sizes.
const (
	AEADKeySize   = chacha20poly1305.KeySize
	AEADNonceSize = chacha20poly1305.NonceSize
	AEADOverhead  = chacha20poly1305.Overhead
)

// NewAEAD returns a ChaCha20-Poly1305 instance for a 32-byte key.
func NewAEAD(key []byte) (cipher.AEAD, error) {
	return chacha20poly1305.New(key)
}

package store

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// keystoreFormatVersion is the current sealed blob format.
const keystoreFormatVersion = 1

// keystoreLabel binds a sealed blob to its purpose.
const keystoreLabel = "duet/keystore/v1"

// ErrWrongPassphrase is returned when the passphrase is incorrect or the
// blob was modified.
var ErrWrongPassphrase = errors.New("wrong passphrase or corrupted keystore")

// sealedBlob is the on-disk JSON structure holding the ciphertext and the
// scrypt parameters it was sealed under.
type sealedBlob struct {
	V      int    `json:"v"`
	Salt   []byte `json:"salt"`
	N      int    `json:"scrypt_N"`
	R      int    `json:"scrypt_r"`
	P      int    `json:"scrypt_p"`
	Cipher []byte `json:"cipher"`
}

// scryptParams are the tunables for passphrase stretching.
type scryptParams struct{ N, R, P int }

func defaultScrypt() scryptParams { return scryptParams{N: 1 << 15, R: 8, P: 1} }

// seal derives a key from passphrase under a fresh salt and encrypts raw.
func seal(passphrase string, raw []byte, kp scryptParams) ([]byte, error) {
	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, err
	}
	aead, err := keystoreAEAD(passphrase, salt[:], kp)
	if err != nil {
		return nil, err
	}
	// The key is unique per salt, so a fixed nonce is never reused.
	var nonce [chacha20poly1305.NonceSize]byte
	ct := aead.Seal(nil, nonce[:], raw, keystoreAD(salt[:]))

	return json.Marshal(sealedBlob{
		V:      keystoreFormatVersion,
		Salt:   salt[:],
		N:      kp.N,
		R:      kp.R,
		P:      kp.P,
		Cipher: ct,
	})
}

// open reverses seal.
func open(passphrase string, b []byte) ([]byte, error) {
	var bl sealedBlob
	if err := json.Unmarshal(b, &bl); err != nil {
		return nil, fmt.Errorf("parse keystore: %w", err)
	}
	if bl.V != keystoreFormatVersion {
		return nil, fmt.Errorf("unsupported keystore version %d", bl.V)
	}
	aead, err := keystoreAEAD(passphrase, bl.Salt, scryptParams{N: bl.N, R: bl.R, P: bl.P})
	if err != nil {
		return nil, err
	}
	var nonce [chacha20poly1305.NonceSize]byte
	pt, err := aead.Open(nil, nonce[:], bl.Cipher, keystoreAD(bl.Salt))
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return pt, nil
}

func keystoreAEAD(passphrase string, salt []byte, kp scryptParams) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, kp.N, kp.R, kp.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	return chacha20poly1305.New(key)
}

func keystoreAD(salt []byte) []byte {
	return append([]byte(keystoreLabel), salt...)
}

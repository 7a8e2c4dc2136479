// Package framing seals and opens ratchet payloads.
//
// Both the AEAD key and the nonce are derived from the one-use message key,
// so a message key must never seal more than one payload. The associated
// data binds the session, both parties and the ratchet header.
package framing

import (
	"crypto/subtle"
	"encoding/binary"

	"duet/internal/crypto"
	"duet/internal/domain"
	"duet/internal/util/memzero"
)

// ProtocolTag prefixes every associated-data block.
const ProtocolTag = "DUET/1"

// Seal encrypts pt under mk and returns nonce || sealed || tag.
func Seal(mk, ad, pt []byte) ([]byte, error) {
	key, nonce, err := expand(mk)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(key)

	aead, err := crypto.NewAEAD(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(pt)+aead.Overhead())
	out = append(out, nonce...)
	return aead.Seal(out, nonce, pt, ad), nil
}

// Open authenticates and decrypts ct. Every failure is ErrDecryptionFailed.
func Open(mk, ad, ct []byte) ([]byte, error) {
	if len(ct) < crypto.AEADNonceSize+crypto.AEADOverhead {
		return nil, domain.ErrDecryptionFailed
	}
	key, nonce, err := expand(mk)
	if err != nil {
		return nil, domain.ErrDecryptionFailed
	}
	defer memzero.Zero(key)

	if subtle.ConstantTimeCompare(nonce, ct[:crypto.AEADNonceSize]) != 1 {
		return nil, domain.ErrDecryptionFailed
	}
	aead, err := crypto.NewAEAD(key)
	if err != nil {
		return nil, domain.ErrDecryptionFailed
	}
	pt, err := aead.Open(nil, nonce, ct[crypto.AEADNonceSize:], ad)
	if err != nil {
		return nil, domain.ErrDecryptionFailed
	}
	return pt, nil
}

// AssociatedData builds the AD for one message:
// tag || len(sessionAD) || sessionAD || len(sender) || sender ||
// len(recipient) || recipient || ratchetKey || pn || n.
func AssociatedData(
	sessionAD []byte,
	sender, recipient domain.PartyID,
	ratchetKey domain.X25519Public,
	pn, n uint32,
) []byte {
	size := len(ProtocolTag) + 3*4 + len(sessionAD) + len(sender) + len(recipient) + 32 + 8
	ad := make([]byte, 0, size)
	ad = append(ad, ProtocolTag...)
	ad = appendPrefixed(ad, sessionAD)
	ad = appendPrefixed(ad, []byte(sender))
	ad = appendPrefixed(ad, []byte(recipient))
	ad = append(ad, ratchetKey[:]...)
	ad = binary.BigEndian.AppendUint32(ad, pn)
	return binary.BigEndian.AppendUint32(ad, n)
}

func appendPrefixed(dst, b []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(b)))
	return append(dst, b...)
}

func expand(mk []byte) (key, nonce []byte, err error) {
	key, err = crypto.HKDF(mk, nil, crypto.LabelFrameKey, crypto.AEADKeySize)
	if err != nil {
		return nil, nil, err
	}
	nonce, err = crypto.HKDF(mk, nil, crypto.LabelFrameNonce, crypto.AEADNonceSize)
	if err != nil {
		memzero.Zero(key)
		return nil, nil, err
	}
	return key, nonce, nil
}

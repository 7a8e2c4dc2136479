package ratchet

import (
	"duet/internal/crypto"
	"duet/internal/domain"
	"duet/internal/util/memzero"
)

const keySize = 32

// kdfRK mixes a DH output into the root key: (root key, chain key).
func kdfRK(rk []byte, dh [32]byte) (newRK, ck []byte, err error) {
	defer memzero.Zero32(&dh)
	okm, err := crypto.HKDF(dh[:], rk, crypto.LabelRatchetRoot, 2*keySize)
	if err != nil {
		return nil, nil, err
	}
	return split(okm)
}

// kdfCK advances a chain key: (next chain key, message key).
func kdfCK(ck []byte) (nextCK, mk []byte, err error) {
	okm, err := crypto.HKDF(ck, nil, crypto.LabelRatchetChain, 2*keySize)
	if err != nil {
		return nil, nil, err
	}
	return split(okm)
}

func split(okm []byte) (a, b []byte, err error) {
	a = append([]byte(nil), okm[:keySize]...)
	b = append([]byte(nil), okm[keySize:]...)
	memzero.Zero(okm)
	return a, b, nil
}

// step advances c by one message and returns the message key.
func step(c *domain.ChainState) ([]byte, error) {
	next, mk, err := kdfCK(c.Key)
	if err != nil {
		return nil, err
	}
	memzero.Zero(c.Key)
	c.Key = next
	c.Index++
	return mk, nil
}

// wipe zeroes every secret in st.
func wipe(st *domain.RatchetState) {
	memzero.Zero(st.RootKey)
	memzero.Zero(st.OurRatchetPriv[:])
	if st.Sending != nil {
		memzero.Zero(st.Sending.Key)
	}
	if st.Receiving != nil {
		memzero.Zero(st.Receiving.Key)
	}
	for _, k := range st.Skipped {
		memzero.Zero(k.Key)
	}
}

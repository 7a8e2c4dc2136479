package crypto

import (
	"crypto/sha256"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// Domain-separation labels.
const (
	LabelSeedSalt       = "duet/seed/v1"
	LabelIdentitySign   = "duet/identity/ed25519"
	LabelIdentityAgree  = "duet/identity/x25519"
	LabelIdentityRotate = "duet/identity/rotate"
	LabelBinding        = "duet/identity/binding"
	LabelEndorsement    = "duet/identity/endorse"
	LabelSignedPreKey   = "duet/prekey/signed"
	LabelX3DH           = "duet/x3dh"
	LabelRatchetRoot    = "duet/ratchet/root"
	LabelRatchetChain   = "duet/ratchet/chain"
	LabelFrameKey       = "duet/frame/key"
	LabelFrameNonce     = "duet/frame/nonce"
)

// Argon2id parameters for the recovery phrase.
const (
	seedTime    = 3
	seedMemory  = 64 * 1024
	seedThreads = 4
	SeedSize    = 32
)

// HKDF runs HKDF-SHA256 and returns n bytes.
func HKDF(secret, salt []byte, info string, n int) ([]byte, error) {
	out := make([]byte, n)
	r := hkdf.New(sha256.New, secret, salt, []byte(info))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// SeedFromPhrase stretches a recovery phrase into an identity seed.
//
// The salt is a fixed protocol constant so the same phrase always yields the
// same seed. Whitespace and letter case are normalised first.
func SeedFromPhrase(phrase string) []byte {
	norm := strings.Join(strings.Fields(strings.ToLower(phrase)), " ")
	return argon2.IDKey([]byte(norm), []byte(LabelSeedSalt), seedTime, seedMemory, seedThreads, SeedSize)
}

package crypto

import (
	"encoding/binary"
	"errors"
	"time"

	"duet/internal/domain"
	"duet/internal/util/memzero"
)

// DeriveIdentity deterministically derives the identity key pairs from seed.
// The result has Version 1 and no creation time.
func DeriveIdentity(seed []byte) (domain.Identity, error) {
	if len(seed) < SeedSize {
		return domain.Identity{}, errors.New("identity seed too short")
	}
	edSeed, err := HKDF(seed, nil, LabelIdentitySign, 32)
	if err != nil {
		return domain.Identity{}, err
	}
	xSeed, err := HKDF(seed, nil, LabelIdentityAgree, 32)
	if err != nil {
		return domain.Identity{}, err
	}
	defer memzero.ZeroAll(edSeed, xSeed)

	var es, xs [32]byte
	copy(es[:], edSeed)
	copy(xs[:], xSeed)
	defer memzero.Zero32(&es)
	defer memzero.Zero32(&xs)

	edPriv, edPub := Ed25519FromSeed(es)
	xPriv, xPub, err := X25519FromScalar(xs)
	if err != nil {
		return domain.Identity{}, err
	}
	id := domain.Identity{
		XPub:    xPub,
		XPriv:   xPriv,
		EdPub:   edPub,
		EdPriv:  edPriv,
		Version: 1,
	}
	id.Binding = SignEd25519(edPriv, BindingMessage(xPub))
	return id, nil
}

// RotatedSeed derives the seed of identity version v from the version 1 seed.
func RotatedSeed(seed []byte, version uint32) ([]byte, error) {
	if version <= 1 {
		return append([]byte(nil), seed...), nil
	}
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], version)
	return HKDF(seed, v[:], LabelIdentityRotate, SeedSize)
}

// DeriveIdentityVersion derives identity version v from the version 1 seed.
func DeriveIdentityVersion(seed []byte, version uint32) (domain.Identity, error) {
	s, err := RotatedSeed(seed, version)
	if err != nil {
		return domain.Identity{}, err
	}
	defer memzero.Zero(s)
	id, err := DeriveIdentity(s)
	if err != nil {
		return domain.Identity{}, err
	}
	if version > 1 {
		id.Version = version
	}
	return id, nil
}

// BindingMessage is what the signing key signs to vouch for an agreement key.
func BindingMessage(agreement domain.X25519Public) []byte {
	msg := make([]byte, 0, len(LabelBinding)+32)
	msg = append(msg, LabelBinding...)
	return append(msg, agreement[:]...)
}

// VerifyBinding checks the binding signature of a public identity.
func VerifyBinding(id domain.PublicIdentity) bool {
	return VerifyEd25519(id.SigningKey, BindingMessage(id.AgreementKey), id.BindingSignature)
}

// EndorsementMessage is what an earlier signing key signs to vouch for a
// later identity: label || signing key || agreement key.
func EndorsementMessage(next domain.PublicIdentity) []byte {
	msg := make([]byte, 0, len(LabelEndorsement)+64)
	msg = append(msg, LabelEndorsement...)
	msg = append(msg, next.SigningKey[:]...)
	return append(msg, next.AgreementKey[:]...)
}

// Endorse signs next with the earlier identity prev.
func Endorse(prev domain.Identity, next domain.PublicIdentity) domain.Endorsement {
	return domain.Endorsement{
		Signer:    prev.EdPub,
		Signature: SignEd25519(prev.EdPriv, EndorsementMessage(next)),
	}
}

// VerifyEndorsement reports whether one of ends is a valid signature by
// prev's signing key over next.
func VerifyEndorsement(prev, next domain.PublicIdentity, ends []domain.Endorsement) bool {
	msg := EndorsementMessage(next)
	for _, e := range ends {
		if e.Signer.Equal(prev.SigningKey) && VerifyEd25519(prev.SigningKey, msg, e.Signature) {
			return true
		}
	}
	return false
}

// SignedPreKeyMessage is what the signing key signs for a signed pre-key:
// label || public key || expiry as big-endian unix seconds.
func SignedPreKeyMessage(pub domain.X25519Public, expires time.Time) []byte {
	msg := make([]byte, 0, len(LabelSignedPreKey)+32+8)
	msg = append(msg, LabelSignedPreKey...)
	msg = append(msg, pub[:]...)
	return binary.BigEndian.AppendUint64(msg, uint64(expires.Unix()))
}

// VerifySignedPreKey checks a signed pre-key signature and that it has not
// expired at now.
func VerifySignedPreKey(signer domain.Ed25519Public, spk domain.SignedPreKeyPublic, now time.Time) bool {
	expires := time.Unix(spk.ExpiresUTC, 0)
	ok := VerifyEd25519(signer, SignedPreKeyMessage(spk.Pub, expires), spk.Signature)
	return ok && now.Before(expires)
}

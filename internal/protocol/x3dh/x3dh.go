package x3dh

import (
	"bytes"
	"errors"
	"time"

	"duet/internal/crypto"
	"duet/internal/domain"
	"duet/internal/util/memzero"
)

const (
	keySize    = 32
	outputSize = 2 * keySize
)

// Result is the outcome of a handshake on either side.
type Result struct {
	RootKey        []byte
	ChainKey       []byte
	AssociatedData []byte
	Header         domain.HandshakeHeader
	// UsedOneTimePreKey is false on the degraded path without a one-time pre-key.
	UsedOneTimePreKey bool
}

// Wipe zeroes the derived secrets.
func (r *Result) Wipe() {
	memzero.ZeroAll(r.RootKey, r.ChainKey)
}

// Initiate runs the initiator side of X3DH against bundle.
//
// When pinned is non-nil the bundle identity must carry exactly the pinned
// keys.
func Initiate(
	our domain.Identity,
	bundle domain.PreKeyBundle,
	pinned *domain.PublicIdentity,
	now time.Time,
) (Result, error) {
	if !crypto.VerifyBinding(bundle.Identity) {
		return Result{}, domain.NewError(domain.CodeHandshakeAuth, "bundle identity binding invalid")
	}
	if !crypto.VerifySignedPreKey(bundle.Identity.SigningKey, bundle.SignedPreKey, now) {
		return Result{}, domain.NewError(domain.CodeHandshakeAuth, "signed pre-key invalid or expired")
	}
	if pinned != nil && !bundle.Identity.SameKeys(*pinned) {
		return Result{}, domain.NewError(domain.CodeHandshakeAuth, "bundle identity differs from pinned identity")
	}

	ephPriv, ephPub, err := crypto.GenerateX25519()
	if err != nil {
		return Result{}, err
	}
	defer memzero.Zero(ephPriv[:])

	theirs := bundle.Identity.AgreementKey
	spk := bundle.SignedPreKey.Pub
	pairs := []dhPair{
		{our.XPriv, spk},  // DH(IKa, SPKb)
		{ephPriv, theirs}, // DH(EKa, IKb)
		{ephPriv, spk},    // DH(EKa, SPKb)
	}
	header := domain.HandshakeHeader{
		Initiator:      our.Public(),
		EphemeralKey:   ephPub,
		SignedPreKeyID: bundle.SignedPreKey.ID,
	}
	if bundle.OneTimePreKey != nil {
		pairs = append(pairs, dhPair{ephPriv, bundle.OneTimePreKey.Pub}) // DH(EKa, OPKb)
		header.OneTimePreKeyID = bundle.OneTimePreKey.ID
	}

	rk, ck, err := derive(pairs)
	if err != nil {
		return Result{}, err
	}
	return Result{
		RootKey:           rk,
		ChainKey:          ck,
		AssociatedData:    AssociatedData(our.XPub, theirs),
		Header:            header,
		UsedOneTimePreKey: bundle.OneTimePreKey != nil,
	}, nil
}

// Respond runs the responder side of X3DH for an incoming handshake header.
// opk must be the pair named by header.OneTimePreKeyID, or nil if none.
func Respond(
	our domain.Identity,
	spk domain.SignedPreKeyPair,
	opk *domain.OneTimePreKeyPair,
	header domain.HandshakeHeader,
) (Result, error) {
	if !crypto.VerifyBinding(header.Initiator) {
		return Result{}, domain.NewError(domain.CodeHandshakeAuth, "initiator identity binding invalid")
	}
	if header.SignedPreKeyID != spk.ID {
		return Result{}, domain.NewError(domain.CodeHandshakeAuth, "signed pre-key mismatch")
	}
	if (header.OneTimePreKeyID == "") != (opk == nil) {
		return Result{}, domain.NewError(domain.CodeHandshakeAuth, "one-time pre-key unavailable")
	}
	if opk != nil && opk.ID != header.OneTimePreKeyID {
		return Result{}, domain.NewError(domain.CodeHandshakeAuth, "one-time pre-key mismatch")
	}

	theirs := header.Initiator.AgreementKey
	eph := header.EphemeralKey
	pairs := []dhPair{
		{spk.Priv, theirs}, // DH(SPKb, IKa)
		{our.XPriv, eph},   // DH(IKb, EKa)
		{spk.Priv, eph},    // DH(SPKb, EKa)
	}
	if opk != nil {
		pairs = append(pairs, dhPair{opk.Priv, eph}) // DH(OPKb, EKa)
	}

	rk, ck, err := derive(pairs)
	if err != nil {
		return Result{}, err
	}
	return Result{
		RootKey:           rk,
		ChainKey:          ck,
		AssociatedData:    AssociatedData(theirs, our.XPub),
		Header:            header,
		UsedOneTimePreKey: opk != nil,
	}, nil
}

// AssociatedData is the session associated data IK_initiator || IK_responder.
func AssociatedData(initiator, responder domain.X25519Public) []byte {
	ad := make([]byte, 0, 2*keySize)
	ad = append(ad, initiator[:]...)
	return append(ad, responder[:]...)
}

type dhPair struct {
	priv domain.X25519Private
	pub  domain.X25519Public
}

func derive(pairs []dhPair) (rk, ck []byte, err error) {
	ikm := make([]byte, 0, keySize*(len(pairs)+1))
	ikm = append(ikm, bytes.Repeat([]byte{0xff}, keySize)...)
	defer memzero.Zero(ikm)

	for _, p := range pairs {
		out, err := crypto.DH(p.priv, p.pub)
		if err != nil {
			if errors.Is(err, crypto.ErrLowOrderPoint) {
				return nil, nil, domain.WrapError(domain.CodeHandshakeAuth, "invalid handshake key", err)
			}
			return nil, nil, err
		}
		ikm = append(ikm, out[:]...)
		memzero.Zero32(&out)
	}

	okm, err := crypto.HKDF(ikm, make([]byte, keySize), crypto.LabelX3DH, outputSize)
	if err != nil {
		return nil, nil, err
	}
	rk = append([]byte(nil), okm[:keySize]...)
	ck = append([]byte(nil), okm[keySize:]...)
	memzero.Zero(okm)
	return rk, ck, nil
}

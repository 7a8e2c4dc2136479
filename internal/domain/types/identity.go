package types

// Identity holds your long-term X25519 and Ed25519 keys.
//
// Version starts at 1 and is bumped by every deliberate re-keying.
// Endorsements carry one signature per earlier version over this version's
// public keys, so a directory can accept the re-keying.
type Identity struct {
	XPub         X25519Public   `json:"xpub"`
	XPriv        X25519Private  `json:"xpriv"`
	EdPub        Ed25519Public  `json:"edpub"`
	EdPriv       Ed25519Private `json:"edpriv"`
	Binding      []byte         `json:"binding"`
	Version      uint32         `json:"version"`
	CreatedUTC   int64          `json:"created_utc"`
	Endorsements []Endorsement  `json:"endorsements,omitempty"`
}

// Public returns the publishable half of the identity.
func (id Identity) Public() PublicIdentity {
	return PublicIdentity{
		AgreementKey:     id.XPub,
		SigningKey:       id.EdPub,
		BindingSignature: append([]byte(nil), id.Binding...),
	}
}

// PublicIdentity is the public identity of a party. BindingSignature is an
// Ed25519 signature by SigningKey over the agreement key.
type PublicIdentity struct {
	AgreementKey     X25519Public  `json:"agreement_key"`
	SigningKey       Ed25519Public `json:"signing_key"`
	BindingSignature []byte        `json:"binding_signature"`
}

// SameKeys reports whether both public identities carry the same keys.
func (p PublicIdentity) SameKeys(o PublicIdentity) bool {
	// Evaluate both comparisons so timing does not depend on which differs.
	a := p.AgreementKey.Equal(o.AgreementKey)
	s := p.SigningKey.Equal(o.SigningKey)
	return a && s
}

// Endorsement is a signature by an earlier identity's signing key over the
// public keys of a later identity of the same party.
type Endorsement struct {
	Signer    Ed25519Public `json:"signer"`
	Signature []byte        `json:"signature"`
}

// Partner is a pinned partner identity.
type Partner struct {
	ID         PartyID        `json:"id"`
	Identity   PublicIdentity `json:"identity"`
	PinnedUTC  int64          `json:"pinned_utc"`
	Repinnings int            `json:"repinnings"`
}

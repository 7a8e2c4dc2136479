package types

// SignedPreKeyPair is a signed pre-key with its private half, stored locally.
type SignedPreKeyPair struct {
	ID         SignedPreKeyID `json:"id"`
	Priv       X25519Private  `json:"priv"`
	Pub        X25519Public   `json:"pub"`
	Signature  []byte         `json:"signature"`
	ExpiresUTC int64          `json:"expires_utc"`
	CreatedUTC int64          `json:"created_utc"`
}

// Public returns the publishable half.
func (p SignedPreKeyPair) Public() SignedPreKeyPublic {
	return SignedPreKeyPublic{
		ID:         p.ID,
		Pub:        p.Pub,
		Signature:  append([]byte(nil), p.Signature...),
		ExpiresUTC: p.ExpiresUTC,
	}
}

// SignedPreKeyPublic is the public half of a signed pre-key.
type SignedPreKeyPublic struct {
	ID         SignedPreKeyID `json:"id"`
	Pub        X25519Public   `json:"pub"`
	Signature  []byte         `json:"signature"`
	ExpiresUTC int64          `json:"expires_utc"`
}

// OneTimePreKeyPair is the full (private+public) one-time pre-key stored locally.
type OneTimePreKeyPair struct {
	ID   OneTimePreKeyID `json:"id"`
	Priv X25519Private   `json:"priv"`
	Pub  X25519Public    `json:"pub"`
}

// OneTimePreKeyPublic is only the public half (sent in bundles).
type OneTimePreKeyPublic struct {
	ID  OneTimePreKeyID `json:"id"`
	Pub X25519Public    `json:"pub"`
}

// PublishedKeys is what a party uploads to the pre-key directory.
//
// ReplaceIdentity must be set to overwrite a previously registered identity
// with different keys, and Endorsements must then hold a signature by the
// registered identity over the new one.
type PublishedKeys struct {
	PartyID         PartyID               `json:"party_id"`
	Identity        PublicIdentity        `json:"identity"`
	SignedPreKey    SignedPreKeyPublic    `json:"signed_pre_key"`
	OneTimePreKeys  []OneTimePreKeyPublic `json:"one_time_pre_keys,omitempty"`
	ReplaceIdentity bool                  `json:"replace_identity,omitempty"`
	Endorsements    []Endorsement         `json:"endorsements,omitempty"`
}

// PreKeyBundle is the set of public keys an initiator fetches for a partner.
// OneTimePreKey is nil when the partner's pool is exhausted.
type PreKeyBundle struct {
	PartyID                 PartyID              `json:"party_id"`
	Identity                PublicIdentity       `json:"identity"`
	SignedPreKey            SignedPreKeyPublic   `json:"signed_pre_key"`
	OneTimePreKey           *OneTimePreKeyPublic `json:"one_time_pre_key,omitempty"`
	OneTimePreKeysRemaining int                  `json:"one_time_pre_keys_remaining"`
}

// HandshakeHeader carries the X3DH parameters an initiator attaches to its
// messages until the responder answers.
type HandshakeHeader struct {
	Initiator       PublicIdentity  `json:"initiator"`
	EphemeralKey    X25519Public    `json:"ephemeral_key"`
	SignedPreKeyID  SignedPreKeyID  `json:"signed_pre_key_id"`
	OneTimePreKeyID OneTimePreKeyID `json:"one_time_pre_key_id,omitempty"`
}

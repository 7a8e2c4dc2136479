package interfaces

import domaintypes "duet/internal/domain/types"

// IdentityStore persists your long-term identity keys, sealed with a
// passphrase. Superseded identities are kept for backlog decryption.
type IdentityStore interface {
	SaveIdentity(passphrase string, id domaintypes.Identity) error
	LoadIdentity(passphrase string) (domaintypes.Identity, error)
	HasIdentity() (bool, error)
	ArchiveIdentity(passphrase string, id domaintypes.Identity) error
	ArchivedIdentities(passphrase string) ([]domaintypes.Identity, error)
}

// PreKeyStore manages signed and one-time pre-keys on disk.
type PreKeyStore interface {
	// Signed pre-keys
	SaveSignedPreKey(pair domaintypes.SignedPreKeyPair) error
	LoadSignedPreKey(id domaintypes.SignedPreKeyID) (domaintypes.SignedPreKeyPair, bool, error)
	ListSignedPreKeys() ([]domaintypes.SignedPreKeyPair, error)
	DeleteSignedPreKey(id domaintypes.SignedPreKeyID) error

	// Current signed pre-key selection
	SetCurrentSignedPreKeyID(id domaintypes.SignedPreKeyID) error
	CurrentSignedPreKeyID() (domaintypes.SignedPreKeyID, bool, error)

	// One-time pre-keys
	SaveOneTimePreKeys(pairs []domaintypes.OneTimePreKeyPair) error
	LoadOneTimePreKey(id domaintypes.OneTimePreKeyID) (domaintypes.OneTimePreKeyPair, bool, error)
	ConsumeOneTimePreKey(id domaintypes.OneTimePreKeyID) (domaintypes.OneTimePreKeyPair, bool, error)
	ListOneTimePreKeyPublics() ([]domaintypes.OneTimePreKeyPublic, error)
}

// SessionStore persists the session record of each (local, partner) pair.
type SessionStore interface {
	SaveSessionRecord(local, partner domaintypes.PartyID, rec domaintypes.SessionRecord) error
	LoadSessionRecord(local, partner domaintypes.PartyID) (domaintypes.SessionRecord, bool, error)
}

// PartnerStore keeps the pinned identity of every partner.
type PartnerStore interface {
	SavePartner(p domaintypes.Partner) error
	LoadPartner(id domaintypes.PartyID) (domaintypes.Partner, bool, error)
}

// ProfileStore remembers the local party and relay.
type ProfileStore interface {
	SaveProfile(p domaintypes.Profile) error
	LoadProfile() (domaintypes.Profile, bool, error)
}

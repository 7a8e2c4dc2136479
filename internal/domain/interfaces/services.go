package interfaces

import (
	"context"
	"time"

	domaintypes "duet/internal/domain/types"
)

// IdentityService creates, restores, rotates and inspects your identity keys.
type IdentityService interface {
	GenerateIdentity(passphrase, phrase string) (domaintypes.Identity, domaintypes.Fingerprint, error)
	RestoreIdentity(passphrase, phrase string, version uint32) (domaintypes.Identity, domaintypes.Fingerprint, error)
	RotateIdentity(passphrase, phrase string) (domaintypes.Identity, domaintypes.Fingerprint, error)
	LoadIdentity(passphrase string) (domaintypes.Identity, error)
	FingerprintIdentity(passphrase string) (domaintypes.Fingerprint, error)
}

// PreKeyService generates, rotates and publishes your pre-keys.
type PreKeyService interface {
	GenerateAndStorePreKeys(passphrase string, count int) (
		domaintypes.SignedPreKeyPublic,
		[]domaintypes.OneTimePreKeyPublic,
		error,
	)
	RotateSignedPreKey(passphrase string) (domaintypes.SignedPreKeyPublic, error)
	ReplenishOneTimePreKeys(remaining, target int) ([]domaintypes.OneTimePreKeyPublic, error)
	PublishedKeys(passphrase string, party domaintypes.PartyID) (domaintypes.PublishedKeys, error)
	PruneSignedPreKeys(now time.Time) (int, error)
}

// StartOptions tunes how a new session treats the partner's identity.
type StartOptions struct {
	// Repin accepts a partner identity that differs from the pinned one.
	Repin bool
	// ExpectFingerprint, when set, must match the partner's fingerprint.
	ExpectFingerprint domaintypes.Fingerprint
}

// SessionService establishes or retrieves ratchet sessions.
type SessionService interface {
	StartSession(
		ctx context.Context,
		passphrase string,
		local, partner domaintypes.PartyID,
		opts StartOptions,
	) (domaintypes.Session, error)
	GetSession(local, partner domaintypes.PartyID) (domaintypes.SessionRecord, bool, error)
}

// MessageService encrypts, sends, fetches and decrypts messages.
type MessageService interface {
	EncryptForSending(
		ctx context.Context,
		plaintext []byte,
		recipient, sender domaintypes.PartyID,
	) (domaintypes.OutgoingMessage, error)
	DecryptReceived(
		ctx context.Context,
		passphrase string,
		msg domaintypes.WireMessage,
	) ([]byte, error)
	SendMessage(ctx context.Context, from, to domaintypes.PartyID, plaintext []byte) (domaintypes.OutgoingMessage, error)
	ReceiveMessages(
		ctx context.Context,
		passphrase string,
		me domaintypes.PartyID,
		limit int,
	) ([]domaintypes.DecryptedMessage, error)
}

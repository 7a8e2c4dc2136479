package x3dh_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duet/internal/crypto"
	"duet/internal/domain"
	"duet/internal/protocol/x3dh"
)

var now = time.Unix(1_700_000_000, 0)

// makeIdentity derives an identity from a throwaway phrase.
func makeIdentity(t *testing.T, phrase string) domain.Identity {
	t.Helper()
	id, err := crypto.DeriveIdentity(crypto.SeedFromPhrase(phrase))
	require.NoError(t, err)
	return id
}

// makeSignedPreKey creates a signed pre-key for id expiring a day after now.
func makeSignedPreKey(t *testing.T, id domain.Identity) domain.SignedPreKeyPair {
	t.Helper()
	priv, pub, err := crypto.GenerateX25519()
	require.NoError(t, err)
	expires := now.Add(24 * time.Hour)
	return domain.SignedPreKeyPair{
		ID:         "spk-test",
		Priv:       priv,
		Pub:        pub,
		Signature:  crypto.SignEd25519(id.EdPriv, crypto.SignedPreKeyMessage(pub, expires)),
		ExpiresUTC: expires.Unix(),
	}
}

func makeOneTimePreKey(t *testing.T) domain.OneTimePreKeyPair {
	t.Helper()
	priv, pub, err := crypto.GenerateX25519()
	require.NoError(t, err)
	return domain.OneTimePreKeyPair{ID: "opk-1", Priv: priv, Pub: pub}
}

func bundleFor(id domain.Identity, spk domain.SignedPreKeyPair, opk *domain.OneTimePreKeyPair) domain.PreKeyBundle {
	b := domain.PreKeyBundle{
		PartyID:      "bob",
		Identity:     id.Public(),
		SignedPreKey: spk.Public(),
	}
	if opk != nil {
		b.OneTimePreKey = &domain.OneTimePreKeyPublic{ID: opk.ID, Pub: opk.Pub}
	}
	return b
}

func TestInitiateRespond_NoOneTimePreKey(t *testing.T) {
	alice := makeIdentity(t, "alice")
	bob := makeIdentity(t, "bob")
	spk := makeSignedPreKey(t, bob)

	ini, err := x3dh.Initiate(alice, bundleFor(bob, spk, nil), nil, now)
	require.NoError(t, err)
	assert.False(t, ini.UsedOneTimePreKey)
	assert.Empty(t, ini.Header.OneTimePreKeyID)
	assert.Equal(t, domain.SignedPreKeyID("spk-test"), ini.Header.SignedPreKeyID)

	res, err := x3dh.Respond(bob, spk, nil, ini.Header)
	require.NoError(t, err)
	assert.Equal(t, ini.RootKey, res.RootKey)
	assert.Equal(t, ini.ChainKey, res.ChainKey)
	assert.Equal(t, ini.AssociatedData, res.AssociatedData)
	assert.NotEqual(t, ini.RootKey, ini.ChainKey)
	assert.Len(t, ini.RootKey, 32)
}

func TestInitiateRespond_WithOneTimePreKey(t *testing.T) {
	alice := makeIdentity(t, "alice")
	bob := makeIdentity(t, "bob")
	spk := makeSignedPreKey(t, bob)
	opk := makeOneTimePreKey(t)

	ini, err := x3dh.Initiate(alice, bundleFor(bob, spk, &opk), nil, now)
	require.NoError(t, err)
	assert.True(t, ini.UsedOneTimePreKey)
	assert.Equal(t, domain.OneTimePreKeyID("opk-1"), ini.Header.OneTimePreKeyID)

	res, err := x3dh.Respond(bob, spk, &opk, ini.Header)
	require.NoError(t, err)
	assert.Equal(t, ini.RootKey, res.RootKey)
	assert.Equal(t, ini.ChainKey, res.ChainKey)

	// Without the one-time key the responder cannot complete.
	_, err = x3dh.Respond(bob, spk, nil, ini.Header)
	assert.ErrorIs(t, err, domain.ErrHandshakeAuth)
}

func TestInitiate_BadSignedPreKeySignature(t *testing.T) {
	alice := makeIdentity(t, "alice")
	bob := makeIdentity(t, "bob")
	spk := makeSignedPreKey(t, bob)
	spk.Signature[0] ^= 0xff

	_, err := x3dh.Initiate(alice, bundleFor(bob, spk, nil), nil, now)
	assert.ErrorIs(t, err, domain.ErrHandshakeAuth)
}

func TestInitiate_ExpiredSignedPreKey(t *testing.T) {
	alice := makeIdentity(t, "alice")
	bob := makeIdentity(t, "bob")
	spk := makeSignedPreKey(t, bob)

	_, err := x3dh.Initiate(alice, bundleFor(bob, spk, nil), nil, now.Add(48*time.Hour))
	assert.ErrorIs(t, err, domain.ErrHandshakeAuth)
}

func TestInitiate_SignedPreKeyFromOtherIdentity(t *testing.T) {
	alice := makeIdentity(t, "alice")
	bob := makeIdentity(t, "bob")
	mallory := makeIdentity(t, "mallory")

	_, err := x3dh.Initiate(alice, bundleFor(bob, makeSignedPreKey(t, mallory), nil), nil, now)
	assert.ErrorIs(t, err, domain.ErrHandshakeAuth)
}

func TestInitiate_PinnedIdentityMismatch(t *testing.T) {
	alice := makeIdentity(t, "alice")
	bob := makeIdentity(t, "bob")
	mallory := makeIdentity(t, "mallory")
	spk := makeSignedPreKey(t, mallory)

	pinned := bob.Public()
	_, err := x3dh.Initiate(alice, bundleFor(mallory, spk, nil), &pinned, now)
	assert.ErrorIs(t, err, domain.ErrHandshakeAuth)

	pinned = mallory.Public()
	_, err = x3dh.Initiate(alice, bundleFor(mallory, spk, nil), &pinned, now)
	assert.NoError(t, err)
}

func TestRespond_ForgedInitiatorBinding(t *testing.T) {
	alice := makeIdentity(t, "alice")
	bob := makeIdentity(t, "bob")
	spk := makeSignedPreKey(t, bob)

	ini, err := x3dh.Initiate(alice, bundleFor(bob, spk, nil), nil, now)
	require.NoError(t, err)

	_, other, err := crypto.GenerateX25519()
	require.NoError(t, err)
	hdr := ini.Header
	hdr.Initiator.AgreementKey = other

	_, err = x3dh.Respond(bob, spk, nil, hdr)
	assert.ErrorIs(t, err, domain.ErrHandshakeAuth)
}

package identity_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duet/internal/crypto"
	"duet/internal/domain"
	"duet/internal/services/identity"
	"duet/internal/store"
)

const (
	pass   = "Correct-Horse-9"
	phrase = "alpha bravo charlie delta echo foxtrot golf hotel"
)

func TestGenerateIdentity_WeakPassphrase(t *testing.T) {
	svc := identity.New(store.NewIdentityFileStore(t.TempDir()), nil)
	_, _, err := svc.GenerateIdentity("short", phrase)
	assert.ErrorIs(t, err, identity.ErrWeakPassphrase)
}

func TestGenerateRestoreRotate(t *testing.T) {
	ids := store.NewIdentityFileStore(t.TempDir())
	svc := identity.New(ids, nil)

	id, fp, err := svc.GenerateIdentity(pass, phrase)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), id.Version)
	assert.Len(t, fp.String(), 20)

	_, _, err = svc.GenerateIdentity(pass, phrase)
	assert.ErrorIs(t, err, domain.ErrIdentityConflict)

	again, fp2, err := svc.RestoreIdentity(pass, "  ALPHA bravo charlie delta echo foxtrot golf   hotel ", 1)
	require.NoError(t, err)
	assert.Equal(t, id.XPub, again.XPub)
	assert.Equal(t, fp, fp2)

	_, _, err = svc.RotateIdentity(pass, "some other phrase entirely")
	assert.ErrorIs(t, err, identity.ErrPhraseMismatch)

	next, fp3, err := svc.RotateIdentity(pass, phrase)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), next.Version)
	assert.NotEqual(t, id.XPub, next.XPub)
	assert.NotEqual(t, fp, fp3)
	require.Len(t, next.Endorsements, 1)
	assert.True(t, crypto.VerifyEndorsement(id.Public(), next.Public(), next.Endorsements))
	assert.Empty(t, id.Endorsements)

	loaded, err := svc.LoadIdentity(pass)
	require.NoError(t, err)
	assert.Equal(t, next.XPub, loaded.XPub)

	archived, err := ids.ArchivedIdentities(pass)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, id.XPub, archived[0].XPub)

	got, err := svc.FingerprintIdentity(pass)
	require.NoError(t, err)
	assert.Equal(t, fp3, got)
}

func TestRestoreIdentity_OnFreshDevice(t *testing.T) {
	a := identity.New(store.NewIdentityFileStore(t.TempDir()), nil)
	b := identity.New(store.NewIdentityFileStore(t.TempDir()), nil)

	idA, _, err := a.RestoreIdentity(pass, phrase, 2)
	require.NoError(t, err)
	idB, _, err := b.RestoreIdentity(pass, phrase, 2)
	require.NoError(t, err)
	assert.Equal(t, idA.XPub, idB.XPub)
	assert.Equal(t, idA.EdPub, idB.EdPub)
	assert.Equal(t, uint32(2), idB.Version)
	assert.Len(t, idB.Endorsements, 1, "restored versions are endorsed like rotated ones")
}

func TestNewRecoveryPhrase(t *testing.T) {
	p, err := identity.NewRecoveryPhrase()
	require.NoError(t, err)
	assert.Len(t, strings.Fields(p), 8)

	q, err := identity.NewRecoveryPhrase()
	require.NoError(t, err)
	assert.NotEqual(t, p, q)
}

package store_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duet/internal/domain"
	"duet/internal/store"
)

func TestIdentity_SaveLoad_OK(t *testing.T) {
	home := t.TempDir()
	var ids domain.IdentityStore = store.NewIdentityFileStore(home)

	has, err := ids.HasIdentity()
	require.NoError(t, err)
	assert.False(t, has)

	_, err = ids.LoadIdentity("pass")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	id := domain.Identity{
		XPub:    domain.X25519Public{1},
		XPriv:   domain.X25519Private{2},
		EdPub:   domain.Ed25519Public{3},
		EdPriv:  domain.Ed25519Private{4},
		Binding: []byte{5, 6},
		Version: 1,
	}
	require.NoError(t, ids.SaveIdentity("pass", id))

	has, err = ids.HasIdentity()
	require.NoError(t, err)
	assert.True(t, has)

	got, err := ids.LoadIdentity("pass")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	raw, err := os.ReadFile(filepath.Join(home, "identity.json.enc"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "xpriv")
}

func TestIdentity_WrongPassphrase_Fails(t *testing.T) {
	ids := store.NewIdentityFileStore(t.TempDir())
	require.NoError(t, ids.SaveIdentity("correct", domain.Identity{XPub: domain.X25519Public{1}}))

	_, err := ids.LoadIdentity("wrong")
	assert.ErrorIs(t, err, store.ErrWrongPassphrase)
}

func TestIdentity_Archive(t *testing.T) {
	ids := store.NewIdentityFileStore(t.TempDir())

	got, err := ids.ArchivedIdentities("pass")
	require.NoError(t, err)
	assert.Empty(t, got)

	v1 := domain.Identity{XPub: domain.X25519Public{1}, Version: 1}
	v2 := domain.Identity{XPub: domain.X25519Public{2}, Version: 2}
	require.NoError(t, ids.ArchiveIdentity("pass", v1))
	require.NoError(t, ids.ArchiveIdentity("pass", v2))
	require.NoError(t, ids.ArchiveIdentity("pass", v2))

	got, err = ids.ArchivedIdentities("pass")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint32(2), got[0].Version)
	assert.Equal(t, uint32(1), got[1].Version)
}

func TestPrekeys_SignedLifecycle(t *testing.T) {
	var pks domain.PreKeyStore = store.NewPrekeyFileStore(t.TempDir())

	_, ok, err := pks.CurrentSignedPreKeyID()
	require.NoError(t, err)
	assert.False(t, ok)

	a := domain.SignedPreKeyPair{ID: "spk-a", Pub: domain.X25519Public{1}, Signature: []byte{1}, CreatedUTC: 10}
	b := domain.SignedPreKeyPair{ID: "spk-b", Pub: domain.X25519Public{2}, Signature: []byte{2}, CreatedUTC: 20}
	require.NoError(t, pks.SaveSignedPreKey(b))
	require.NoError(t, pks.SaveSignedPreKey(a))
	require.NoError(t, pks.SetCurrentSignedPreKeyID("spk-b"))

	cur, ok, err := pks.CurrentSignedPreKeyID()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.SignedPreKeyID("spk-b"), cur)

	list, err := pks.ListSignedPreKeys()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.SignedPreKeyID("spk-a"), list[0].ID)

	require.NoError(t, pks.DeleteSignedPreKey("spk-a"))
	_, ok, err = pks.LoadSignedPreKey("spk-a")
	require.NoError(t, err)
	assert.False(t, ok)

	got, ok, err := pks.LoadSignedPreKey("spk-b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, b, got)
}

func TestPrekeys_ConsumeOnce(t *testing.T) {
	pks := store.NewPrekeyFileStore(t.TempDir())
	require.NoError(t, pks.SaveOneTimePreKeys([]domain.OneTimePreKeyPair{
		{ID: "opk-2", Priv: domain.X25519Private{2}, Pub: domain.X25519Public{2}},
		{ID: "opk-1", Priv: domain.X25519Private{1}, Pub: domain.X25519Public{1}},
	}))

	pubs, err := pks.ListOneTimePreKeyPublics()
	require.NoError(t, err)
	require.Len(t, pubs, 2)
	assert.Equal(t, domain.OneTimePreKeyID("opk-1"), pubs[0].ID)

	p, ok, err := pks.ConsumeOneTimePreKey("opk-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.X25519Private{1}, p.Priv)

	_, ok, err = pks.ConsumeOneTimePreKey("opk-1")
	require.NoError(t, err)
	assert.False(t, ok)

	pubs, err = pks.ListOneTimePreKeyPublics()
	require.NoError(t, err)
	assert.Len(t, pubs, 1)
}

func TestSessions_RoundTrip(t *testing.T) {
	var ss domain.SessionStore = store.NewSessionFileStore(t.TempDir())

	_, ok, err := ss.LoadSessionRecord("alice", "bob/evil")
	require.NoError(t, err)
	assert.False(t, ok)

	rec := domain.SessionRecord{
		Current: &domain.Session{
			Local:        "alice",
			Partner:      "bob/evil",
			SendSequence: 7,
			State: domain.RatchetState{
				RootKey:         []byte{1, 2, 3},
				TheirRatchetPub: domain.X25519Public{9},
				Sending:         &domain.ChainState{Key: []byte{4}, Index: 2},
				IsInitiator:     true,
				AssociatedData:  []byte{5},
			},
			PendingHandshake: &domain.HandshakeHeader{SignedPreKeyID: "spk-1"},
		},
		Archived: []domain.Session{{Local: "alice", Partner: "bob/evil", SendSequence: 3}},
	}
	require.NoError(t, ss.SaveSessionRecord("alice", "bob/evil", rec))

	got, ok, err := ss.LoadSessionRecord("alice", "bob/evil")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, got.Current)
	assert.Equal(t, uint64(7), got.Current.SendSequence)
	assert.Equal(t, []byte{1, 2, 3}, got.Current.State.RootKey)
	assert.Equal(t, domain.X25519Public{9}, got.Current.State.TheirRatchetPub)
	require.NotNil(t, got.Current.State.Sending)
	assert.Equal(t, uint32(2), got.Current.State.Sending.Index)
	assert.Nil(t, got.Current.State.Receiving)
	assert.Equal(t, domain.SignedPreKeyID("spk-1"), got.Current.PendingHandshake.SignedPreKeyID)
	require.Len(t, got.Archived, 1)
	assert.Equal(t, uint64(3), got.Archived[0].SendSequence)

	_, ok, err = ss.LoadSessionRecord("bob/evil", "alice")
	require.NoError(t, err)
	assert.False(t, ok, "records are per ordered pair")
}

func TestPartnersAndProfile(t *testing.T) {
	home := t.TempDir()
	ps := store.NewPartnerFileStore(home)
	pf := store.NewProfileFileStore(home)

	_, ok, err := ps.LoadPartner("bob")
	require.NoError(t, err)
	assert.False(t, ok)

	p := domain.Partner{ID: "bob", Identity: domain.PublicIdentity{AgreementKey: domain.X25519Public{1}}, PinnedUTC: 5}
	require.NoError(t, ps.SavePartner(p))
	got, ok, err := ps.LoadPartner("bob")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, p.Identity.AgreementKey, got.Identity.AgreementKey)

	_, ok, err = pf.LoadProfile()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, pf.SaveProfile(domain.Profile{PartyID: "alice", RelayURL: "http://localhost:8080"}))
	prof, ok, err := pf.LoadProfile()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "http://localhost:8080", prof.RelayURL)
}

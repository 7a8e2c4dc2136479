package app_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duet/internal/app"
	"duet/internal/domain"
	"duet/internal/guard"
	"duet/internal/mailbox"
	"duet/internal/relay"
	"duet/internal/services/identity"
	"duet/internal/storage/memory"
)

const pass = "Correct-Horse-9"

func localRelay() *relay.Local {
	s := memory.New()
	return relay.NewLocal(s, mailbox.New(guard.New(s, guard.DefaultConfig(), nil), s, nil))
}

func newDevice(t *testing.T, rc domain.RelayClient) (*app.Wire, string) {
	t.Helper()
	cfg := app.Default()
	cfg.Client.Home = t.TempDir()
	cfg.PreKeys.OneTimePreKeys = 6
	cfg.PreKeys.LowWatermark = 3

	w, err := app.NewWireWithRelay(cfg, rc, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	phrase, err := identity.NewRecoveryPhrase()
	require.NoError(t, err)
	_, _, err = w.Identity.GenerateIdentity(pass, phrase)
	require.NoError(t, err)
	return w, phrase
}

func TestRegister_PublishesOnceAndRemembersParty(t *testing.T) {
	rc := localRelay()
	w, _ := newDevice(t, rc)
	ctx := context.Background()

	_, err := w.Party("")
	assert.ErrorIs(t, err, app.ErrNoProfile)

	keys, err := w.Register(ctx, pass, "alice")
	require.NoError(t, err)
	assert.Len(t, keys.OneTimePreKeys, 6)

	party, err := w.Party("")
	require.NoError(t, err)
	assert.Equal(t, domain.PartyID("alice"), party)

	_, err = rc.FetchPreKeyBundle(ctx, "alice")
	require.NoError(t, err)

	keys, err = w.Register(ctx, pass, "alice")
	require.NoError(t, err)
	assert.Empty(t, keys.OneTimePreKeys, "a known party does not re-offer its pool")
	n, err := rc.CountOneTimePreKeys(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestReplenish_BelowWatermark(t *testing.T) {
	rc := localRelay()
	w, _ := newDevice(t, rc)
	ctx := context.Background()

	_, err := w.Register(ctx, pass, "alice")
	require.NoError(t, err)

	added, err := w.Replenish(ctx, pass, "alice")
	require.NoError(t, err)
	assert.Zero(t, added)

	for i := 0; i < 4; i++ {
		_, err := rc.FetchPreKeyBundle(ctx, "alice")
		require.NoError(t, err)
	}
	added, err = w.Replenish(ctx, pass, "alice")
	require.NoError(t, err)
	assert.Equal(t, 4, added)

	n, err := rc.CountOneTimePreKeys(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestRotations_KeepConversationsWorking(t *testing.T) {
	rc := localRelay()
	alice, _ := newDevice(t, rc)
	bob, bobPhrase := newDevice(t, rc)
	ctx := context.Background()

	_, err := alice.Register(ctx, pass, "alice")
	require.NoError(t, err)
	_, err = bob.Register(ctx, pass, "bob")
	require.NoError(t, err)

	spk, _, err := bob.RotatePreKeys(ctx, pass, "bob")
	require.NoError(t, err)
	b, err := rc.FetchPreKeyBundle(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, spk.ID, b.SignedPreKey.ID)

	_, err = alice.Sessions.StartSession(ctx, pass, "alice", "bob", domain.StartOptions{})
	require.NoError(t, err)
	_, err = alice.Messages.SendMessage(ctx, "alice", "bob", []byte("before"))
	require.NoError(t, err)

	id, _, err := bob.RotateIdentity(ctx, pass, bobPhrase, "bob")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), id.Version)

	got, err := bob.Messages.ReceiveMessages(ctx, pass, "bob", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "before", string(got[0].Plaintext))

	_, err = alice.Sessions.StartSession(ctx, pass, "alice", "bob", domain.StartOptions{})
	assert.ErrorIs(t, err, domain.ErrHandshakeAuth)
	_, err = alice.Sessions.StartSession(ctx, pass, "alice", "bob", domain.StartOptions{Repin: true})
	require.NoError(t, err)
}

func TestRotateIdentity_NeverReoffersClaimedKeys(t *testing.T) {
	rc := localRelay()
	alice, _ := newDevice(t, rc)
	bob, bobPhrase := newDevice(t, rc)
	ctx := context.Background()

	_, err := alice.Register(ctx, pass, "alice")
	require.NoError(t, err)
	_, err = bob.Register(ctx, pass, "bob")
	require.NoError(t, err)

	sess, err := alice.Sessions.StartSession(ctx, pass, "alice", "bob", domain.StartOptions{})
	require.NoError(t, err)
	require.NotNil(t, sess.PendingHandshake)
	claimed := sess.PendingHandshake.OneTimePreKeyID
	require.NotEmpty(t, claimed)

	_, _, err = bob.RotateIdentity(ctx, pass, bobPhrase, "bob")
	require.NoError(t, err)

	n, err := rc.CountOneTimePreKeys(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 6, n, "rotation publishes a fresh batch")

	for i := 0; i < 10; i++ {
		b, err := rc.FetchPreKeyBundle(ctx, "bob")
		require.NoError(t, err)
		if b.OneTimePreKey != nil {
			assert.NotEqual(t, claimed, b.OneTimePreKey.ID, "claimed key offered again")
		}
	}

	_, err = alice.Messages.SendMessage(ctx, "alice", "bob", []byte("in flight"))
	require.NoError(t, err)
	got, err := bob.Messages.ReceiveMessages(ctx, pass, "bob", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "in flight", string(got[0].Plaintext))
}

func TestRelay_RejectsUnendorsedReplacement(t *testing.T) {
	rc := localRelay()
	bob, _ := newDevice(t, rc)
	mallory, _ := newDevice(t, rc)
	ctx := context.Background()

	_, err := bob.Register(ctx, pass, "bob")
	require.NoError(t, err)
	_, _, err = mallory.PreKeys.GenerateAndStorePreKeys(pass, 1)
	require.NoError(t, err)

	keys, err := mallory.PreKeys.PublishedKeys(pass, "bob")
	require.NoError(t, err)
	keys.ReplaceIdentity = true
	err = rc.PublishKeys(ctx, keys)
	assert.ErrorIs(t, err, domain.ErrIdentityConflict)

	b, err := rc.FetchPreKeyBundle(ctx, "bob")
	require.NoError(t, err)
	id, err := bob.Identity.LoadIdentity(pass)
	require.NoError(t, err)
	assert.True(t, b.Identity.SameKeys(id.Public()))
}

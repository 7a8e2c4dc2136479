package message_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duet/internal/domain"
	"duet/internal/services/message"
	"duet/internal/services/servicetest"
	"duet/internal/services/session"
	"duet/internal/store"
)

const pass = servicetest.Passphrase

func TestConversation_HandshakeAndReply(t *testing.T) {
	net := servicetest.NewNetwork(t)
	alice := net.Device(t, "alice", 5)
	bob := net.Device(t, "bob", 5)
	ctx := context.Background()

	alice.Start(t, bob)
	n, err := net.Relay.CountOneTimePreKeys(ctx, bob.Party)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	out := alice.Send(t, bob, "hello bob")
	assert.Equal(t, uint64(1), out.SequenceNumber)
	require.NotNil(t, out.Wire.Handshake)

	assert.Equal(t, []string{"hello bob"}, bob.Receive(t))
	bob.Send(t, alice, "hi alice")
	assert.Equal(t, []string{"hi alice"}, alice.Receive(t))

	rec := alice.Record(t, bob)
	require.NotNil(t, rec.Current)
	assert.Nil(t, rec.Current.PendingHandshake, "reply must clear the pending handshake")

	out = alice.Send(t, bob, "second")
	assert.Nil(t, out.Wire.Handshake)
	assert.Equal(t, uint64(2), out.SequenceNumber)
	assert.Equal(t, []string{"second"}, bob.Receive(t))

	queued, err := net.Relay.FetchMessages(ctx, bob.Party, 0)
	require.NoError(t, err)
	assert.Empty(t, queued, "handled messages are acked")
}

func TestEncryptForSending_NoSession(t *testing.T) {
	net := servicetest.NewNetwork(t)
	alice := net.Device(t, "alice", 1)
	bob := net.Device(t, "bob", 1)

	_, err := alice.Messages.EncryptForSending(context.Background(), []byte("x"), bob.Party, alice.Party)
	assert.ErrorIs(t, err, domain.ErrNoSession)
}

func TestDecryptReceived_OutOfOrder(t *testing.T) {
	net := servicetest.NewNetwork(t)
	alice := net.Device(t, "alice", 2)
	bob := net.Device(t, "bob", 2)
	ctx := context.Background()

	alice.Start(t, bob)
	m1 := alice.Encrypt(t, bob, "one")
	m2 := alice.Encrypt(t, bob, "two")
	m3 := alice.Encrypt(t, bob, "three")

	for _, tc := range []struct {
		msg  domain.WireMessage
		want string
	}{{m3, "three"}, {m1, "one"}, {m2, "two"}} {
		pt, err := bob.Messages.DecryptReceived(ctx, pass, tc.msg)
		require.NoError(t, err)
		assert.Equal(t, tc.want, string(pt))
	}

	_, err := bob.Messages.DecryptReceived(ctx, pass, m2)
	assert.ErrorIs(t, err, domain.ErrDecryptionFailed, "a consumed key is gone")
}

func TestDecryptReceived_TamperedHandshakeKeepsOneTimePreKey(t *testing.T) {
	net := servicetest.NewNetwork(t)
	alice := net.Device(t, "alice", 3)
	bob := net.Device(t, "bob", 3)
	ctx := context.Background()

	alice.Start(t, bob)
	msg := alice.Encrypt(t, bob, "hello")

	bad := msg
	bad.Envelope.Ciphertext = append([]byte(nil), msg.Envelope.Ciphertext...)
	bad.Envelope.Ciphertext[len(bad.Envelope.Ciphertext)-1] ^= 0x01
	_, err := bob.Messages.DecryptReceived(ctx, pass, bad)
	assert.ErrorIs(t, err, domain.ErrDecryptionFailed)

	opks, err := bob.PreKeyStore.ListOneTimePreKeyPublics()
	require.NoError(t, err)
	assert.Len(t, opks, 3, "failed handshake must not burn the one-time pre-key")
	rec := bob.Record(t, alice)
	assert.Nil(t, rec.Current)

	pt, err := bob.Messages.DecryptReceived(ctx, pass, msg)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(pt))

	opks, err = bob.PreKeyStore.ListOneTimePreKeyPublics()
	require.NoError(t, err)
	assert.Len(t, opks, 2)
}

func TestDecryptReceived_TamperedAssociatedFields(t *testing.T) {
	net := servicetest.NewNetwork(t)
	alice := net.Device(t, "alice", 1)
	bob := net.Device(t, "bob", 1)
	ctx := context.Background()

	alice.Start(t, bob)
	alice.Send(t, bob, "open")
	require.Len(t, bob.Receive(t), 1)

	msg := alice.Encrypt(t, bob, "bound")
	bad := msg
	bad.Envelope.MessageIndex++
	_, err := bob.Messages.DecryptReceived(ctx, pass, bad)
	assert.ErrorIs(t, err, domain.ErrDecryptionFailed)

	pt, err := bob.Messages.DecryptReceived(ctx, pass, msg)
	require.NoError(t, err)
	assert.Equal(t, "bound", string(pt))
}

func TestDecryptReceived_UnknownSender(t *testing.T) {
	net := servicetest.NewNetwork(t)
	alice := net.Device(t, "alice", 1)
	bob := net.Device(t, "bob", 1)
	carol := net.Device(t, "carol", 1)

	carol.Start(t, bob)
	msg := carol.Encrypt(t, bob, "hi")
	msg.SenderID = alice.Party
	msg.Handshake = nil

	_, err := bob.Messages.DecryptReceived(context.Background(), pass, msg)
	assert.ErrorIs(t, err, domain.ErrDecryptionFailed)
	assert.NotErrorIs(t, err, domain.ErrNoSession, "the missing session is not revealed")
	assert.Equal(t, domain.ErrDecryptionFailed.Error(), err.Error())
}

// replayingRelay hands every queued message out twice.
type replayingRelay struct {
	domain.RelayClient
}

func (r replayingRelay) FetchMessages(ctx context.Context, party domain.PartyID, limit int) ([]domain.WireMessage, error) {
	msgs, err := r.RelayClient.FetchMessages(ctx, party, limit)
	if err != nil {
		return nil, err
	}
	return append(msgs, msgs...), nil
}

func TestReceiveMessages_LocalGuardDropsReplays(t *testing.T) {
	net := servicetest.NewNetwork(t)
	alice := net.Device(t, "alice", 1)
	bob := net.Device(t, "bob", 1)
	ctx := context.Background()

	alice.Start(t, bob)
	alice.Send(t, bob, "once")
	alice.Send(t, bob, "twice")

	replaying := message.New(bob.Sessions.Registry(), bob.Sessions, bob.Ratchet, replayingRelay{net.Relay}, bob.Guard, nil)

	got, err := replaying.ReceiveMessages(ctx, pass, bob.Party, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "once", string(got[0].Plaintext))
	assert.Equal(t, "twice", string(got[1].Plaintext))

	queued, err := net.Relay.FetchMessages(ctx, bob.Party, 0)
	require.NoError(t, err)
	assert.Empty(t, queued)
}

func TestRehandshake_ArchivesAndCarriesSequence(t *testing.T) {
	net := servicetest.NewNetwork(t)
	alice := net.Device(t, "alice", 3)
	bob := net.Device(t, "bob", 3)
	ctx := context.Background()

	alice.Start(t, bob)
	alice.Send(t, bob, "first")
	require.Equal(t, []string{"first"}, bob.Receive(t))
	bob.Send(t, alice, "ack")
	require.Equal(t, []string{"ack"}, alice.Receive(t))

	inFlight := alice.Encrypt(t, bob, "late")
	assert.Equal(t, uint64(2), inFlight.SequenceNumber)

	alice.Start(t, bob)
	rec := alice.Record(t, bob)
	require.NotNil(t, rec.Current)
	require.Len(t, rec.Archived, 1)
	assert.NotNil(t, rec.Current.PendingHandshake)

	out := alice.Send(t, bob, "fresh")
	assert.Equal(t, uint64(3), out.SequenceNumber, "sequence continues across sessions")
	assert.Equal(t, []string{"fresh"}, bob.Receive(t))

	pt, err := bob.Messages.DecryptReceived(ctx, pass, inFlight)
	require.NoError(t, err, "archived session opens the backlog")
	assert.Equal(t, "late", string(pt))

	brec := bob.Record(t, alice)
	assert.Len(t, brec.Archived, 1)
}

func TestRehandshake_ArchiveIsBounded(t *testing.T) {
	net := servicetest.NewNetwork(t)
	alice := net.Device(t, "alice", 0)
	bob := net.Device(t, "bob", 0)

	for i := 0; i < 6; i++ {
		alice.Start(t, bob)
	}
	rec := alice.Record(t, bob)
	assert.Len(t, rec.Archived, 3)
}

func TestSimultaneousInitiation_ConvergesOnSmallerParty(t *testing.T) {
	net := servicetest.NewNetwork(t)
	alice := net.Device(t, "alice", 2)
	bob := net.Device(t, "bob", 2)

	aliceSession := alice.Start(t, bob)
	bob.Start(t, alice)
	alice.Send(t, bob, "from alice")
	bob.Send(t, alice, "from bob")

	assert.Equal(t, []string{"from bob"}, alice.Receive(t))
	assert.Equal(t, []string{"from alice"}, bob.Receive(t))

	arec := alice.Record(t, bob)
	brec := bob.Record(t, alice)
	require.NotNil(t, arec.Current)
	require.NotNil(t, brec.Current)
	assert.Equal(t, aliceSession.HandshakeKey, arec.Current.HandshakeKey)
	assert.Equal(t, aliceSession.HandshakeKey, brec.Current.HandshakeKey)

	bob.Send(t, alice, "on alice's session")
	assert.Equal(t, []string{"on alice's session"}, alice.Receive(t))
	assert.Nil(t, alice.Record(t, bob).Current.PendingHandshake)

	alice.Send(t, bob, "settled")
	assert.Equal(t, []string{"settled"}, bob.Receive(t))
}

func TestIdentityRotation_PinAndBacklog(t *testing.T) {
	net := servicetest.NewNetwork(t)
	alice := net.Device(t, "alice", 2)
	bob := net.Device(t, "bob", 2)
	ctx := context.Background()

	alice.Start(t, bob)
	pending := alice.Encrypt(t, bob, "before rotation")

	bob.RotateIdentity(t)

	pt, err := bob.Messages.DecryptReceived(ctx, pass, pending)
	require.NoError(t, err, "archived identity answers handshakes made before rotation")
	assert.Equal(t, "before rotation", string(pt))

	_, err = alice.Sessions.StartSession(ctx, pass, alice.Party, bob.Party, domain.StartOptions{})
	assert.ErrorIs(t, err, domain.ErrHandshakeAuth, "changed identity needs an explicit re-pin")

	_, err = alice.Sessions.StartSession(ctx, pass, alice.Party, bob.Party, domain.StartOptions{Repin: true})
	require.NoError(t, err)
	p, ok, err := alice.Partners.LoadPartner(bob.Party)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, p.Repinnings)

	alice.Send(t, bob, "after rotation")
	assert.Equal(t, []string{"after rotation"}, bob.Receive(t))
}

func TestReceiveMessages_WrongPassphraseKeepsMessage(t *testing.T) {
	net := servicetest.NewNetwork(t)
	alice := net.Device(t, "alice", 1)
	bob := net.Device(t, "bob", 1)
	ctx := context.Background()

	alice.Start(t, bob)
	alice.Send(t, bob, "hello bob")

	_, err := bob.Messages.ReceiveMessages(ctx, "Typo-Passphrase-9", bob.Party, 0)
	require.ErrorIs(t, err, store.ErrWrongPassphrase)

	queued, err := net.Relay.FetchMessages(ctx, bob.Party, 0)
	require.NoError(t, err)
	assert.Len(t, queued, 1)

	assert.Equal(t, []string{"hello bob"}, bob.Receive(t))
}

// failingSessions fails every save while fail is set.
type failingSessions struct {
	domain.SessionStore
	mu   sync.Mutex
	fail bool
}

func (f *failingSessions) SaveSessionRecord(local, partner domain.PartyID, rec domain.SessionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("disk full")
	}
	return f.SessionStore.SaveSessionRecord(local, partner, rec)
}

func TestReceiveMessages_StoreFailureIsRetried(t *testing.T) {
	net := servicetest.NewNetwork(t)
	alice := net.Device(t, "alice", 1)
	bob := net.Device(t, "bob", 1)
	ctx := context.Background()

	alice.Start(t, bob)
	alice.Send(t, bob, "hello bob")

	sessions := &failingSessions{SessionStore: store.NewSessionFileStore(bob.Home), fail: true}
	msgs := message.New(session.NewRegistry(sessions), bob.Sessions, bob.Ratchet, net.Relay, bob.Guard, nil)

	got, err := msgs.ReceiveMessages(ctx, pass, bob.Party, 0)
	require.Error(t, err)
	assert.Empty(t, got)

	opks, err := bob.PreKeyStore.ListOneTimePreKeyPublics()
	require.NoError(t, err)
	assert.Len(t, opks, 1, "the one-time pre-key survives a failed save")

	sessions.mu.Lock()
	sessions.fail = false
	sessions.mu.Unlock()

	got, err = msgs.ReceiveMessages(ctx, pass, bob.Party, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hello bob", string(got[0].Plaintext))

	opks, err = bob.PreKeyStore.ListOneTimePreKeyPublics()
	require.NoError(t, err)
	assert.Empty(t, opks)

	alice.Send(t, bob, "again")
	got, err = msgs.ReceiveMessages(ctx, pass, bob.Party, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "again", string(got[0].Plaintext))
}

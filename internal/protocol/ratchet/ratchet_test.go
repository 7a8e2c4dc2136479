package ratchet_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duet/internal/crypto"
	"duet/internal/domain"
	"duet/internal/protocol/ratchet"
	"duet/internal/protocol/x3dh"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

// randomIdentity builds an identity without the Argon2 stretch.
func randomIdentity(t *testing.T) domain.Identity {
	t.Helper()
	xPriv, xPub, err := crypto.GenerateX25519()
	require.NoError(t, err)
	edPriv, edPub, err := crypto.GenerateEd25519()
	require.NoError(t, err)
	return domain.Identity{
		XPub:    xPub,
		XPriv:   xPriv,
		EdPub:   edPub,
		EdPriv:  edPriv,
		Binding: crypto.SignEd25519(edPriv, crypto.BindingMessage(xPub)),
		Version: 1,
	}
}

type pair struct {
	r     *ratchet.Ratchet
	clk   *clock
	alice *domain.RatchetState
	bob   *domain.RatchetState
}

// newPair runs X3DH between alice (initiator) and bob and initialises both
// ratchet states.
func newPair(t *testing.T, cfg ratchet.Config) *pair {
	t.Helper()
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	r := ratchet.New(cfg)
	r.Now = clk.now

	alice := randomIdentity(t)
	bob := randomIdentity(t)
	spkPriv, spkPub, err := crypto.GenerateX25519()
	require.NoError(t, err)
	expires := clk.t.Add(24 * time.Hour)
	spk := domain.SignedPreKeyPair{
		ID:         "spk-1",
		Priv:       spkPriv,
		Pub:        spkPub,
		Signature:  crypto.SignEd25519(bob.EdPriv, crypto.SignedPreKeyMessage(spkPub, expires)),
		ExpiresUTC: expires.Unix(),
	}
	bundle := domain.PreKeyBundle{PartyID: "bob", Identity: bob.Public(), SignedPreKey: spk.Public()}

	ini, err := x3dh.Initiate(alice, bundle, nil, clk.t)
	require.NoError(t, err)
	res, err := x3dh.Respond(bob, spk, nil, ini.Header)
	require.NoError(t, err)

	a, err := r.InitAsInitiator(ini.RootKey, ini.AssociatedData, spk.Pub)
	require.NoError(t, err)
	b := r.InitAsResponder(res.RootKey, res.ChainKey, res.AssociatedData, spk)
	return &pair{r: r, clk: clk, alice: a, bob: b}
}

func (p *pair) aliceSends(t *testing.T, text string) domain.EncryptedMessage {
	t.Helper()
	m, err := p.r.Encrypt(p.alice, "alice", "bob", []byte(text))
	require.NoError(t, err)
	return m
}

func (p *pair) bobSends(t *testing.T, text string) domain.EncryptedMessage {
	t.Helper()
	m, err := p.r.Encrypt(p.bob, "bob", "alice", []byte(text))
	require.NoError(t, err)
	return m
}

func (p *pair) bobReads(m domain.EncryptedMessage) (string, error) {
	pt, err := p.r.Decrypt(p.bob, "alice", "bob", m)
	return string(pt), err
}

func (p *pair) aliceReads(m domain.EncryptedMessage) (string, error) {
	pt, err := p.r.Decrypt(p.alice, "bob", "alice", m)
	return string(pt), err
}

func TestRoundTrip_Alternating(t *testing.T) {
	p := newPair(t, ratchet.DefaultConfig())

	for round := 0; round < 4; round++ {
		for i := 0; i < 3; i++ {
			got, err := p.bobReads(p.aliceSends(t, "a"))
			require.NoError(t, err)
			assert.Equal(t, "a", got)
		}
		m := p.bobSends(t, "b")
		got, err := p.aliceReads(m)
		require.NoError(t, err)
		assert.Equal(t, "b", got)
	}
	assert.Empty(t, p.alice.Skipped)
	assert.Empty(t, p.bob.Skipped)
}

func TestRatchetKeyChangesPerTurn(t *testing.T) {
	p := newPair(t, ratchet.DefaultConfig())

	a1 := p.aliceSends(t, "1")
	_, err := p.bobReads(a1)
	require.NoError(t, err)
	b1 := p.bobSends(t, "2")
	_, err = p.aliceReads(b1)
	require.NoError(t, err)
	a2 := p.aliceSends(t, "3")

	assert.NotEqual(t, a1.RatchetKey, a2.RatchetKey)
	assert.NotEqual(t, a1.RatchetKey, b1.RatchetKey)
	assert.Equal(t, uint32(1), a2.PreviousChainLength)
	assert.Equal(t, uint32(0), a2.MessageIndex)
}

func TestOutOfOrder_312(t *testing.T) {
	p := newPair(t, ratchet.DefaultConfig())
	m1 := p.aliceSends(t, "one")
	m2 := p.aliceSends(t, "two")
	m3 := p.aliceSends(t, "three")

	got, err := p.bobReads(m3)
	require.NoError(t, err)
	assert.Equal(t, "three", got)
	assert.Len(t, p.bob.Skipped, 2)

	got, err = p.bobReads(m1)
	require.NoError(t, err)
	assert.Equal(t, "one", got)

	got, err = p.bobReads(m2)
	require.NoError(t, err)
	assert.Equal(t, "two", got)
	assert.Empty(t, p.bob.Skipped)
}

func TestOutOfOrder_AcrossRatchetStep(t *testing.T) {
	p := newPair(t, ratchet.DefaultConfig())
	a1 := p.aliceSends(t, "a1")
	a2 := p.aliceSends(t, "a2")
	_, err := p.bobReads(a1)
	require.NoError(t, err)

	_, err = p.aliceReads(p.bobSends(t, "b1"))
	require.NoError(t, err)
	a3 := p.aliceSends(t, "a3")

	// a3 announces a new ratchet key with pn=2; a2 is cached from the old chain.
	got, err := p.bobReads(a3)
	require.NoError(t, err)
	assert.Equal(t, "a3", got)
	got, err = p.bobReads(a2)
	require.NoError(t, err)
	assert.Equal(t, "a2", got)
}

// chainStep mirrors the chain KDF: (next chain key, message key).
func chainStep(t *testing.T, ck []byte) ([]byte, []byte) {
	t.Helper()
	okm, err := crypto.HKDF(ck, nil, crypto.LabelRatchetChain, 64)
	require.NoError(t, err)
	return okm[:32], okm[32:]
}

// secrets lists every key a ratchet state holds.
func secrets(st *domain.RatchetState) [][]byte {
	out := [][]byte{st.RootKey, st.OurRatchetPriv[:]}
	for _, c := range []*domain.ChainState{st.Sending, st.Receiving} {
		if c != nil {
			out = append(out, c.Key)
		}
	}
	for _, k := range st.Skipped {
		out = append(out, k.Key)
	}
	return out
}

func TestForwardSecrecy_ConsumedKeyCannotBeRederived(t *testing.T) {
	p := newPair(t, ratchet.DefaultConfig())
	require.NotNil(t, p.alice.Sending)
	k0 := append([]byte(nil), p.alice.Sending.Key...)
	_, mk0 := chainStep(t, k0)

	m0 := p.aliceSends(t, "zero")
	m1 := p.aliceSends(t, "one")

	_, err := p.bobReads(m0)
	require.NoError(t, err)
	_, err = p.bobReads(m1)
	require.NoError(t, err)

	snap := p.bob.Clone()
	for _, k := range secrets(snap) {
		assert.NotEqual(t, k0, k, "chain key of the first message is gone")
		assert.NotEqual(t, mk0, k, "message key of the first message is gone")
	}
	require.NotNil(t, snap.Receiving)
	ck := snap.Receiving.Key
	for i := 0; i < 8; i++ {
		var mk []byte
		ck, mk = chainStep(t, ck)
		assert.NotEqual(t, mk0, mk, "later chain keys only derive later message keys")
	}
	_, err = p.r.Decrypt(snap, "alice", "bob", m0)
	assert.ErrorIs(t, err, domain.ErrDecryptionFailed)

	_, err = p.bobReads(m0)
	assert.ErrorIs(t, err, domain.ErrDecryptionFailed)
	_, err = p.bobReads(m1)
	assert.ErrorIs(t, err, domain.ErrDecryptionFailed)
}

func TestTamper_StateUnchanged(t *testing.T) {
	p := newPair(t, ratchet.DefaultConfig())
	m := p.aliceSends(t, "hello")
	before := p.bob.Clone()

	bad := m
	bad.Ciphertext = append([]byte(nil), m.Ciphertext...)
	bad.Ciphertext[len(bad.Ciphertext)-1] ^= 1
	_, err := p.bobReads(bad)
	assert.ErrorIs(t, err, domain.ErrDecryptionFailed)
	assert.Equal(t, before, p.bob)

	wrongIndex := m
	wrongIndex.MessageIndex = 1
	_, err = p.bobReads(wrongIndex)
	assert.ErrorIs(t, err, domain.ErrDecryptionFailed)
	assert.Equal(t, before, p.bob)

	// Bound to the sender identity.
	_, err = p.r.Decrypt(p.bob, "mallory", "bob", m)
	assert.ErrorIs(t, err, domain.ErrDecryptionFailed)

	got, err := p.bobReads(m)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestSkipBound_HugeIndexRejectedBeforeDeriving(t *testing.T) {
	cfg := ratchet.Config{MaxSkip: 10, MaxSkippedKeys: 20, SkippedKeyTTL: time.Hour}
	p := newPair(t, cfg)
	m := p.aliceSends(t, "x")
	before := p.bob.Clone()

	forged := m
	forged.MessageIndex = 11
	_, err := p.bobReads(forged)
	assert.ErrorIs(t, err, domain.ErrSkippedKeyLimit)
	assert.ErrorIs(t, err, domain.ErrDecryptionFailed)
	assert.Equal(t, before, p.bob)
}

func TestSkipBound_HugePreviousChainLength(t *testing.T) {
	cfg := ratchet.Config{MaxSkip: 10, MaxSkippedKeys: 20, SkippedKeyTTL: time.Hour}
	p := newPair(t, cfg)
	_, err := p.bobReads(p.aliceSends(t, "a1"))
	require.NoError(t, err)
	_, err = p.aliceReads(p.bobSends(t, "b1"))
	require.NoError(t, err)
	next := p.aliceSends(t, "a2")
	before := p.bob.Clone()

	next.PreviousChainLength = 1 << 31
	_, err = p.bobReads(next)
	assert.ErrorIs(t, err, domain.ErrSkippedKeyLimit)
	assert.Equal(t, before, p.bob)
	assert.Empty(t, p.bob.Skipped)
}

func TestSkipBound_TotalCache(t *testing.T) {
	cfg := ratchet.Config{MaxSkip: 5, MaxSkippedKeys: 6, SkippedKeyTTL: time.Hour}
	p := newPair(t, cfg)
	var msgs []domain.EncryptedMessage
	for i := 0; i < 12; i++ {
		msgs = append(msgs, p.aliceSends(t, "m"))
	}

	_, err := p.bobReads(msgs[4]) // caches 0..3
	require.NoError(t, err)
	assert.Len(t, p.bob.Skipped, 4)

	_, err = p.bobReads(msgs[8]) // would cache 5..7, total 7 > 6
	assert.ErrorIs(t, err, domain.ErrSkippedKeyLimit)
	assert.Len(t, p.bob.Skipped, 4)

	_, err = p.bobReads(msgs[6]) // caches 5, total 5
	require.NoError(t, err)
}

func TestSkippedKeyTTL_PurgedOnDecrypt(t *testing.T) {
	cfg := ratchet.Config{MaxSkip: 10, MaxSkippedKeys: 20, SkippedKeyTTL: time.Hour}
	p := newPair(t, cfg)
	m0 := p.aliceSends(t, "zero")
	m1 := p.aliceSends(t, "one")
	m2 := p.aliceSends(t, "two")

	_, err := p.bobReads(m1)
	require.NoError(t, err)
	require.Len(t, p.bob.Skipped, 1)

	p.clk.t = p.clk.t.Add(2 * time.Hour)
	_, err = p.bobReads(m2)
	require.NoError(t, err)
	assert.Empty(t, p.bob.Skipped)

	_, err = p.bobReads(m0)
	assert.ErrorIs(t, err, domain.ErrDecryptionFailed)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, ratchet.DefaultConfig().Validate())
	assert.Error(t, ratchet.Config{MaxSkip: 0, MaxSkippedKeys: 10}.Validate())
	assert.Error(t, ratchet.Config{MaxSkip: 10, MaxSkippedKeys: 5}.Validate())
}

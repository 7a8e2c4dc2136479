// Package storetest holds the behaviour every store backend must share.
// Backend test files call the Run functions with a constructor for a fresh,
// empty store.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duet/internal/crypto"
	"duet/internal/domain"
)

// Options describe backend quirks.
type Options struct {
	// NativeExpiry is set for backends that expire records themselves and
	// report nothing from Purge.
	NativeExpiry bool
	// Shared is set when other tests may leave records in the same store,
	// so Purge counts are only lower bounds.
	Shared bool
}

// Party builds signed keys for a new random party with n one-time pre-keys.
func Party(t *testing.T, n int) domain.PublishedKeys {
	t.Helper()
	keys, _ := PartyIdentity(t, n)
	return keys
}

// PartyIdentity is Party that also returns the identity behind the keys,
// for tests that endorse a replacement.
func PartyIdentity(t *testing.T, n int) (domain.PublishedKeys, domain.Identity) {
	t.Helper()
	xPriv, xPub, err := crypto.GenerateX25519()
	require.NoError(t, err)
	edPriv, edPub, err := crypto.GenerateEd25519()
	require.NoError(t, err)
	_, spkPub, err := crypto.GenerateX25519()
	require.NoError(t, err)

	expires := time.Now().Add(24 * time.Hour).Truncate(time.Second)
	keys := domain.PublishedKeys{
		PartyID: domain.PartyID("party-" + uuid.NewString()),
		Identity: domain.PublicIdentity{
			AgreementKey:     xPub,
			SigningKey:       edPub,
			BindingSignature: crypto.SignEd25519(edPriv, crypto.BindingMessage(xPub)),
		},
		SignedPreKey: domain.SignedPreKeyPublic{
			ID:         "spk-1",
			Pub:        spkPub,
			Signature:  crypto.SignEd25519(edPriv, crypto.SignedPreKeyMessage(spkPub, expires)),
			ExpiresUTC: expires.Unix(),
		},
	}
	for i := 0; i < n; i++ {
		_, pub, err := crypto.GenerateX25519()
		require.NoError(t, err)
		keys.OneTimePreKeys = append(keys.OneTimePreKeys, domain.OneTimePreKeyPublic{
			ID:  domain.OneTimePreKeyID(fmt.Sprintf("opk-%03d", i)),
			Pub: pub,
		})
	}
	id := domain.Identity{
		XPub:    xPub,
		XPriv:   xPriv,
		EdPub:   edPub,
		EdPriv:  edPriv,
		Binding: keys.Identity.BindingSignature,
		Version: 1,
	}
	return keys, id
}

// Admission builds an admission for one message of the conversation a>b.
func Admission(a, b domain.PartyID, id domain.MessageID, seq uint64, now time.Time) domain.Admission {
	req := domain.ValidationRequest{
		MessageID:      id,
		Sender:         a,
		Recipient:      b,
		SequenceNumber: seq,
		Timestamp:      now,
	}
	return domain.Admission{
		Request:        req,
		NonceExpiresAt: now.Add(time.Hour),
		Token: domain.DeliveryToken{
			Token:          "tok-" + uuid.NewString(),
			MessageID:      id,
			Sender:         a,
			Recipient:      b,
			SequenceNumber: seq,
			ExpiresAt:      now.Add(time.Minute),
		},
	}
}

func accept(domain.ConversationState) error { return nil }

// replayCheck rejects seen nonces and non-increasing sequences.
func replayCheck(seq uint64) func(domain.ConversationState) error {
	return func(st domain.ConversationState) error {
		if st.NonceSeen {
			return domain.ErrReplayRejected
		}
		if st.HasSequence && seq <= st.LastSequence {
			return domain.ErrSequenceRejected
		}
		return nil
	}
}

func newParties() (domain.PartyID, domain.PartyID) {
	return domain.PartyID("a-" + uuid.NewString()), domain.PartyID("b-" + uuid.NewString())
}

// RunGuardStore checks a domain.GuardStore implementation.
func RunGuardStore(t *testing.T, newStore func(t *testing.T) domain.GuardStore, opts Options) {
	ctx := context.Background()

	t.Run("AdmitRecordsState", func(t *testing.T) {
		s := newStore(t)
		a, b := newParties()
		now := time.Now()

		var first domain.ConversationState
		require.NoError(t, s.Admit(ctx, Admission(a, b, "m1", 1, now), func(st domain.ConversationState) error {
			first = st
			return nil
		}))
		assert.False(t, first.HasSequence)
		assert.False(t, first.NonceSeen)

		var second domain.ConversationState
		err := s.Admit(ctx, Admission(a, b, "m1", 2, now), func(st domain.ConversationState) error {
			second = st
			return domain.ErrReplayRejected
		})
		require.ErrorIs(t, err, domain.ErrReplayRejected)
		assert.True(t, second.HasSequence)
		assert.Equal(t, uint64(1), second.LastSequence)
		assert.True(t, second.NonceSeen)
	})

	t.Run("RejectedCheckWritesNothing", func(t *testing.T) {
		s := newStore(t)
		a, b := newParties()
		now := time.Now()

		adm := Admission(a, b, "m1", 7, now)
		err := s.Admit(ctx, adm, func(domain.ConversationState) error { return domain.ErrSequenceRejected })
		require.ErrorIs(t, err, domain.ErrSequenceRejected)

		require.NoError(t, s.Admit(ctx, Admission(a, b, "m1", 1, now), func(st domain.ConversationState) error {
			assert.False(t, st.HasSequence)
			assert.False(t, st.NonceSeen)
			return nil
		}))
		_, err = s.RedeemToken(ctx, adm.Token.Token, func(domain.DeliveryToken) error { return nil })
		assert.ErrorIs(t, err, domain.ErrTokenRejected)
	})

	t.Run("ConversationsAreIndependent", func(t *testing.T) {
		s := newStore(t)
		a, b := newParties()
		now := time.Now()

		require.NoError(t, s.Admit(ctx, Admission(a, b, "m1", 5, now), accept))
		require.NoError(t, s.Admit(ctx, Admission(b, a, "m1", 1, now), func(st domain.ConversationState) error {
			assert.False(t, st.HasSequence)
			assert.False(t, st.NonceSeen)
			return nil
		}))
	})

	t.Run("RedeemTokenOnce", func(t *testing.T) {
		s := newStore(t)
		a, b := newParties()
		adm := Admission(a, b, "m1", 1, time.Now())
		require.NoError(t, s.Admit(ctx, adm, accept))

		_, err := s.RedeemToken(ctx, adm.Token.Token, func(domain.DeliveryToken) error { return domain.ErrTokenRejected })
		require.ErrorIs(t, err, domain.ErrTokenRejected)

		got, err := s.RedeemToken(ctx, adm.Token.Token, func(domain.DeliveryToken) error { return nil })
		require.NoError(t, err)
		assert.Equal(t, adm.Token.MessageID, got.MessageID)
		assert.Equal(t, adm.Token.SequenceNumber, got.SequenceNumber)
		assert.True(t, adm.Token.ExpiresAt.Equal(got.ExpiresAt))

		_, err = s.RedeemToken(ctx, adm.Token.Token, func(domain.DeliveryToken) error { return nil })
		assert.ErrorIs(t, err, domain.ErrTokenRejected)
	})

	t.Run("ConcurrentReplayHasOneWinner", func(t *testing.T) {
		s := newStore(t)
		a, b := newParties()
		now := time.Now()

		const n = 16
		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = s.Admit(ctx, Admission(a, b, "same", 1, now), replayCheck(1))
			}(i)
		}
		wg.Wait()

		ok := 0
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrReplayRejected),
				errors.Is(err, domain.ErrSequenceRejected),
				errors.Is(err, domain.ErrStoreContention):
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, ok)
	})

	if opts.NativeExpiry {
		return
	}

	t.Run("PurgeDropsExpired", func(t *testing.T) {
		s := newStore(t)
		a, b := newParties()
		now := time.Now()
		adm := Admission(a, b, "m1", 1, now)
		require.NoError(t, s.Admit(ctx, adm, accept))

		n, err := s.Purge(ctx, now)
		require.NoError(t, err)
		if !opts.Shared {
			assert.Zero(t, n)
		}

		n, err = s.Purge(ctx, now.Add(2*time.Hour))
		require.NoError(t, err)
		if opts.Shared {
			assert.GreaterOrEqual(t, n, 2)
		} else {
			assert.Equal(t, 2, n)
		}

		require.NoError(t, s.Admit(ctx, Admission(a, b, "m1", 2, now), func(st domain.ConversationState) error {
			assert.False(t, st.NonceSeen)
			assert.True(t, st.HasSequence, "sequences survive a purge")
			return nil
		}))
		_, err = s.RedeemToken(ctx, adm.Token.Token, func(domain.DeliveryToken) error { return nil })
		assert.ErrorIs(t, err, domain.ErrTokenRejected)
	})
}

// RunDirectory checks a domain.PreKeyDirectory implementation.
func RunDirectory(t *testing.T, newDir func(t *testing.T) domain.PreKeyDirectory) {
	ctx := context.Background()

	t.Run("FetchClaimsOneTimePreKeys", func(t *testing.T) {
		d := newDir(t)
		keys := Party(t, 2)
		require.NoError(t, d.PublishIdentity(ctx, keys))

		n, err := d.CountOneTimePreKeys(ctx, keys.PartyID)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		seen := map[domain.OneTimePreKeyID]bool{}
		for i := 0; i < 2; i++ {
			b, err := d.FetchBundle(ctx, keys.PartyID)
			require.NoError(t, err)
			require.NotNil(t, b.OneTimePreKey)
			assert.True(t, b.Identity.SameKeys(keys.Identity))
			assert.Equal(t, keys.SignedPreKey.Pub, b.SignedPreKey.Pub)
			assert.Equal(t, 1-i, b.OneTimePreKeysRemaining)
			seen[b.OneTimePreKey.ID] = true
		}
		assert.Len(t, seen, 2)

		b, err := d.FetchBundle(ctx, keys.PartyID)
		require.NoError(t, err)
		assert.Nil(t, b.OneTimePreKey)
		assert.Zero(t, b.OneTimePreKeysRemaining)
	})

	t.Run("UnknownParty", func(t *testing.T) {
		d := newDir(t)
		_, err := d.FetchBundle(ctx, "nobody-"+domain.PartyID(uuid.NewString()))
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = d.CountOneTimePreKeys(ctx, "nobody-"+domain.PartyID(uuid.NewString()))
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("RepublishAddsKeys", func(t *testing.T) {
		d := newDir(t)
		keys := Party(t, 1)
		require.NoError(t, d.PublishIdentity(ctx, keys))

		more := keys
		_, pub, err := crypto.GenerateX25519()
		require.NoError(t, err)
		more.OneTimePreKeys = []domain.OneTimePreKeyPublic{{ID: "opk-extra", Pub: pub}}
		require.NoError(t, d.PublishIdentity(ctx, more))

		n, err := d.CountOneTimePreKeys(ctx, keys.PartyID)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("IdentityConflict", func(t *testing.T) {
		d := newDir(t)
		keys, id := PartyIdentity(t, 3)
		require.NoError(t, d.PublishIdentity(ctx, keys))

		other, otherID := PartyIdentity(t, 1)
		other.PartyID = keys.PartyID
		err := d.PublishIdentity(ctx, other)
		require.ErrorIs(t, err, domain.ErrIdentityConflict)

		other.ReplaceIdentity = true
		err = d.PublishIdentity(ctx, other)
		require.ErrorIs(t, err, domain.ErrIdentityConflict, "replacement needs an endorsement")

		other.Endorsements = []domain.Endorsement{crypto.Endorse(otherID, other.Identity)}
		err = d.PublishIdentity(ctx, other)
		require.ErrorIs(t, err, domain.ErrIdentityConflict, "self-endorsement does not count")

		forged := crypto.Endorse(otherID, other.Identity)
		forged.Signer = keys.Identity.SigningKey
		other.Endorsements = []domain.Endorsement{forged}
		err = d.PublishIdentity(ctx, other)
		require.ErrorIs(t, err, domain.ErrIdentityConflict, "signer must have signed")

		b, err := d.FetchBundle(ctx, keys.PartyID)
		require.NoError(t, err)
		assert.True(t, b.Identity.SameKeys(keys.Identity), "rejected replacements leave the identity alone")

		other.Endorsements = []domain.Endorsement{crypto.Endorse(id, other.Identity)}
		require.NoError(t, d.PublishIdentity(ctx, other))

		b, err = d.FetchBundle(ctx, keys.PartyID)
		require.NoError(t, err)
		assert.True(t, b.Identity.SameKeys(other.Identity))
		assert.Zero(t, b.OneTimePreKeysRemaining, "old pool is dropped")
	})

	t.Run("RejectsBadSignatures", func(t *testing.T) {
		d := newDir(t)
		keys := Party(t, 0)
		keys.SignedPreKey.Signature[0] ^= 1
		err := d.PublishIdentity(ctx, keys)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)

		keys = Party(t, 0)
		keys.Identity.BindingSignature[0] ^= 1
		err = d.PublishIdentity(ctx, keys)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("ConcurrentClaimsAreDistinct", func(t *testing.T) {
		d := newDir(t)
		keys := Party(t, 10)
		require.NoError(t, d.PublishIdentity(ctx, keys))

		const workers = 20
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			claimed = map[domain.OneTimePreKeyID]int{}
			empty   int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				var b domain.PreKeyBundle
				var err error
				for attempt := 0; attempt < 5; attempt++ {
					b, err = d.FetchBundle(ctx, keys.PartyID)
					if !errors.Is(err, domain.ErrStoreContention) {
						break
					}
				}
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				if b.OneTimePreKey == nil {
					empty++
					return
				}
				claimed[b.OneTimePreKey.ID]++
			}()
		}
		wg.Wait()

		assert.Len(t, claimed, 10)
		for id, n := range claimed {
			assert.Equal(t, 1, n, "key %s claimed more than once", id)
		}
		assert.Equal(t, workers-10, empty)
	})
}

// RunQueue checks a domain.MessageQueue implementation.
func RunQueue(t *testing.T, newQueue func(t *testing.T) domain.MessageQueue) {
	ctx := context.Background()

	t.Run("FetchInOrderAndAck", func(t *testing.T) {
		q := newQueue(t)
		a, b := newParties()
		for i := 1; i <= 3; i++ {
			require.NoError(t, q.Enqueue(ctx, domain.WireMessage{
				Version:        domain.WireVersion,
				MessageID:      domain.MessageID(fmt.Sprintf("m%d", i)),
				SenderID:       a,
				RecipientID:    b,
				SequenceNumber: uint64(i),
				Timestamp:      time.Now().UnixMilli(),
				Envelope:       domain.EncryptedMessage{MessageIndex: uint32(i), Ciphertext: []byte{byte(i)}},
			}))
		}

		got, err := q.Fetch(ctx, b, 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, domain.MessageID("m1"), got[0].Message.MessageID)
		assert.Equal(t, domain.MessageID("m2"), got[1].Message.MessageID)
		assert.Equal(t, []byte{2}, got[1].Message.Envelope.Ciphertext)

		n, err := q.Ack(ctx, b, []domain.MessageID{"m1", "unknown"})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err = q.Fetch(ctx, b, 0)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, domain.MessageID("m2"), got[0].Message.MessageID)
		assert.Equal(t, domain.MessageID("m3"), got[1].Message.MessageID)

		empty, err := q.Fetch(ctx, a, 0)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

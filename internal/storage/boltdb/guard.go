package boltdb

import (
	"context"
	"time"

	bolt "go.etcd.io/bbolt"

	"duet/internal/domain"
	"duet/internal/storage"
)

// Admit reads the conversation state, runs check and records the admission
// in one read-write transaction.
func (d *DB) Admit(ctx context.Context, a domain.Admission, check func(domain.ConversationState) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	conv := a.Request.Conversation()
	convKey := []byte(conv.String())
	nonceKey := []byte(storage.NonceKey(conv, a.Request.MessageID))

	tokenVal, err := storage.Marshal(a.Token)
	if err != nil {
		return err
	}

	return d.db.Update(func(tx *bolt.Tx) error {
		seqs := tx.Bucket([]byte(sequencesBucket))
		nonces := tx.Bucket([]byte(noncesBucket))

		st := domain.ConversationState{Key: conv}
		if v := seqs.Get(convKey); v != nil {
			st.LastSequence = getUint64(v)
			st.HasSequence = true
		}
		st.NonceSeen = nonces.Get(nonceKey) != nil

		if err := check(st); err != nil {
			return err
		}

		if err := seqs.Put(convKey, putUint64(a.Request.SequenceNumber)); err != nil {
			return err
		}
		if err := nonces.Put(nonceKey, putUint64(uint64(a.NonceExpiresAt.UnixNano()))); err != nil {
			return err
		}
		return tx.Bucket([]byte(tokensBucket)).Put([]byte(a.Token.Token), tokenVal)
	})
}

// RedeemToken deletes token if check accepts it.
func (d *DB) RedeemToken(ctx context.Context, token string, check func(domain.DeliveryToken) error) (domain.DeliveryToken, error) {
	if err := ctx.Err(); err != nil {
		return domain.DeliveryToken{}, err
	}
	var out domain.DeliveryToken
	err := d.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(tokensBucket))
		v := bkt.Get([]byte(token))
		if v == nil {
			return domain.ErrTokenRejected
		}
		if err := storage.Unmarshal(v, &out); err != nil {
			return err
		}
		if err := check(out); err != nil {
			return err
		}
		return bkt.Delete([]byte(token))
	})
	if err != nil {
		return domain.DeliveryToken{}, err
	}
	return out, nil
}

// Purge drops nonces and tokens that expired before now.
func (d *DB) Purge(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	purged := 0
	err := d.db.Update(func(tx *bolt.Tx) error {
		nonces := tx.Bucket([]byte(noncesBucket))
		var stale [][]byte
		if err := nonces.ForEach(func(k, v []byte) error {
			if int64(getUint64(v)) < now.UnixNano() {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}

		tokens := tx.Bucket([]byte(tokensBucket))
		var staleTokens [][]byte
		if err := tokens.ForEach(func(k, v []byte) error {
			var t domain.DeliveryToken
			if err := storage.Unmarshal(v, &t); err != nil || t.ExpiresAt.Before(now) {
				staleTokens = append(staleTokens, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}

		for _, k := range stale {
			if err := nonces.Delete(k); err != nil {
				return err
			}
		}
		for _, k := range staleTokens {
			if err := tokens.Delete(k); err != nil {
				return err
			}
		}
		purged = len(stale) + len(staleTokens)
		return nil
	})
	return purged, err
}

var _ domain.GuardStore = (*DB)(nil)

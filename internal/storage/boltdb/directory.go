package boltdb

import (
	"context"

	bolt "go.etcd.io/bbolt"

	"duet/internal/domain"
	"duet/internal/storage"
)

// PublishIdentity stores the identity record and adds the one-time pre-keys
// to the party's pool. A changed identity (with ReplaceIdentity) resets the
// pool.
func (d *DB) PublishIdentity(ctx context.Context, keys domain.PublishedKeys) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.ValidatePublished(keys, d.now()); err != nil {
		return err
	}
	party := []byte(keys.PartyID)

	return d.db.Update(func(tx *bolt.Tx) error {
		ids := tx.Bucket([]byte(identitiesBucket))
		pools := tx.Bucket([]byte(prekeysBucket))

		var existing *storage.IdentityRecord
		if v := ids.Get(party); v != nil {
			existing = &storage.IdentityRecord{}
			if err := storage.Unmarshal(v, existing); err != nil {
				return err
			}
		}
		if err := storage.CheckReplace(existing, keys); err != nil {
			return err
		}
		if storage.IdentityChanged(existing, keys) && pools.Bucket(party) != nil {
			if err := pools.DeleteBucket(party); err != nil {
				return err
			}
		}

		rec, err := storage.Marshal(storage.IdentityRecord{
			Identity:     keys.Identity,
			SignedPreKey: keys.SignedPreKey,
			UpdatedUTC:   d.now().Unix(),
		})
		if err != nil {
			return err
		}
		if err := ids.Put(party, rec); err != nil {
			return err
		}

		pool, err := pools.CreateBucketIfNotExists(party)
		if err != nil {
			return err
		}
		for _, k := range keys.OneTimePreKeys {
			if err := pool.Put([]byte(k.ID), k.Pub.Slice()); err != nil {
				return err
			}
		}
		return nil
	})
}

// FetchBundle returns the party's bundle, claiming and deleting the first
// one-time pre-key of the pool in the same transaction.
func (d *DB) FetchBundle(ctx context.Context, party domain.PartyID) (domain.PreKeyBundle, error) {
	if err := ctx.Err(); err != nil {
		return domain.PreKeyBundle{}, err
	}
	var b domain.PreKeyBundle
	err := d.db.Update(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(identitiesBucket)).Get([]byte(party))
		if v == nil {
			return domain.ErrNotFound
		}
		var rec storage.IdentityRecord
		if err := storage.Unmarshal(v, &rec); err != nil {
			return err
		}
		b = domain.PreKeyBundle{
			PartyID:      party,
			Identity:     rec.Identity,
			SignedPreKey: rec.SignedPreKey,
		}

		pool := tx.Bucket([]byte(prekeysBucket)).Bucket([]byte(party))
		if pool == nil {
			return nil
		}
		if k, pub := pool.Cursor().First(); k != nil {
			key, err := domain.ParseX25519Public(pub)
			if err != nil {
				return err
			}
			b.OneTimePreKey = &domain.OneTimePreKeyPublic{ID: domain.OneTimePreKeyID(k), Pub: key}
			if err := pool.Delete(k); err != nil {
				return err
			}
		}
		b.OneTimePreKeysRemaining = countKeys(pool)
		return nil
	})
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	return b, nil
}

// CountOneTimePreKeys returns the size of the party's pool.
func (d *DB) CountOneTimePreKeys(ctx context.Context, party domain.PartyID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := 0
	err := d.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(identitiesBucket)).Get([]byte(party)) == nil {
			return domain.ErrNotFound
		}
		if pool := tx.Bucket([]byte(prekeysBucket)).Bucket([]byte(party)); pool != nil {
			n = countKeys(pool)
		}
		return nil
	})
	return n, err
}

func countKeys(b *bolt.Bucket) int {
	n := 0
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n
}

var _ domain.PreKeyDirectory = (*DB)(nil)

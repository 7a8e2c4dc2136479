package redisdb

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"duet/internal/domain"
	"duet/internal/storage"
)

// PublishIdentity stores the identity record and adds the one-time pre-keys
// to the party's set. The identity comparison and the writes share one
// watched transaction.
func (s *Store) PublishIdentity(ctx context.Context, keys domain.PublishedKeys) error {
	if err := storage.ValidatePublished(keys, s.now()); err != nil {
		return err
	}
	idKey := s.key("identity", keys.PartyID.String())
	poolKey := s.key("opk", keys.PartyID.String())

	rec, err := storage.Marshal(storage.IdentityRecord{
		Identity:     keys.Identity,
		SignedPreKey: keys.SignedPreKey,
		UpdatedUTC:   s.now().Unix(),
	})
	if err != nil {
		return err
	}
	members := make([]any, 0, len(keys.OneTimePreKeys))
	for _, k := range keys.OneTimePreKeys {
		m, err := storage.Marshal(k)
		if err != nil {
			return err
		}
		members = append(members, m)
	}

	txf := func(tx *redis.Tx) error {
		existing, err := s.loadIdentity(ctx, tx, idKey)
		if err != nil {
			return err
		}
		if err := storage.CheckReplace(existing, keys); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if storage.IdentityChanged(existing, keys) {
				pipe.Del(ctx, poolKey)
			}
			pipe.Set(ctx, idKey, rec, 0)
			if len(members) > 0 {
				pipe.SAdd(ctx, poolKey, members...)
			}
			return nil
		})
		return err
	}
	return s.retry(ctx, func() error { return s.client.Watch(ctx, txf, idKey, poolKey) })
}

// FetchBundle returns the party's bundle. SPOP claims and removes one
// one-time pre-key atomically, so racing callers never share a key.
func (s *Store) FetchBundle(ctx context.Context, party domain.PartyID) (domain.PreKeyBundle, error) {
	rec, err := s.loadIdentity(ctx, s.client, s.key("identity", party.String()))
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	if rec == nil {
		return domain.PreKeyBundle{}, domain.ErrNotFound
	}
	b := domain.PreKeyBundle{
		PartyID:      party,
		Identity:     rec.Identity,
		SignedPreKey: rec.SignedPreKey,
	}

	poolKey := s.key("opk", party.String())
	v, err := s.client.SPop(ctx, poolKey).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return domain.PreKeyBundle{}, err
	default:
		var opk domain.OneTimePreKeyPublic
		if err := storage.Unmarshal(v, &opk); err != nil {
			return domain.PreKeyBundle{}, err
		}
		b.OneTimePreKey = &opk
	}

	n, err := s.client.SCard(ctx, poolKey).Result()
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	b.OneTimePreKeysRemaining = int(n)
	return b, nil
}

// CountOneTimePreKeys returns the size of the party's pool.
func (s *Store) CountOneTimePreKeys(ctx context.Context, party domain.PartyID) (int, error) {
	n, err := s.client.Exists(ctx, s.key("identity", party.String())).Result()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, domain.ErrNotFound
	}
	c, err := s.client.SCard(ctx, s.key("opk", party.String())).Result()
	return int(c), err
}

func (s *Store) loadIdentity(ctx context.Context, c redis.Cmdable, key string) (*storage.IdentityRecord, error) {
	v, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec storage.IdentityRecord
	if err := storage.Unmarshal(v, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

var _ domain.PreKeyDirectory = (*Store)(nil)

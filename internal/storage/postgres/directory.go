package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"duet/internal/domain"
	"duet/internal/storage"
)

// PublishIdentity upserts the identity record and inserts the one-time
// pre-keys. A replaced identity drops the old pool first.
func (s *Store) PublishIdentity(ctx context.Context, keys domain.PublishedKeys) error {
	if err := storage.ValidatePublished(keys, s.now()); err != nil {
		return err
	}
	rec, err := storage.Marshal(storage.IdentityRecord{
		Identity:     keys.Identity,
		SignedPreKey: keys.SignedPreKey,
		UpdatedUTC:   s.now().Unix(),
	})
	if err != nil {
		return err
	}
	party := keys.PartyID.String()

	return s.inTx(ctx, func(tx pgx.Tx) error {
		var raw []byte
		var existing *storage.IdentityRecord
		err := tx.QueryRow(ctx,
			`SELECT record FROM duet_identities WHERE party_id = $1 FOR UPDATE`, party).Scan(&raw)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return err
		default:
			existing = &storage.IdentityRecord{}
			if err := storage.Unmarshal(raw, existing); err != nil {
				return err
			}
		}
		if err := storage.CheckReplace(existing, keys); err != nil {
			return err
		}
		if storage.IdentityChanged(existing, keys) {
			if _, err := tx.Exec(ctx, `DELETE FROM duet_one_time_prekeys WHERE party_id = $1`, party); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO duet_identities (party_id, record, updated_at) VALUES ($1, $2, now())
			ON CONFLICT (party_id) DO UPDATE SET record = EXCLUDED.record, updated_at = now()`,
			party, rec); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, k := range keys.OneTimePreKeys {
			batch.Queue(`
				INSERT INTO duet_one_time_prekeys (party_id, key_id, public_key) VALUES ($1, $2, $3)
				ON CONFLICT (party_id, key_id) DO NOTHING`,
				party, k.ID.String(), k.Pub.Slice())
		}
		if batch.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

// FetchBundle returns the party's bundle. The claim deletes one row picked
// with SKIP LOCKED, so concurrent claims never return the same key.
func (s *Store) FetchBundle(ctx context.Context, party domain.PartyID) (domain.PreKeyBundle, error) {
	var b domain.PreKeyBundle
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var raw []byte
		err := tx.QueryRow(ctx,
			`SELECT record FROM duet_identities WHERE party_id = $1`, party.String()).Scan(&raw)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		var rec storage.IdentityRecord
		if err := storage.Unmarshal(raw, &rec); err != nil {
			return err
		}
		b = domain.PreKeyBundle{
			PartyID:      party,
			Identity:     rec.Identity,
			SignedPreKey: rec.SignedPreKey,
		}

		var id string
		var pub []byte
		err = tx.QueryRow(ctx, `
			DELETE FROM duet_one_time_prekeys
			WHERE (party_id, key_id) = (
				SELECT party_id, key_id FROM duet_one_time_prekeys
				WHERE party_id = $1
				ORDER BY created_at, key_id
				LIMIT 1
				FOR UPDATE SKIP LOCKED
			)
			RETURNING key_id, public_key`, party.String()).Scan(&id, &pub)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return err
		default:
			key, err := domain.ParseX25519Public(pub)
			if err != nil {
				return err
			}
			b.OneTimePreKey = &domain.OneTimePreKeyPublic{ID: domain.OneTimePreKeyID(id), Pub: key}
		}

		return tx.QueryRow(ctx,
			`SELECT count(*) FROM duet_one_time_prekeys WHERE party_id = $1`,
			party.String()).Scan(&b.OneTimePreKeysRemaining)
	})
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	return b, nil
}

// CountOneTimePreKeys returns the size of the party's pool.
func (s *Store) CountOneTimePreKeys(ctx context.Context, party domain.PartyID) (int, error) {
	var exists bool
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM duet_identities WHERE party_id = $1),
		       (SELECT count(*) FROM duet_one_time_prekeys WHERE party_id = $1)`,
		party.String()).Scan(&exists, &n)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, domain.ErrNotFound
	}
	return n, nil
}

var _ domain.PreKeyDirectory = (*Store)(nil)

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"duet/internal/domain"
	"duet/internal/storage"
)

// Admit locks the conversation row, runs check and records the admission in
// one serializable transaction.
func (s *Store) Admit(ctx context.Context, a domain.Admission, check func(domain.ConversationState) error) error {
	conv := a.Request.Conversation()
	nonce := storage.NonceKey(conv, a.Request.MessageID)
	tokenVal, err := storage.Marshal(a.Token)
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(tx pgx.Tx) error {
		st := domain.ConversationState{Key: conv}
		var last int64
		err := tx.QueryRow(ctx,
			`SELECT last_sequence FROM duet_sequences WHERE conversation = $1 FOR UPDATE`,
			conv.String()).Scan(&last)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return err
		default:
			st.LastSequence = uint64(last)
			st.HasSequence = true
		}

		err = tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM duet_nonces WHERE nonce = $1)`, nonce).Scan(&st.NonceSeen)
		if err != nil {
			return err
		}

		if err := check(st); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO duet_sequences (conversation, last_sequence) VALUES ($1, $2)
			ON CONFLICT (conversation) DO UPDATE SET last_sequence = EXCLUDED.last_sequence`,
			conv.String(), int64(a.Request.SequenceNumber)); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO duet_nonces (nonce, expires_at) VALUES ($1, $2)`,
			nonce, a.NonceExpiresAt); err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO duet_tokens (token, record, expires_at) VALUES ($1, $2, $3)`,
			a.Token.Token, tokenVal, a.Token.ExpiresAt)
		return err
	})
}

// RedeemToken deletes token if check accepts it.
func (s *Store) RedeemToken(ctx context.Context, token string, check func(domain.DeliveryToken) error) (domain.DeliveryToken, error) {
	var out domain.DeliveryToken
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var rec []byte
		err := tx.QueryRow(ctx,
			`SELECT record FROM duet_tokens WHERE token = $1 FOR UPDATE`, token).Scan(&rec)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrTokenRejected
		}
		if err != nil {
			return err
		}
		if err := storage.Unmarshal(rec, &out); err != nil {
			return err
		}
		if err := check(out); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `DELETE FROM duet_tokens WHERE token = $1`, token)
		return err
	})
	if err != nil {
		return domain.DeliveryToken{}, err
	}
	return out, nil
}

// Purge drops nonces and tokens that expired before now.
func (s *Store) Purge(ctx context.Context, now time.Time) (int, error) {
	n1, err := s.pool.Exec(ctx, `DELETE FROM duet_nonces WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	n2, err := s.pool.Exec(ctx, `DELETE FROM duet_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return int(n1.RowsAffected()), err
	}
	return int(n1.RowsAffected() + n2.RowsAffected()), nil
}

var _ domain.GuardStore = (*Store)(nil)

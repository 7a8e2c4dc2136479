package redisdb

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"duet/internal/domain"
	"duet/internal/metrics"
	"duet/internal/storage"
)

// Admit runs check against the watched sequence and nonce keys and writes
// the admission in MULTI/EXEC. A concurrent write to either key aborts EXEC
// and the attempt is retried.
func (s *Store) Admit(ctx context.Context, a domain.Admission, check func(domain.ConversationState) error) error {
	conv := a.Request.Conversation()
	seqKey := s.key("seq", conv.String())
	nonceKey := s.key("nonce", storage.NonceKey(conv, a.Request.MessageID))
	tokenKey := s.key("token", a.Token.Token)

	tokenVal, err := storage.Marshal(a.Token)
	if err != nil {
		return err
	}
	now := s.now()
	nonceTTL := ttlUntil(a.NonceExpiresAt, now)
	tokenTTL := ttlUntil(a.Token.ExpiresAt, now)

	txf := func(tx *redis.Tx) error {
		st := domain.ConversationState{Key: conv}
		last, err := tx.Get(ctx, seqKey).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			st.LastSequence, err = strconv.ParseUint(last, 10, 64)
			if err != nil {
				return err
			}
			st.HasSequence = true
		}
		n, err := tx.Exists(ctx, nonceKey).Result()
		if err != nil {
			return err
		}
		st.NonceSeen = n > 0

		if err := check(st); err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, seqKey, strconv.FormatUint(a.Request.SequenceNumber, 10), 0)
			pipe.Set(ctx, nonceKey, "1", nonceTTL)
			pipe.Set(ctx, tokenKey, tokenVal, tokenTTL)
			return nil
		})
		return err
	}

	return s.retry(ctx, func() error { return s.client.Watch(ctx, txf, seqKey, nonceKey) })
}

// RedeemToken deletes token if check accepts it.
func (s *Store) RedeemToken(ctx context.Context, token string, check func(domain.DeliveryToken) error) (domain.DeliveryToken, error) {
	key := s.key("token", token)
	var out domain.DeliveryToken

	txf := func(tx *redis.Tx) error {
		v, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrTokenRejected
		}
		if err != nil {
			return err
		}
		if err := storage.Unmarshal(v, &out); err != nil {
			return err
		}
		if err := check(out); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}

	if err := s.retry(ctx, func() error { return s.client.Watch(ctx, txf, key) }); err != nil {
		return domain.DeliveryToken{}, err
	}
	return out, nil
}

// Purge is a no-op: Redis expires nonces and tokens itself.
func (s *Store) Purge(context.Context, time.Time) (int, error) { return 0, nil }

// retry reruns fn while its optimistic transaction fails.
func (s *Store) retry(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := fn()
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if err := backoff(ctx, attempt); err != nil {
			return err
		}
	}
	metrics.StoreContentionTotal.WithLabelValues("redis").Inc()
	return domain.ErrStoreContention
}

func ttlUntil(t, now time.Time) time.Duration {
	d := t.Sub(now)
	if d < time.Millisecond {
		return time.Millisecond
	}
	return d
}

var _ domain.GuardStore = (*Store)(nil)

// Package redisdb implements the guard store and the pre-key directory on
// Redis, for relays that share state.
//
// Admissions and token redemptions use WATCH/MULTI optimistic transactions
// with a bounded number of retries; exhausting them yields
// domain.ErrStoreContention. Nonces and tokens carry a Redis TTL, so Purge has
// nothing to do.
package redisdb

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"duet/internal/storage"
)

// Config holds Redis connection settings.
type Config struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	KeyPrefix  string
	MaxRetries int
}

// Store is a Redis-backed guard store and directory.
type Store struct {
	client     *redis.Client
	prefix     string
	maxRetries int
	now        func() time.Time
}

// Open connects to Redis and pings it.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redisdb: connect %s: %w", cfg.Addr, err)
	}
	return New(client, cfg.KeyPrefix, cfg.MaxRetries), nil
}

// New wraps an existing client.
func New(client *redis.Client, prefix string, maxRetries int) *Store {
	if prefix == "" {
		prefix = "duet"
	}
	if maxRetries <= 0 {
		maxRetries = storage.DefaultMaxRetries
	}
	return &Store{client: client, prefix: prefix, maxRetries: maxRetries, now: time.Now}
}

// Close closes the client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) key(kind, id string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, kind, id)
}

// backoff sleeps a little longer after every failed attempt.
func backoff(ctx context.Context, attempt int) error {
	t := time.NewTimer(time.Duration(attempt+1) * 5 * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

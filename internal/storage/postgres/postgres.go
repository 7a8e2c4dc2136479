// Package postgres implements the guard store and the pre-key directory on
// PostgreSQL (or CockroachDB) through pgx.
//
// Admissions run in SERIALIZABLE transactions. Serialization failures,
// deadlocks and unique violations from racing inserts are retried a bounded
// number of times before the caller sees domain.ErrStoreContention.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"duet/internal/domain"
	"duet/internal/metrics"
	"duet/internal/storage"
)

// Config holds connection settings.
type Config struct {
	DSN        string
	MaxConns   int32
	MaxRetries int
}

// Store is a PostgreSQL-backed guard store and directory.
type Store struct {
	pool       *pgxpool.Pool
	maxRetries int
	now        func() time.Time
}

// Open connects, pings and applies the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return New(pool, cfg.MaxRetries), nil
}

// New wraps an existing pool. The schema must already exist.
func New(pool *pgxpool.Pool, maxRetries int) *Store {
	if maxRetries <= 0 {
		maxRetries = storage.DefaultMaxRetries
	}
	return &Store{pool: pool, maxRetries: maxRetries, now: time.Now}
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

var serializable = pgx.TxOptions{IsoLevel: pgx.Serializable}

// inTx runs fn in a serializable transaction, retrying on contention.
func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := pgx.BeginTxFunc(ctx, s.pool, serializable, fn)
		if !retryable(err) {
			return err
		}
		t := time.NewTimer(time.Duration(attempt+1) * 10 * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	metrics.StoreContentionTotal.WithLabelValues("postgres").Inc()
	return domain.ErrStoreContention
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "23505":
		return true
	}
	return false
}

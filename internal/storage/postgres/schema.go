package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS duet_sequences (
	conversation  TEXT PRIMARY KEY,
	last_sequence BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS duet_nonces (
	nonce      TEXT PRIMARY KEY,
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS duet_nonces_expires_idx ON duet_nonces (expires_at);

CREATE TABLE IF NOT EXISTS duet_tokens (
	token      TEXT PRIMARY KEY,
	record     BYTEA NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS duet_tokens_expires_idx ON duet_tokens (expires_at);

CREATE TABLE IF NOT EXISTS duet_identities (
	party_id   TEXT PRIMARY KEY,
	record     BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS duet_one_time_prekeys (
	party_id   TEXT NOT NULL REFERENCES duet_identities (party_id) ON DELETE CASCADE,
	key_id     TEXT NOT NULL,
	public_key BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (party_id, key_id)
);
`

// Migrate creates the tables if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Package boltdb implements the guard store, the pre-key directory and the
// mailbox on a single bbolt file.
//
// bbolt allows one read-write transaction at a time, so every Update below
// is serialisable and needs no retry loop.
package boltdb

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	sequencesBucket  = "sequences"
	noncesBucket     = "nonces"
	tokensBucket     = "tokens"
	identitiesBucket = "identities"
	prekeysBucket    = "prekeys"
	mailboxBucket    = "mailbox"
)

var allBuckets = []string{
	sequencesBucket,
	noncesBucket,
	tokensBucket,
	identitiesBucket,
	prekeysBucket,
	mailboxBucket,
}

// DB is a bbolt-backed store.
type DB struct {
	db  *bolt.DB
	now func() time.Time
}

// Open opens or creates the database at path.
func Open(path string) (*DB, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltdb: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("boltdb: init buckets: %w", err)
	}
	return &DB{db: db, now: time.Now}, nil
}

// Close closes the underlying file.
func (d *DB) Close() error { return d.db.Close() }

func putUint64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func getUint64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

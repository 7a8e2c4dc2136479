package boltdb

import (
	"context"

	bolt "go.etcd.io/bbolt"

	"duet/internal/domain"
	"duet/internal/storage"
)

// Enqueue appends msg to the recipient's queue. Keys are the bucket's
// monotonic sequence so cursor order is arrival order.
func (d *DB) Enqueue(ctx context.Context, msg domain.WireMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v, err := storage.Marshal(domain.QueuedMessage{Message: msg, EnqueuedUTC: d.now().Unix()})
	if err != nil {
		return err
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		q, err := tx.Bucket([]byte(mailboxBucket)).CreateBucketIfNotExists([]byte(msg.RecipientID))
		if err != nil {
			return err
		}
		seq, err := q.NextSequence()
		if err != nil {
			return err
		}
		return q.Put(putUint64(seq), v)
	})
}

// Fetch returns up to limit queued messages in arrival order; limit <= 0
// returns all of them.
func (d *DB) Fetch(ctx context.Context, recipient domain.PartyID, limit int) ([]domain.QueuedMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []domain.QueuedMessage
	err := d.db.View(func(tx *bolt.Tx) error {
		q := tx.Bucket([]byte(mailboxBucket)).Bucket([]byte(recipient))
		if q == nil {
			return nil
		}
		c := q.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var m domain.QueuedMessage
			if err := storage.Unmarshal(v, &m); err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	return out, err
}

// Ack removes the listed messages from the recipient's queue.
func (d *DB) Ack(ctx context.Context, recipient domain.PartyID, ids []domain.MessageID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	drop := make(map[domain.MessageID]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	n := 0
	err := d.db.Update(func(tx *bolt.Tx) error {
		q := tx.Bucket([]byte(mailboxBucket)).Bucket([]byte(recipient))
		if q == nil {
			return nil
		}
		var keys [][]byte
		if err := q.ForEach(func(k, v []byte) error {
			var m domain.QueuedMessage
			if err := storage.Unmarshal(v, &m); err != nil {
				return err
			}
			if drop[m.Message.MessageID] {
				keys = append(keys, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range keys {
			if err := q.Delete(k); err != nil {
				return err
			}
		}
		n = len(keys)
		return nil
	})
	return n, err
}

var _ domain.MessageQueue = (*DB)(nil)

// Package memory is an in-process store for the development relay and for
// tests. All state is lost on exit; a single mutex makes every operation
// atomic.
package memory

import (
	"context"
	"sync"
	"time"

	"duet/internal/domain"
	"duet/internal/storage"
)

type partyKeys struct {
	record storage.IdentityRecord
	pool   []domain.OneTimePreKeyPublic
}

// Store keeps directory, guard and mailbox state in maps.
type Store struct {
	mu        sync.Mutex
	now       func() time.Time
	parties   map[domain.PartyID]*partyKeys
	sequences map[domain.ConversationKey]uint64
	nonces    map[string]time.Time
	tokens    map[string]domain.DeliveryToken
	queues    map[domain.PartyID][]domain.QueuedMessage
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		now:       time.Now,
		parties:   make(map[domain.PartyID]*partyKeys),
		sequences: make(map[domain.ConversationKey]uint64),
		nonces:    make(map[string]time.Time),
		tokens:    make(map[string]domain.DeliveryToken),
		queues:    make(map[domain.PartyID][]domain.QueuedMessage),
	}
}

// PublishIdentity stores the identity and signed pre-key and adds the
// one-time pre-keys to the pool.
func (s *Store) PublishIdentity(_ context.Context, keys domain.PublishedKeys) error {
	if err := storage.ValidatePublished(keys, s.now()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.parties[keys.PartyID]
	var existing *storage.IdentityRecord
	if cur != nil {
		existing = &cur.record
	}
	if err := storage.CheckReplace(existing, keys); err != nil {
		return err
	}
	if cur == nil || storage.IdentityChanged(existing, keys) {
		cur = &partyKeys{}
		s.parties[keys.PartyID] = cur
	}
	cur.record = storage.IdentityRecord{
		Identity:     keys.Identity,
		SignedPreKey: keys.SignedPreKey,
		UpdatedUTC:   s.now().Unix(),
	}
	known := make(map[domain.OneTimePreKeyID]bool, len(cur.pool))
	for _, k := range cur.pool {
		known[k.ID] = true
	}
	for _, k := range keys.OneTimePreKeys {
		if !known[k.ID] {
			cur.pool = append(cur.pool, k)
		}
	}
	return nil
}

// FetchBundle returns the party's bundle and claims one one-time pre-key.
func (s *Store) FetchBundle(_ context.Context, party domain.PartyID) (domain.PreKeyBundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.parties[party]
	if !ok {
		return domain.PreKeyBundle{}, domain.ErrNotFound
	}
	b := domain.PreKeyBundle{
		PartyID:      party,
		Identity:     cur.record.Identity,
		SignedPreKey: cur.record.SignedPreKey,
	}
	if len(cur.pool) > 0 {
		opk := cur.pool[0]
		cur.pool = cur.pool[1:]
		b.OneTimePreKey = &opk
	}
	b.OneTimePreKeysRemaining = len(cur.pool)
	return b, nil
}

// CountOneTimePreKeys returns the size of the party's pool.
func (s *Store) CountOneTimePreKeys(_ context.Context, party domain.PartyID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.parties[party]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return len(cur.pool), nil
}

// Admit runs check and records the admission under one lock.
func (s *Store) Admit(_ context.Context, a domain.Admission, check func(domain.ConversationState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := a.Request.Conversation()
	nk := storage.NonceKey(conv, a.Request.MessageID)
	last, has := s.sequences[conv]
	_, seen := s.nonces[nk]
	if err := check(domain.ConversationState{
		Key:          conv,
		LastSequence: last,
		HasSequence:  has,
		NonceSeen:    seen,
	}); err != nil {
		return err
	}
	s.sequences[conv] = a.Request.SequenceNumber
	s.nonces[nk] = a.NonceExpiresAt
	s.tokens[a.Token.Token] = a.Token
	return nil
}

// RedeemToken deletes token if check accepts it.
func (s *Store) RedeemToken(_ context.Context, token string, check func(domain.DeliveryToken) error) (domain.DeliveryToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[token]
	if !ok {
		return domain.DeliveryToken{}, domain.ErrTokenRejected
	}
	if err := check(t); err != nil {
		return domain.DeliveryToken{}, err
	}
	delete(s.tokens, token)
	return t, nil
}

// Purge drops nonces and tokens that expired before now.
func (s *Store) Purge(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, exp := range s.nonces {
		if exp.Before(now) {
			delete(s.nonces, k)
			n++
		}
	}
	for k, t := range s.tokens {
		if t.ExpiresAt.Before(now) {
			delete(s.tokens, k)
			n++
		}
	}
	return n, nil
}

// Enqueue appends msg to the recipient's queue.
func (s *Store) Enqueue(_ context.Context, msg domain.WireMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queues[msg.RecipientID] = append(s.queues[msg.RecipientID], domain.QueuedMessage{
		Message:     msg,
		EnqueuedUTC: s.now().Unix(),
	})
	return nil
}

// Fetch returns up to limit queued messages in arrival order; limit <= 0
// returns all of them.
func (s *Store) Fetch(_ context.Context, recipient domain.PartyID, limit int) ([]domain.QueuedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queues[recipient]
	if limit > 0 && limit < len(q) {
		q = q[:limit]
	}
	return append([]domain.QueuedMessage(nil), q...), nil
}

// Ack removes the listed messages from the recipient's queue.
func (s *Store) Ack(_ context.Context, recipient domain.PartyID, ids []domain.MessageID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := make(map[domain.MessageID]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	q := s.queues[recipient]
	kept := q[:0]
	n := 0
	for _, m := range q {
		if drop[m.Message.MessageID] {
			n++
			continue
		}
		kept = append(kept, m)
	}
	if len(kept) == 0 {
		delete(s.queues, recipient)
	} else {
		s.queues[recipient] = kept
	}
	return n, nil
}

var (
	_ domain.PreKeyDirectory = (*Store)(nil)
	_ domain.GuardStore      = (*Store)(nil)
	_ domain.MessageQueue    = (*Store)(nil)
)

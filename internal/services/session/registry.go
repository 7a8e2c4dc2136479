package session

import (
	"sync"

	"duet/internal/domain"
)

// Registry serialises access to session records per ordered pair.
type Registry struct {
	store domain.SessionStore

	mu    sync.Mutex
	locks map[domain.ConversationKey]*pairLock
}

type pairLock struct {
	mu   sync.Mutex
	refs int
}

// NewRegistry returns a Registry over store.
func NewRegistry(store domain.SessionStore) *Registry {
	return &Registry{store: store, locks: make(map[domain.ConversationKey]*pairLock)}
}

// Load returns the record of the pair.
func (r *Registry) Load(local, partner domain.PartyID) (domain.SessionRecord, bool, error) {
	unlock := r.lock(local, partner)
	defer unlock()
	return r.store.LoadSessionRecord(local, partner)
}

// Update loads the record of the pair, calls fn with it and saves the record
// if fn succeeds. Nothing is written when fn fails.
func (r *Registry) Update(local, partner domain.PartyID, fn func(rec *domain.SessionRecord) error) error {
	unlock := r.lock(local, partner)
	defer unlock()

	rec, _, err := r.store.LoadSessionRecord(local, partner)
	if err != nil {
		return err
	}
	if err := fn(&rec); err != nil {
		return err
	}
	return r.store.SaveSessionRecord(local, partner, rec)
}

func (r *Registry) lock(local, partner domain.PartyID) func() {
	key := domain.ConversationKey{Sender: local, Recipient: partner}

	r.mu.Lock()
	l, ok := r.locks[key]
	if !ok {
		l = &pairLock{}
		r.locks[key] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, key)
		}
		r.mu.Unlock()
	}
}

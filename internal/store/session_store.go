package store

import (
	"net/url"
	"path/filepath"
	"sync"

	"duet/internal/domain"
)

const sessionsDir = "sessions"

// SessionFileStore persists one CBOR session record per (local, partner)
// pair.
type SessionFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewSessionFileStore returns a SessionFileStore rooted at dir.
func NewSessionFileStore(dir string) *SessionFileStore {
	return &SessionFileStore{dir: dir}
}

// SaveSessionRecord atomically replaces the record of the pair.
func (s *SessionFileStore) SaveSessionRecord(local, partner domain.PartyID, rec domain.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeCBOR(s.path(local, partner), rec, 0o600)
}

// LoadSessionRecord retrieves the record of the pair.
func (s *SessionFileStore) LoadSessionRecord(local, partner domain.PartyID) (domain.SessionRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec domain.SessionRecord
	ok, err := readCBOR(s.path(local, partner), &rec)
	if err != nil || !ok {
		return domain.SessionRecord{}, false, err
	}
	return rec, true, nil
}

func (s *SessionFileStore) path(local, partner domain.PartyID) string {
	name := url.PathEscape(local.String()) + "__" + url.PathEscape(partner.String()) + ".cbor"
	return filepath.Join(s.dir, sessionsDir, name)
}

// Compile-time assertion that SessionFileStore implements domain.SessionStore.
var _ domain.SessionStore = (*SessionFileStore)(nil)

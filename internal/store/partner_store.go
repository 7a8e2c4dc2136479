package store

import (
	"path/filepath"
	"sync"

	"duet/internal/domain"
)

const partnersFile = "partners.json"

// PartnerFileStore keeps the pinned identity of every partner.
type PartnerFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewPartnerFileStore returns a PartnerFileStore rooted at dir.
func NewPartnerFileStore(dir string) *PartnerFileStore {
	return &PartnerFileStore{dir: dir}
}

// SavePartner stores or replaces the pin of p.ID.
func (s *PartnerFileStore) SavePartner(p domain.Partner) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, partnersFile)
	partners := map[domain.PartyID]domain.Partner{}
	if err := readJSON(path, &partners); err != nil {
		return err
	}
	partners[p.ID] = p
	return writeJSON(path, partners, 0o600)
}

// LoadPartner returns the pin of id and whether it was present.
func (s *PartnerFileStore) LoadPartner(id domain.PartyID) (domain.Partner, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	partners := map[domain.PartyID]domain.Partner{}
	if err := readJSON(filepath.Join(s.dir, partnersFile), &partners); err != nil {
		return domain.Partner{}, false, err
	}
	p, ok := partners[id]
	return p, ok, nil
}

// Compile-time assertion that PartnerFileStore implements domain.PartnerStore.
var _ domain.PartnerStore = (*PartnerFileStore)(nil)

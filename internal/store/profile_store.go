package store

import (
	"path/filepath"
	"sync"

	"duet/internal/domain"
)

const profileFile = "profile.json"

// ProfileFileStore remembers the local party ID and relay URL.
type ProfileFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewProfileFileStore returns a ProfileFileStore rooted at dir.
func NewProfileFileStore(dir string) *ProfileFileStore {
	return &ProfileFileStore{dir: dir}
}

// SaveProfile replaces the stored profile.
func (s *ProfileFileStore) SaveProfile(p domain.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(filepath.Join(s.dir, profileFile), p, 0o600)
}

// LoadProfile returns the stored profile and whether one exists.
func (s *ProfileFileStore) LoadProfile() (domain.Profile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var p domain.Profile
	if err := readJSON(filepath.Join(s.dir, profileFile), &p); err != nil {
		return domain.Profile{}, false, err
	}
	if p.PartyID == "" {
		return domain.Profile{}, false, nil
	}
	return p, true, nil
}

// Compile-time assertion that ProfileFileStore implements domain.ProfileStore.
var _ domain.ProfileStore = (*ProfileFileStore)(nil)

package store

import (
	"encoding/json"
	"path/filepath"
	"sync"

	"duet/internal/domain"
)

const (
	idFilename      = "identity.json.enc"
	archiveFilename = "identity_archive.json.enc"
)

// IdentityFileStore persists the local identity, and the identities it
// superseded, sealed under the passphrase.
type IdentityFileStore struct {
	dir string
	kp  scryptParams
	mu  sync.Mutex
}

// NewIdentityFileStore returns an IdentityFileStore rooted at dir.
func NewIdentityFileStore(dir string) *IdentityFileStore {
	return &IdentityFileStore{dir: dir, kp: defaultScrypt()}
}

// SaveIdentity seals the identity to disk, replacing the current one.
func (s *IdentityFileStore) SaveIdentity(passphrase string, id domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeSealed(passphrase, idFilename, id)
}

// LoadIdentity reads and unseals the identity. A missing identity is
// ErrNotFound.
func (s *IdentityFileStore) LoadIdentity(passphrase string) (domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id domain.Identity
	ok, err := s.readSealed(passphrase, idFilename, &id)
	if err != nil {
		return domain.Identity{}, err
	}
	if !ok {
		return domain.Identity{}, domain.ErrNotFound
	}
	return id, nil
}

// HasIdentity reports whether an identity file exists.
func (s *IdentityFileStore) HasIdentity() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := readFile(filepath.Join(s.dir, idFilename))
	return b != nil, err
}

// ArchiveIdentity appends id to the archive of superseded identities.
func (s *IdentityFileStore) ArchiveIdentity(passphrase string, id domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var archived []domain.Identity
	if _, err := s.readSealed(passphrase, archiveFilename, &archived); err != nil {
		return err
	}
	for _, a := range archived {
		if a.Version == id.Version && a.XPub == id.XPub {
			return nil
		}
	}
	archived = append([]domain.Identity{id}, archived...)
	return s.writeSealed(passphrase, archiveFilename, archived)
}

// ArchivedIdentities returns superseded identities, most recent first.
func (s *IdentityFileStore) ArchivedIdentities(passphrase string) ([]domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var archived []domain.Identity
	if _, err := s.readSealed(passphrase, archiveFilename, &archived); err != nil {
		return nil, err
	}
	return archived, nil
}

func (s *IdentityFileStore) writeSealed(passphrase, name string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ct, err := seal(passphrase, raw, s.kp)
	if err != nil {
		return err
	}
	return writeFile(filepath.Join(s.dir, name), ct, 0o600)
}

func (s *IdentityFileStore) readSealed(passphrase, name string, out any) (bool, error) {
	b, err := readFile(filepath.Join(s.dir, name))
	if err != nil || b == nil {
		return false, err
	}
	pt, err := open(passphrase, b)
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(pt, out)
}

// Compile-time assertion that IdentityFileStore implements domain.IdentityStore.
var _ domain.IdentityStore = (*IdentityFileStore)(nil)

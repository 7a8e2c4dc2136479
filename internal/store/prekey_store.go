package store

import (
	"path/filepath"
	"sort"
	"sync"

	"duet/internal/domain"
)

const (
	spkPairsFile   = "spk_pairs.json"
	opkPairsFile   = "opk_pairs.json"
	prekeyMetaFile = "prekey_meta.json"
)

// PrekeyFileStore persists signed and one-time pre-key pairs to disk.
type PrekeyFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewPrekeyFileStore returns a PrekeyFileStore rooted at dir.
func NewPrekeyFileStore(dir string) *PrekeyFileStore {
	return &PrekeyFileStore{dir: dir}
}

type prekeyMeta struct {
	CurrentSignedPreKeyID domain.SignedPreKeyID `json:"current_signed_pre_key_id"`
}

// SaveSignedPreKey stores a signed pre-key pair by id.
func (s *PrekeyFileStore) SaveSignedPreKey(pair domain.SignedPreKeyPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.signedPreKeys()
	if err != nil {
		return err
	}
	m[pair.ID] = pair
	return writeJSON(filepath.Join(s.dir, spkPairsFile), m, 0o600)
}

// LoadSignedPreKey retrieves a signed pre-key pair by id.
func (s *PrekeyFileStore) LoadSignedPreKey(id domain.SignedPreKeyID) (domain.SignedPreKeyPair, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.signedPreKeys()
	if err != nil {
		return domain.SignedPreKeyPair{}, false, err
	}
	p, ok := m[id]
	return p, ok, nil
}

// ListSignedPreKeys returns every stored signed pre-key, oldest first.
func (s *PrekeyFileStore) ListSignedPreKeys() ([]domain.SignedPreKeyPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.signedPreKeys()
	if err != nil {
		return nil, err
	}
	out := make([]domain.SignedPreKeyPair, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedUTC != out[j].CreatedUTC {
			return out[i].CreatedUTC < out[j].CreatedUTC
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteSignedPreKey removes a signed pre-key pair.
func (s *PrekeyFileStore) DeleteSignedPreKey(id domain.SignedPreKeyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.signedPreKeys()
	if err != nil {
		return err
	}
	if _, ok := m[id]; !ok {
		return nil
	}
	delete(m, id)
	return writeJSON(filepath.Join(s.dir, spkPairsFile), m, 0o600)
}

// SetCurrentSignedPreKeyID records which signed pre-key id is current.
func (s *PrekeyFileStore) SetCurrentSignedPreKeyID(id domain.SignedPreKeyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return writeJSON(filepath.Join(s.dir, prekeyMetaFile), prekeyMeta{CurrentSignedPreKeyID: id}, 0o600)
}

// CurrentSignedPreKeyID returns the recorded current signed pre-key id.
func (s *PrekeyFileStore) CurrentSignedPreKeyID() (domain.SignedPreKeyID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var meta prekeyMeta
	if err := readJSON(filepath.Join(s.dir, prekeyMetaFile), &meta); err != nil {
		return "", false, err
	}
	if meta.CurrentSignedPreKeyID == "" {
		return "", false, nil
	}
	return meta.CurrentSignedPreKeyID, true, nil
}

// SaveOneTimePreKeys merges the provided one-time pre-key pairs into the store.
func (s *PrekeyFileStore) SaveOneTimePreKeys(pairs []domain.OneTimePreKeyPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.oneTimePreKeys()
	if err != nil {
		return err
	}
	for _, p := range pairs {
		m[p.ID] = p
	}
	return writeJSON(filepath.Join(s.dir, opkPairsFile), m, 0o600)
}

// LoadOneTimePreKey returns a one-time pre-key by id without removing it.
func (s *PrekeyFileStore) LoadOneTimePreKey(id domain.OneTimePreKeyID) (domain.OneTimePreKeyPair, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.oneTimePreKeys()
	if err != nil {
		return domain.OneTimePreKeyPair{}, false, err
	}
	p, ok := m[id]
	return p, ok, nil
}

// ConsumeOneTimePreKey removes and returns a single one-time pre-key by id.
// A second call for the same id reports false.
func (s *PrekeyFileStore) ConsumeOneTimePreKey(id domain.OneTimePreKeyID) (domain.OneTimePreKeyPair, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.oneTimePreKeys()
	if err != nil {
		return domain.OneTimePreKeyPair{}, false, err
	}
	p, ok := m[id]
	if !ok {
		return domain.OneTimePreKeyPair{}, false, nil
	}
	delete(m, id)
	if err := writeJSON(filepath.Join(s.dir, opkPairsFile), m, 0o600); err != nil {
		return domain.OneTimePreKeyPair{}, false, err
	}
	return p, true, nil
}

// ListOneTimePreKeyPublics exposes only the public halves for publishing,
// ordered by id.
func (s *PrekeyFileStore) ListOneTimePreKeyPublics() ([]domain.OneTimePreKeyPublic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.oneTimePreKeys()
	if err != nil {
		return nil, err
	}
	out := make([]domain.OneTimePreKeyPublic, 0, len(m))
	for id, p := range m {
		out = append(out, domain.OneTimePreKeyPublic{ID: id, Pub: p.Pub})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *PrekeyFileStore) signedPreKeys() (map[domain.SignedPreKeyID]domain.SignedPreKeyPair, error) {
	m := map[domain.SignedPreKeyID]domain.SignedPreKeyPair{}
	if err := readJSON(filepath.Join(s.dir, spkPairsFile), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *PrekeyFileStore) oneTimePreKeys() (map[domain.OneTimePreKeyID]domain.OneTimePreKeyPair, error) {
	m := map[domain.OneTimePreKeyID]domain.OneTimePreKeyPair{}
	if err := readJSON(filepath.Join(s.dir, opkPairsFile), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Compile-time assertion that PrekeyFileStore implements domain.PreKeyStore.
var _ domain.PreKeyStore = (*PrekeyFileStore)(nil)

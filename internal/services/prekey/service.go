package prekey

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"duet/internal/crypto"
	"duet/internal/domain"
	"duet/internal/logging"
)

// Config holds pre-key lifetimes.
type Config struct {
	// SignedPreKeyTTL is how long a signed pre-key stays valid.
	SignedPreKeyTTL time.Duration
	// Grace keeps a superseded signed pre-key past its expiry so late
	// handshakes can still complete.
	Grace time.Duration
}

// DefaultConfig returns the client defaults.
func DefaultConfig() Config {
	return Config{SignedPreKeyTTL: 30 * 24 * time.Hour, Grace: 7 * 24 * time.Hour}
}

var errNoSignedPreKey = errors.New("no signed pre-key available")

// Service manages pre-key pairs and builds the published keys.
type Service struct {
	ids domain.IdentityStore
	ps  domain.PreKeyStore
	cfg Config
	log *zap.Logger
	// Now is the clock expiries are computed from.
	Now func() time.Time
}

// New returns a pre-key service.
func New(ids domain.IdentityStore, ps domain.PreKeyStore, cfg Config, log *zap.Logger) *Service {
	return &Service{ids: ids, ps: ps, cfg: cfg, log: logging.OrNop(log), Now: time.Now}
}

// GenerateAndStorePreKeys creates a signed pre-key, marks it current, and
// stores n new one-time pre-keys.
func (s *Service) GenerateAndStorePreKeys(passphrase string, n int) (domain.SignedPreKeyPublic, []domain.OneTimePreKeyPublic, error) {
	spk, err := s.RotateSignedPreKey(passphrase)
	if err != nil {
		return domain.SignedPreKeyPublic{}, nil, err
	}
	opks, err := s.generateOneTime(n)
	if err != nil {
		return domain.SignedPreKeyPublic{}, nil, err
	}
	return spk, opks, nil
}

// RotateSignedPreKey creates a new signed pre-key and marks it current. The
// previous one stays stored until PruneSignedPreKeys drops it.
func (s *Service) RotateSignedPreKey(passphrase string) (domain.SignedPreKeyPublic, error) {
	id, err := s.ids.LoadIdentity(passphrase)
	if err != nil {
		return domain.SignedPreKeyPublic{}, err
	}

	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.SignedPreKeyPublic{}, err
	}
	now := s.Now()
	expires := now.Add(s.cfg.SignedPreKeyTTL).Truncate(time.Second)
	pair := domain.SignedPreKeyPair{
		ID:         domain.SignedPreKeyID("spk-" + uuid.NewString()),
		Priv:       priv,
		Pub:        pub,
		Signature:  crypto.SignEd25519(id.EdPriv, crypto.SignedPreKeyMessage(pub, expires)),
		ExpiresUTC: expires.Unix(),
		CreatedUTC: now.Unix(),
	}
	if err := s.ps.SaveSignedPreKey(pair); err != nil {
		return domain.SignedPreKeyPublic{}, err
	}
	if err := s.ps.SetCurrentSignedPreKeyID(pair.ID); err != nil {
		return domain.SignedPreKeyPublic{}, err
	}
	s.log.Info("signed pre-key rotated", zap.String("id", pair.ID.String()), zap.Time("expires", expires))
	return pair.Public(), nil
}

// ReplenishOneTimePreKeys tops the pool up to target when the directory
// reports fewer than target keys remaining. It returns the new keys.
func (s *Service) ReplenishOneTimePreKeys(remaining, target int) ([]domain.OneTimePreKeyPublic, error) {
	if remaining >= target {
		return nil, nil
	}
	return s.generateOneTime(target - remaining)
}

// PublishedKeys assembles the public material of party: identity and its
// endorsements, current signed pre-key and every stored one-time pre-key.
func (s *Service) PublishedKeys(passphrase string, party domain.PartyID) (domain.PublishedKeys, error) {
	id, err := s.ids.LoadIdentity(passphrase)
	if err != nil {
		return domain.PublishedKeys{}, err
	}
	spkID, ok, err := s.ps.CurrentSignedPreKeyID()
	if err != nil {
		return domain.PublishedKeys{}, err
	}
	if !ok {
		return domain.PublishedKeys{}, errNoSignedPreKey
	}
	spk, found, err := s.ps.LoadSignedPreKey(spkID)
	if err != nil {
		return domain.PublishedKeys{}, err
	}
	if !found {
		return domain.PublishedKeys{}, errNoSignedPreKey
	}
	opks, err := s.ps.ListOneTimePreKeyPublics()
	if err != nil {
		return domain.PublishedKeys{}, err
	}
	return domain.PublishedKeys{
		PartyID:        party,
		Identity:       id.Public(),
		SignedPreKey:   spk.Public(),
		OneTimePreKeys: opks,
		Endorsements:   id.Endorsements,
	}, nil
}

// PruneSignedPreKeys deletes superseded signed pre-keys whose expiry plus the
// grace period has passed. The current one is never deleted.
func (s *Service) PruneSignedPreKeys(now time.Time) (int, error) {
	cur, _, err := s.ps.CurrentSignedPreKeyID()
	if err != nil {
		return 0, err
	}
	all, err := s.ps.ListSignedPreKeys()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range all {
		if p.ID == cur {
			continue
		}
		if now.Before(time.Unix(p.ExpiresUTC, 0).Add(s.cfg.Grace)) {
			continue
		}
		if err := s.ps.DeleteSignedPreKey(p.ID); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		s.log.Info("pruned signed pre-keys", zap.Int("count", n))
	}
	return n, nil
}

func (s *Service) generateOneTime(n int) ([]domain.OneTimePreKeyPublic, error) {
	if n < 0 {
		return nil, fmt.Errorf("one-time pre-key count %d is negative", n)
	}
	pairs := make([]domain.OneTimePreKeyPair, 0, n)
	publics := make([]domain.OneTimePreKeyPublic, 0, n)
	for i := 0; i < n; i++ {
		priv, pub, err := crypto.GenerateX25519()
		if err != nil {
			return nil, err
		}
		id := domain.OneTimePreKeyID("opk-" + uuid.NewString())
		pairs = append(pairs, domain.OneTimePreKeyPair{ID: id, Priv: priv, Pub: pub})
		publics = append(publics, domain.OneTimePreKeyPublic{ID: id, Pub: pub})
	}
	if err := s.ps.SaveOneTimePreKeys(pairs); err != nil {
		return nil, err
	}
	return publics, nil
}

// Compile-time assertion that Service implements domain.PreKeyService.
var _ domain.PreKeyService = (*Service)(nil)

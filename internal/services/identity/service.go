package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"duet/internal/crypto"
	"duet/internal/domain"
	"duet/internal/logging"
	"duet/internal/util/memzero"
)

const (
	// minPassphraseLength defines the minimum number of characters required for a passphrase.
	minPassphraseLength = 12
)

var (
	// ErrWeakPassphrase is returned when the passphrase fails the strength policy.
	ErrWeakPassphrase = fmt.Errorf(
		"passphrase is too weak (must be at least %d characters and include upper, lower, "+
			"number, and symbol)",
		minPassphraseLength,
	)

	// ErrPhraseMismatch is returned when a recovery phrase does not derive
	// the stored identity.
	ErrPhraseMismatch = domain.NewError(domain.CodeInvalidInput, "recovery phrase does not match the stored identity")
)

// Service manages the identity using a backing store.
//
// The identity contains:
//   - X25519 key pair for Diffie-Hellman (X3DH).
//   - Ed25519 key pair for signing (the binding and the signed pre-key).
type Service struct {
	store domain.IdentityStore
	log   *zap.Logger
	// Now stamps CreatedUTC.
	Now func() time.Time
}

// New returns an identity service backed by the given store.
func New(s domain.IdentityStore, log *zap.Logger) *Service {
	return &Service{store: s, log: logging.OrNop(log), Now: time.Now}
}

// NewRecoveryPhrase returns a fresh random recovery phrase of eight groups
// of eight hex digits.
func NewRecoveryPhrase() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	h := hex.EncodeToString(b[:])
	groups := make([]string, 0, 8)
	for i := 0; i < len(h); i += 8 {
		groups = append(groups, h[i:i+8])
	}
	return strings.Join(groups, " "), nil
}

// GenerateIdentity derives version 1 of the identity from phrase and saves it
// sealed with the passphrase. It refuses to overwrite an existing identity.
func (s *Service) GenerateIdentity(passphrase, phrase string) (domain.Identity, domain.Fingerprint, error) {
	has, err := s.store.HasIdentity()
	if err != nil {
		return domain.Identity{}, "", err
	}
	if has {
		return domain.Identity{}, "", domain.NewError(domain.CodeIdentityConflict, "an identity already exists; use restore or rotate")
	}
	return s.RestoreIdentity(passphrase, phrase, 1)
}

// RestoreIdentity derives the given version of the identity from phrase and
// saves it. Restoring the identity already stored is a no-op; a different
// stored identity is archived first.
func (s *Service) RestoreIdentity(passphrase, phrase string, version uint32) (domain.Identity, domain.Fingerprint, error) {
	if !isSecurePassphrase(passphrase) {
		return domain.Identity{}, "", ErrWeakPassphrase
	}
	if version == 0 {
		version = 1
	}
	id, err := derive(phrase, version)
	if err != nil {
		return domain.Identity{}, "", err
	}
	id.CreatedUTC = s.Now().Unix()

	has, err := s.store.HasIdentity()
	if err != nil {
		return domain.Identity{}, "", err
	}
	if has {
		cur, err := s.store.LoadIdentity(passphrase)
		if err != nil {
			return domain.Identity{}, "", err
		}
		if cur.XPub == id.XPub && cur.EdPub == id.EdPub {
			return cur, crypto.FingerprintIdentity(cur.Public()), nil
		}
		if err := s.store.ArchiveIdentity(passphrase, cur); err != nil {
			return domain.Identity{}, "", err
		}
	}

	if err := s.store.SaveIdentity(passphrase, id); err != nil {
		return domain.Identity{}, "", err
	}
	fp := crypto.FingerprintIdentity(id.Public())
	s.log.Info("identity stored", zap.Uint32("version", id.Version), zap.String("fingerprint", fp.String()))
	return id, fp, nil
}

// RotateIdentity derives the next identity version from phrase, archives the
// current identity and saves the new one, endorsed by all earlier versions.
// The phrase must derive the current identity.
func (s *Service) RotateIdentity(passphrase, phrase string) (domain.Identity, domain.Fingerprint, error) {
	cur, err := s.store.LoadIdentity(passphrase)
	if err != nil {
		return domain.Identity{}, "", err
	}
	check, err := derive(phrase, cur.Version)
	if err != nil {
		return domain.Identity{}, "", err
	}
	if check.XPub != cur.XPub || check.EdPub != cur.EdPub {
		return domain.Identity{}, "", ErrPhraseMismatch
	}

	next, err := derive(phrase, cur.Version+1)
	if err != nil {
		return domain.Identity{}, "", err
	}
	next.CreatedUTC = s.Now().Unix()

	if err := s.store.ArchiveIdentity(passphrase, cur); err != nil {
		return domain.Identity{}, "", err
	}
	if err := s.store.SaveIdentity(passphrase, next); err != nil {
		return domain.Identity{}, "", err
	}
	fp := crypto.FingerprintIdentity(next.Public())
	s.log.Info("identity rotated",
		zap.Uint32("from_version", cur.Version),
		zap.Uint32("to_version", next.Version),
		zap.String("fingerprint", fp.String()))
	return next, fp, nil
}

// LoadIdentity decrypts and returns the local identity.
func (s *Service) LoadIdentity(passphrase string) (domain.Identity, error) {
	return s.store.LoadIdentity(passphrase)
}

// FingerprintIdentity returns the fingerprint of the local public identity.
func (s *Service) FingerprintIdentity(passphrase string) (domain.Fingerprint, error) {
	id, err := s.store.LoadIdentity(passphrase)
	if err != nil {
		return "", err
	}
	return crypto.FingerprintIdentity(id.Public()), nil
}

// derive returns the given identity version of phrase, endorsed by every
// earlier version.
func derive(phrase string, version uint32) (domain.Identity, error) {
	if strings.TrimSpace(phrase) == "" {
		return domain.Identity{}, domain.NewError(domain.CodeInvalidInput, "recovery phrase is required")
	}
	seed := crypto.SeedFromPhrase(phrase)
	defer memzero.Zero(seed)
	id, err := crypto.DeriveIdentityVersion(seed, version)
	if err != nil {
		return domain.Identity{}, err
	}
	pub := id.Public()
	for v := uint32(1); v < id.Version; v++ {
		prev, err := crypto.DeriveIdentityVersion(seed, v)
		if err != nil {
			return domain.Identity{}, err
		}
		id.Endorsements = append(id.Endorsements, crypto.Endorse(prev, pub))
		memzero.Zero(prev.XPriv[:])
		memzero.Zero(prev.EdPriv[:])
	}
	return id, nil
}

// isSecurePassphrase enforces a basic strength policy.
func isSecurePassphrase(passphrase string) bool {
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	if len(passphrase) < minPassphraseLength {
		return false
	}
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSymbol
}

// Compile-time assertion that Service implements domain.IdentityService.
var _ domain.IdentityService = (*Service)(nil)

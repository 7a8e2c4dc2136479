package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"duet/internal/crypto"
	"duet/internal/domain"
	"duet/internal/logging"
	"duet/internal/metrics"
	"duet/internal/protocol/ratchet"
	"duet/internal/protocol/x3dh"
)

// DefaultArchiveLimit is how many superseded sessions a record keeps.
const DefaultArchiveLimit = 3

// Service performs the X3DH handshake on both sides and persists sessions.
type Service struct {
	ids      domain.IdentityStore
	prekeys  domain.PreKeyStore
	partners domain.PartnerStore
	registry *Registry
	relay    domain.RelayClient
	ratchet  *ratchet.Ratchet
	log      *zap.Logger

	// ArchiveLimit bounds the archived sessions of a record.
	ArchiveLimit int
	// AcceptRepin lets an inbound handshake replace a pinned identity.
	AcceptRepin bool
	// Now is the clock handshakes and pins are stamped with.
	Now func() time.Time
}

// New constructs a session Service.
func New(
	ids domain.IdentityStore,
	prekeys domain.PreKeyStore,
	partners domain.PartnerStore,
	registry *Registry,
	relay domain.RelayClient,
	r *ratchet.Ratchet,
	log *zap.Logger,
) *Service {
	return &Service{
		ids:          ids,
		prekeys:      prekeys,
		partners:     partners,
		registry:     registry,
		relay:        relay,
		ratchet:      r,
		log:          logging.OrNop(log),
		ArchiveLimit: DefaultArchiveLimit,
		Now:          time.Now,
	}
}

// Registry returns the session registry.
func (s *Service) Registry() *Registry { return s.registry }

// StartSession runs X3DH as initiator against partner's bundle and makes the
// result the current session of the pair. The previous session, if any, is
// archived. The handshake header rides on every message of the new session
// until the partner replies.
func (s *Service) StartSession(
	ctx context.Context,
	passphrase string,
	local, partner domain.PartyID,
	opts domain.StartOptions,
) (domain.Session, error) {
	if local == partner {
		return domain.Session{}, domain.NewError(domain.CodeInvalidInput, "cannot start a session with yourself")
	}
	id, err := s.ids.LoadIdentity(passphrase)
	if err != nil {
		return domain.Session{}, err
	}
	bundle, err := s.relay.FetchPreKeyBundle(ctx, partner)
	if err != nil {
		return domain.Session{}, fmt.Errorf("fetch bundle: %w", err)
	}
	if bundle.PartyID != partner {
		return domain.Session{}, domain.NewError(domain.CodeHandshakeAuth, "bundle is for another party")
	}

	fp := crypto.FingerprintIdentity(bundle.Identity)
	if opts.ExpectFingerprint != "" && opts.ExpectFingerprint != fp {
		return domain.Session{}, domain.ErrFingerprint
	}

	pin, err := s.pinned(partner, opts.Repin)
	if err != nil {
		return domain.Session{}, err
	}

	now := s.Now()
	res, err := x3dh.Initiate(id, bundle, pin, now)
	if err != nil {
		s.log.Warn("handshake rejected", zap.String("partner", partner.String()), zap.Error(err))
		return domain.Session{}, err
	}
	defer res.Wipe()

	if res.UsedOneTimePreKey {
		metrics.PreKeyClaimsTotal.WithLabelValues("claimed").Inc()
	} else {
		metrics.PreKeyClaimsTotal.WithLabelValues("exhausted").Inc()
		s.log.Warn("partner has no one-time pre-keys left; handshake proceeds without one",
			zap.String("partner", partner.String()))
	}

	st, err := s.ratchet.InitAsInitiator(res.RootKey, res.AssociatedData, bundle.SignedPreKey.Pub)
	if err != nil {
		return domain.Session{}, err
	}
	header := res.Header
	sess := &domain.Session{
		Local:            local,
		Partner:          partner,
		PartnerIdentity:  bundle.Identity,
		State:            *st,
		PendingHandshake: &header,
		HandshakeKey:     header.EphemeralKey,
		IdentityVersion:  id.Version,
		CreatedUTC:       now.Unix(),
	}

	err = s.registry.Update(local, partner, func(rec *domain.SessionRecord) error {
		rec.Promote(sess, s.ArchiveLimit)
		return nil
	})
	if err != nil {
		return domain.Session{}, err
	}
	if err := s.pin(partner, bundle.Identity); err != nil {
		return domain.Session{}, err
	}

	s.log.Info("session started",
		zap.String("local", local.String()),
		zap.String("partner", partner.String()),
		zap.String("partner_fingerprint", fp.String()),
		zap.Bool("one_time_pre_key", res.UsedOneTimePreKey))
	return *sess.Clone(), nil
}

// GetSession returns the session record of the pair.
func (s *Service) GetSession(local, partner domain.PartyID) (domain.SessionRecord, bool, error) {
	return s.registry.Load(local, partner)
}

// CommitHandshake consumes the one-time pre-key an accepted handshake used.
func (s *Service) CommitHandshake(hs domain.HandshakeHeader) error {
	if hs.OneTimePreKeyID == "" {
		return nil
	}
	_, _, err := s.prekeys.ConsumeOneTimePreKey(hs.OneTimePreKeyID)
	return err
}

// Unlock reports whether passphrase opens the local identity.
func (s *Service) Unlock(passphrase string) error {
	_, err := s.ids.LoadIdentity(passphrase)
	return err
}

// Opener tries to decrypt the first inbound message with a candidate
// session, mutating its state only on success.
type Opener func(sess *domain.Session) ([]byte, error)

// AcceptHandshake runs X3DH as responder for msg and returns the new session
// together with the plaintext open produced. Each local identity, current
// first then archived, is tried in turn. The one-time pre-key named by the
// header is left in place; the caller consumes it with CommitHandshake once
// the session is stored.
func (s *Service) AcceptHandshake(passphrase string, local domain.PartyID, msg domain.WireMessage, open Opener) (*domain.Session, []byte, error) {
	hs := msg.Handshake
	if hs == nil {
		return nil, nil, domain.ErrNoSession
	}
	partner := msg.SenderID

	pin, err := s.pinned(partner, s.AcceptRepin)
	if err != nil {
		return nil, nil, err
	}
	if pin != nil && !pin.SameKeys(hs.Initiator) {
		s.log.Warn("inbound handshake from unpinned identity", zap.String("partner", partner.String()))
		return nil, nil, domain.NewError(domain.CodeHandshakeAuth, "initiator identity differs from pinned identity")
	}

	spk, ok, err := s.prekeys.LoadSignedPreKey(hs.SignedPreKeyID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, domain.NewError(domain.CodeHandshakeAuth, "unknown signed pre-key "+hs.SignedPreKeyID.String())
	}

	var opk *domain.OneTimePreKeyPair
	if hs.OneTimePreKeyID != "" {
		p, ok, err := s.prekeys.LoadOneTimePreKey(hs.OneTimePreKeyID)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, nil, domain.NewError(domain.CodeHandshakeAuth, "one-time pre-key already used")
		}
		opk = &p
	}

	sess, pt, err := s.respond(passphrase, local, msg, spk, opk, open)
	if err != nil {
		return nil, nil, err
	}
	if err := s.pin(partner, hs.Initiator); err != nil {
		return nil, nil, err
	}
	s.log.Info("handshake accepted",
		zap.String("local", local.String()),
		zap.String("partner", partner.String()),
		zap.Bool("one_time_pre_key", opk != nil))
	return sess, pt, nil
}

func (s *Service) respond(
	passphrase string,
	local domain.PartyID,
	msg domain.WireMessage,
	spk domain.SignedPreKeyPair,
	opk *domain.OneTimePreKeyPair,
	open Opener,
) (*domain.Session, []byte, error) {
	cur, err := s.ids.LoadIdentity(passphrase)
	if err != nil {
		return nil, nil, err
	}
	archived, err := s.ids.ArchivedIdentities(passphrase)
	if err != nil {
		return nil, nil, err
	}

	hs := *msg.Handshake
	for _, id := range append([]domain.Identity{cur}, archived...) {
		res, err := x3dh.Respond(id, spk, opk, hs)
		if err != nil {
			return nil, nil, err
		}
		st := s.ratchet.InitAsResponder(res.RootKey, res.ChainKey, res.AssociatedData, spk)
		res.Wipe()

		sess := &domain.Session{
			Local:           local,
			Partner:         msg.SenderID,
			PartnerIdentity: hs.Initiator,
			State:           *st,
			HandshakeKey:    hs.EphemeralKey,
			IdentityVersion: id.Version,
			CreatedUTC:      s.Now().Unix(),
		}
		pt, err := open(sess)
		if err == nil {
			return sess, pt, nil
		}
		if !errors.Is(err, domain.ErrDecryptionFailed) {
			return nil, nil, err
		}
	}
	return nil, nil, domain.ErrDecryptionFailed
}

// pinned returns the pinned identity of partner, or nil when there is none
// or repin is set.
func (s *Service) pinned(partner domain.PartyID, repin bool) (*domain.PublicIdentity, error) {
	if repin {
		return nil, nil
	}
	p, ok, err := s.partners.LoadPartner(partner)
	if err != nil || !ok {
		return nil, err
	}
	return &p.Identity, nil
}

// pin records identity for partner, counting changes of a previous pin.
func (s *Service) pin(partner domain.PartyID, identity domain.PublicIdentity) error {
	p, ok, err := s.partners.LoadPartner(partner)
	if err != nil {
		return err
	}
	if ok && p.Identity.SameKeys(identity) {
		return nil
	}
	if ok {
		p.Repinnings++
		s.log.Warn("partner identity re-pinned",
			zap.String("partner", partner.String()),
			zap.String("fingerprint", crypto.FingerprintIdentity(identity).String()))
	}
	p.ID = partner
	p.Identity = identity
	p.PinnedUTC = s.Now().Unix()
	return s.partners.SavePartner(p)
}

// Compile-time assertion that Service implements domain.SessionService.
var _ domain.SessionService = (*Service)(nil)

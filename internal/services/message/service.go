package message

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"duet/internal/domain"
	"duet/internal/guard"
	"duet/internal/logging"
	"duet/internal/metrics"
	"duet/internal/protocol/ratchet"
	"duet/internal/services/session"
	"duet/internal/wire"
)

// Acceptor runs the responder side of a handshake.
type Acceptor interface {
	AcceptHandshake(passphrase string, local domain.PartyID, msg domain.WireMessage, open session.Opener) (*domain.Session, []byte, error)
	// CommitHandshake consumes the one-time pre-key of an accepted handshake.
	CommitHandshake(hs domain.HandshakeHeader) error
	// Unlock reports whether passphrase opens the local identity.
	Unlock(passphrase string) error
}

// Service sends and receives messages over the relay using the Double
// Ratchet.
//
// High-level flow:
//   - Send: encrypt with the current session of the pair, stamp the next
//     sequence number, persist, then post via the relay. Until the partner
//     replies, the handshake header rides along.
//   - Receive: fetch, check with the local guard, accept a handshake if the
//     message carries a new one, decrypt against the candidate sessions,
//     persist, then ack what was handled.
type Service struct {
	registry *session.Registry
	sessions Acceptor
	ratchet  *ratchet.Ratchet
	relay    domain.RelayClient
	guard    *guard.Guard
	log      *zap.Logger

	// ArchiveLimit bounds the archived sessions of a record.
	ArchiveLimit int
	// Now stamps outgoing messages.
	Now func() time.Time
}

// New constructs a message Service. g may be nil to skip the local guard.
func New(
	registry *session.Registry,
	sessions Acceptor,
	r *ratchet.Ratchet,
	relay domain.RelayClient,
	g *guard.Guard,
	log *zap.Logger,
) *Service {
	return &Service{
		registry:     registry,
		sessions:     sessions,
		ratchet:      r,
		relay:        relay,
		guard:        g,
		log:          logging.OrNop(log),
		ArchiveLimit: session.DefaultArchiveLimit,
		Now:          time.Now,
	}
}

// EncryptForSending encrypts plaintext with the current session of
// (sender, recipient) and returns the wire message with its sequence number.
// The advanced session is persisted before returning.
func (s *Service) EncryptForSending(
	ctx context.Context,
	plaintext []byte,
	recipient, sender domain.PartyID,
) (domain.OutgoingMessage, error) {
	if err := ctx.Err(); err != nil {
		return domain.OutgoingMessage{}, err
	}
	var out domain.OutgoingMessage
	err := s.registry.Update(sender, recipient, func(rec *domain.SessionRecord) error {
		cur := rec.Current
		if cur == nil {
			return domain.ErrNoSession
		}
		env, err := s.ratchet.Encrypt(&cur.State, sender, recipient, plaintext)
		if err != nil {
			return err
		}
		cur.SendSequence++

		msg := domain.WireMessage{
			Version:         domain.WireVersion,
			MessageID:       domain.MessageID(uuid.NewString()),
			SenderID:        sender,
			RecipientID:     recipient,
			SequenceNumber:  cur.SendSequence,
			IdentityVersion: cur.IdentityVersion,
			Timestamp:       s.Now().UnixMilli(),
			Envelope:        env,
		}
		if cur.PendingHandshake != nil {
			hs := *cur.PendingHandshake
			msg.Handshake = &hs
		}
		out = domain.OutgoingMessage{Wire: msg, SequenceNumber: cur.SendSequence}
		return nil
	})
	if err != nil {
		return domain.OutgoingMessage{}, err
	}
	return out, nil
}

// DecryptReceived decrypts msg. A message carrying a handshake the record
// has not seen creates a responder session; otherwise the current session
// and then archived sessions are tried in order. Any failure to open is
// ErrDecryptionFailed and leaves every session unchanged.
func (s *Service) DecryptReceived(ctx context.Context, passphrase string, msg domain.WireMessage) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	local, partner := msg.RecipientID, msg.SenderID
	open := func(sess *domain.Session) ([]byte, error) {
		return s.ratchet.Decrypt(&sess.State, partner, local, msg.Envelope)
	}

	var (
		pt       []byte
		accepted bool
	)
	err := s.registry.Update(local, partner, func(rec *domain.SessionRecord) error {
		if msg.Handshake != nil && !knowsHandshake(rec, msg.Handshake.EphemeralKey) {
			sess, p, err := s.sessions.AcceptHandshake(passphrase, local, msg, open)
			if err != nil {
				return err
			}
			accepted = true
			if keepCurrent(rec, local, partner) {
				rec.Archive(*sess, s.ArchiveLimit)
			} else {
				rec.Promote(sess, s.ArchiveLimit)
			}
			pt = p
			return nil
		}

		candidates := rec.Candidates()
		if len(candidates) == 0 {
			s.log.Debug("no session with sender", zap.String("from", partner.String()))
			return domain.ErrDecryptionFailed
		}
		for _, c := range candidates {
			p, err := open(c)
			if err == nil {
				c.PendingHandshake = nil
				pt = p
				return nil
			}
			if !errors.Is(err, domain.ErrDecryptionFailed) {
				return err
			}
		}
		return domain.ErrDecryptionFailed
	})
	if err != nil {
		if errors.Is(err, domain.ErrDecryptionFailed) {
			metrics.DecryptFailuresTotal.Inc()
			s.log.Warn("message could not be decrypted",
				zap.String("from", partner.String()),
				zap.String("message_id", msg.MessageID.String()))
		}
		return nil, err
	}
	if accepted {
		if err := s.sessions.CommitHandshake(*msg.Handshake); err != nil {
			s.log.Error("one-time pre-key not consumed", zap.Error(err))
		}
	}
	return pt, nil
}

// SendMessage encrypts plaintext for to and posts it to the relay.
func (s *Service) SendMessage(ctx context.Context, from, to domain.PartyID, plaintext []byte) (domain.OutgoingMessage, error) {
	out, err := s.EncryptForSending(ctx, plaintext, to, from)
	if err != nil {
		return domain.OutgoingMessage{}, err
	}
	if err := s.relay.SendMessage(ctx, out.Wire); err != nil {
		return domain.OutgoingMessage{}, fmt.Errorf("relay send: %w", err)
	}
	return out, nil
}

// ReceiveMessages fetches up to limit messages for me, decrypts them in
// order and acks every message that was handled. Messages the guard rejects
// or that cannot be decrypted are dropped and acked; a storage or relay
// failure stops processing and leaves the rest queued. The local guard
// records a message only after it was decrypted, so a message left queued
// is accepted on the next run.
func (s *Service) ReceiveMessages(ctx context.Context, passphrase string, me domain.PartyID, limit int) ([]domain.DecryptedMessage, error) {
	if err := s.sessions.Unlock(passphrase); err != nil {
		return nil, err
	}
	msgs, err := s.relay.FetchMessages(ctx, me, limit)
	if err != nil {
		return nil, fmt.Errorf("relay fetch: %w", err)
	}

	out := make([]domain.DecryptedMessage, 0, len(msgs))
	handled := make([]domain.MessageID, 0, len(msgs))
	var stop error

	for _, m := range msgs {
		if err := s.admit(ctx, me, m); err != nil {
			if dropped(err) {
				s.log.Info("dropping inbound message",
					zap.String("from", m.SenderID.String()),
					zap.String("message_id", m.MessageID.String()),
					zap.Error(err))
				handled = append(handled, m.MessageID)
				continue
			}
			stop = err
			break
		}

		pt, err := s.DecryptReceived(ctx, passphrase, m)
		if err != nil {
			if dropped(err) {
				handled = append(handled, m.MessageID)
				continue
			}
			stop = err
			break
		}
		out = append(out, domain.DecryptedMessage{
			MessageID: m.MessageID,
			From:      m.SenderID,
			To:        m.RecipientID,
			Plaintext: pt,
			Timestamp: m.Timestamp,
		})
		handled = append(handled, m.MessageID)

		if err := s.record(ctx, m); err != nil && !dropped(err) {
			stop = err
			break
		}
	}

	if len(handled) > 0 {
		if err := s.relay.AckMessages(ctx, me, handled); err != nil {
			return out, errors.Join(stop, fmt.Errorf("ack %d messages: %w", len(handled), err))
		}
	}
	if s.guard != nil {
		if _, err := s.guard.Purge(ctx); err != nil {
			s.log.Warn("local guard purge failed", zap.Error(err))
		}
	}
	return out, stop
}

// admit checks m against the local guard without recording it.
func (s *Service) admit(ctx context.Context, me domain.PartyID, m domain.WireMessage) error {
	if m.RecipientID != me {
		return domain.NewError(domain.CodeInvalidInput, "message addressed to another party")
	}
	if err := wire.Validate(m); err != nil {
		return err
	}
	if s.guard == nil {
		return nil
	}
	return s.guard.Check(ctx, wire.Request(m))
}

// record stores the nonce and sequence of a decrypted message in the local
// guard.
func (s *Service) record(ctx context.Context, m domain.WireMessage) error {
	if s.guard == nil {
		return nil
	}
	_, err := s.guard.ValidateIncoming(ctx, wire.Request(m))
	return err
}

// dropped reports whether err condemns the message itself rather than the
// infrastructure, so it must not be retried.
func dropped(err error) bool {
	for _, target := range []error{
		domain.ErrDecryptionFailed,
		domain.ErrHandshakeAuth,
		domain.ErrReplayRejected,
		domain.ErrSequenceRejected,
		domain.ErrClockSkewRejected,
		domain.ErrInvalidInput,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func knowsHandshake(rec *domain.SessionRecord, eph domain.X25519Public) bool {
	for _, c := range rec.Candidates() {
		if c.HandshakeKey.Equal(eph) {
			return true
		}
	}
	return false
}

// keepCurrent settles simultaneous initiation: when both sides started a
// session and neither has replied, the session initiated by the smaller
// party ID wins on both ends.
func keepCurrent(rec *domain.SessionRecord, local, partner domain.PartyID) bool {
	cur := rec.Current
	return cur != nil && cur.State.IsInitiator && cur.PendingHandshake != nil && local < partner
}

// Compile-time assertion that Service implements domain.MessageService.
var _ domain.MessageService = (*Service)(nil)

// Package mailbox is the relay's token-gated store-and-forward queue.
//
// Nothing reaches a recipient's queue unless the guard admitted the message
// and the matching delivery token was redeemed, so a replayed or reordered
// delivery attempt can never be persisted twice.
package mailbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"duet/internal/domain"
	"duet/internal/guard"
	"duet/internal/logging"
	"duet/internal/metrics"
	"duet/internal/wire"
)

// DefaultFetchLimit caps a Fetch without an explicit limit.
const DefaultFetchLimit = 100

// Mailbox combines a guard with a message queue.
type Mailbox struct {
	guard *guard.Guard
	queue domain.MessageQueue
	log   *zap.Logger
}

// New returns a Mailbox.
func New(g *guard.Guard, q domain.MessageQueue, log *zap.Logger) *Mailbox {
	return &Mailbox{guard: g, queue: q, log: logging.OrNop(log)}
}

// Deliver validates msg with the guard and persists it with the token it
// was issued.
func (m *Mailbox) Deliver(ctx context.Context, msg domain.WireMessage) (domain.DeliveryToken, error) {
	if err := wire.Validate(msg); err != nil {
		return domain.DeliveryToken{}, err
	}
	tok, err := m.guard.ValidateIncoming(ctx, wire.Request(msg))
	if err != nil {
		return domain.DeliveryToken{}, err
	}
	if err := m.Persist(ctx, tok.Token, msg); err != nil {
		return domain.DeliveryToken{}, err
	}
	return tok, nil
}

// Persist redeems token for msg and enqueues it. A missing, used, expired or
// mismatched token is ErrTokenRejected.
func (m *Mailbox) Persist(ctx context.Context, token string, msg domain.WireMessage) error {
	if _, err := m.guard.Redeem(ctx, token, wire.Request(msg)); err != nil {
		return err
	}
	if err := m.queue.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	metrics.MailboxMessagesTotal.WithLabelValues("stored").Inc()
	m.log.Debug("message queued",
		zap.String("recipient", msg.RecipientID.String()),
		zap.String("message_id", msg.MessageID.String()))
	return nil
}

// Fetch returns up to limit queued messages for recipient in arrival order.
func (m *Mailbox) Fetch(ctx context.Context, recipient domain.PartyID, limit int) ([]domain.WireMessage, error) {
	if limit <= 0 || limit > DefaultFetchLimit {
		limit = DefaultFetchLimit
	}
	queued, err := m.queue.Fetch(ctx, recipient, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	out := make([]domain.WireMessage, 0, len(queued))
	for _, q := range queued {
		out = append(out, q.Message)
	}
	metrics.MailboxMessagesTotal.WithLabelValues("fetched").Add(float64(len(out)))
	return out, nil
}

// Ack removes delivered messages and returns how many were removed.
func (m *Mailbox) Ack(ctx context.Context, recipient domain.PartyID, ids []domain.MessageID) (int, error) {
	n, err := m.queue.Ack(ctx, recipient, ids)
	if err != nil {
		return 0, fmt.Errorf("ack: %w", err)
	}
	metrics.MailboxMessagesTotal.WithLabelValues("acked").Add(float64(n))
	return n, nil
}

package interfaces

import (
	"context"
	"time"

	domaintypes "duet/internal/domain/types"
)

// PreKeyDirectory is the shared store of published identities and pre-keys.
type PreKeyDirectory interface {
	PublishIdentity(ctx context.Context, keys domaintypes.PublishedKeys) error
	// FetchBundle claims at most one one-time pre-key; the claim, delete and
	// count decrement happen as one unit.
	FetchBundle(ctx context.Context, party domaintypes.PartyID) (domaintypes.PreKeyBundle, error)
	CountOneTimePreKeys(ctx context.Context, party domaintypes.PartyID) (int, error)
}

// GuardStore is the transactional store behind the replay guard.
//
// Admit reads the conversation state, runs check on it and, when check
// returns nil, records the sequence, the nonce and the delivery token, all in
// one transaction. RedeemToken deletes the token only if check accepts it.
type GuardStore interface {
	Admit(ctx context.Context, a domaintypes.Admission, check func(domaintypes.ConversationState) error) error
	RedeemToken(ctx context.Context, token string, check func(domaintypes.DeliveryToken) error) (domaintypes.DeliveryToken, error)
	Purge(ctx context.Context, now time.Time) (int, error)
}

// MessageQueue is the per-recipient mailbox.
type MessageQueue interface {
	Enqueue(ctx context.Context, msg domaintypes.WireMessage) error
	Fetch(ctx context.Context, recipient domaintypes.PartyID, limit int) ([]domaintypes.QueuedMessage, error)
	Ack(ctx context.Context, recipient domaintypes.PartyID, ids []domaintypes.MessageID) (int, error)
}

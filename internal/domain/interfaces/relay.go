package interfaces

import (
	"context"

	domaintypes "duet/internal/domain/types"
)

// RelayClient is how we talk to the relay server, all with context.
type RelayClient interface {
	PublishKeys(ctx context.Context, keys domaintypes.PublishedKeys) error
	FetchPreKeyBundle(ctx context.Context, party domaintypes.PartyID) (domaintypes.PreKeyBundle, error)
	CountOneTimePreKeys(ctx context.Context, party domaintypes.PartyID) (int, error)

	SendMessage(ctx context.Context, msg domaintypes.WireMessage) error
	FetchMessages(ctx context.Context, party domaintypes.PartyID, limit int) ([]domaintypes.WireMessage, error)
	AckMessages(ctx context.Context, party domaintypes.PartyID, ids []domaintypes.MessageID) error
}

package relay

import (
	"context"

	"duet/internal/domain"
	"duet/internal/mailbox"
)

// Local is an in-process RelayClient over a directory and a mailbox. It
// behaves like HTTPClient against a Server built from the same parts, minus
// the HTTP round trip.
type Local struct {
	directory domain.PreKeyDirectory
	mailbox   *mailbox.Mailbox
}

// NewLocal returns a Local relay.
func NewLocal(dir domain.PreKeyDirectory, mb *mailbox.Mailbox) *Local {
	return &Local{directory: dir, mailbox: mb}
}

func (l *Local) PublishKeys(ctx context.Context, keys domain.PublishedKeys) error {
	return l.directory.PublishIdentity(ctx, keys)
}

func (l *Local) FetchPreKeyBundle(ctx context.Context, party domain.PartyID) (domain.PreKeyBundle, error) {
	return l.directory.FetchBundle(ctx, party)
}

func (l *Local) CountOneTimePreKeys(ctx context.Context, party domain.PartyID) (int, error) {
	return l.directory.CountOneTimePreKeys(ctx, party)
}

func (l *Local) SendMessage(ctx context.Context, msg domain.WireMessage) error {
	_, err := l.mailbox.Deliver(ctx, msg)
	return err
}

func (l *Local) FetchMessages(ctx context.Context, party domain.PartyID, limit int) ([]domain.WireMessage, error) {
	return l.mailbox.Fetch(ctx, party, limit)
}

func (l *Local) AckMessages(ctx context.Context, party domain.PartyID, ids []domain.MessageID) error {
	_, err := l.mailbox.Ack(ctx, party, ids)
	return err
}

var _ domain.RelayClient = (*Local)(nil)

// Package servicetest builds complete devices around an in-process relay
// for service tests.
package servicetest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"duet/internal/domain"
	"duet/internal/guard"
	"duet/internal/mailbox"
	"duet/internal/protocol/ratchet"
	"duet/internal/relay"
	"duet/internal/services/identity"
	"duet/internal/services/message"
	"duet/internal/services/prekey"
	"duet/internal/services/session"
	"duet/internal/storage/boltdb"
	"duet/internal/storage/memory"
	"duet/internal/store"
)

// Passphrase protects every test device.
const Passphrase = "Correct-Horse-9"

// Network is a relay shared by test devices.
type Network struct {
	Store *memory.Store
	Relay *relay.Local
}

// NewNetwork returns a relay over an in-memory store.
func NewNetwork(t *testing.T) *Network {
	t.Helper()
	s := memory.New()
	g := guard.New(s, guard.DefaultConfig(), nil)
	return &Network{Store: s, Relay: relay.NewLocal(s, mailbox.New(g, s, nil))}
}

// Device is one party with its own home directory.
type Device struct {
	Party  domain.PartyID
	Phrase string
	Home   string

	Identities  *store.IdentityFileStore
	PreKeyStore *store.PrekeyFileStore
	Partners    *store.PartnerFileStore

	Identity *identity.Service
	PreKeys  *prekey.Service
	Sessions *session.Service
	Messages *message.Service
	Guard    *guard.Guard
	Ratchet  *ratchet.Ratchet

	net *Network
}

// Device creates party with opks one-time pre-keys and publishes its keys.
func (n *Network) Device(t *testing.T, party string, opks int) *Device {
	t.Helper()
	home := t.TempDir()
	d := &Device{
		Party:       domain.PartyID(party),
		Home:        home,
		Identities:  store.NewIdentityFileStore(home),
		PreKeyStore: store.NewPrekeyFileStore(home),
		Partners:    store.NewPartnerFileStore(home),
		net:         n,
	}

	phrase, err := identity.NewRecoveryPhrase()
	require.NoError(t, err)
	d.Phrase = phrase

	d.Identity = identity.New(d.Identities, nil)
	_, _, err = d.Identity.GenerateIdentity(Passphrase, phrase)
	require.NoError(t, err)

	d.PreKeys = prekey.New(d.Identities, d.PreKeyStore, prekey.DefaultConfig(), nil)
	_, _, err = d.PreKeys.GenerateAndStorePreKeys(Passphrase, opks)
	require.NoError(t, err)

	db, err := boltdb.Open(filepath.Join(home, "guard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	gcfg := guard.DefaultConfig()
	gcfg.MaxMessageAge = 30 * 24 * time.Hour
	d.Guard = guard.New(db, gcfg, nil)

	d.Ratchet = ratchet.New(ratchet.DefaultConfig())
	registry := session.NewRegistry(store.NewSessionFileStore(home))
	d.Sessions = session.New(d.Identities, d.PreKeyStore, d.Partners, registry, n.Relay, d.Ratchet, nil)
	d.Messages = message.New(registry, d.Sessions, d.Ratchet, n.Relay, d.Guard, nil)

	d.Publish(t, false)
	return d
}

// Publish uploads the device's current keys and one-time pool.
func (d *Device) Publish(t *testing.T, replace bool) {
	t.Helper()
	keys, err := d.PreKeys.PublishedKeys(Passphrase, d.Party)
	require.NoError(t, err)
	keys.ReplaceIdentity = replace
	require.NoError(t, d.net.Relay.PublishKeys(context.Background(), keys))
}

// RotateIdentity moves the device to its next identity version and replaces
// it at the relay with two fresh one-time pre-keys.
func (d *Device) RotateIdentity(t *testing.T) {
	t.Helper()
	_, _, err := d.Identity.RotateIdentity(Passphrase, d.Phrase)
	require.NoError(t, err)
	_, err = d.PreKeys.RotateSignedPreKey(Passphrase)
	require.NoError(t, err)
	keys, err := d.PreKeys.PublishedKeys(Passphrase, d.Party)
	require.NoError(t, err)
	keys.OneTimePreKeys, err = d.PreKeys.ReplenishOneTimePreKeys(0, 2)
	require.NoError(t, err)
	keys.ReplaceIdentity = true
	require.NoError(t, d.net.Relay.PublishKeys(context.Background(), keys))
}

// Start begins a session with partner.
func (d *Device) Start(t *testing.T, partner *Device) domain.Session {
	t.Helper()
	s, err := d.Sessions.StartSession(context.Background(), Passphrase, d.Party, partner.Party, domain.StartOptions{})
	require.NoError(t, err)
	return s
}

// Send posts text to partner through the relay.
func (d *Device) Send(t *testing.T, partner *Device, text string) domain.OutgoingMessage {
	t.Helper()
	out, err := d.Messages.SendMessage(context.Background(), d.Party, partner.Party, []byte(text))
	require.NoError(t, err)
	return out
}

// Receive fetches and decrypts everything queued for the device and
// returns the plaintexts in order.
func (d *Device) Receive(t *testing.T) []string {
	t.Helper()
	msgs, err := d.Messages.ReceiveMessages(context.Background(), Passphrase, d.Party, 0)
	require.NoError(t, err)
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, string(m.Plaintext))
	}
	return out
}

// Encrypt encrypts text for partner without sending it.
func (d *Device) Encrypt(t *testing.T, partner *Device, text string) domain.WireMessage {
	t.Helper()
	out, err := d.Messages.EncryptForSending(context.Background(), []byte(text), partner.Party, d.Party)
	require.NoError(t, err)
	return out.Wire
}

// Record returns the session record the device holds for partner.
func (d *Device) Record(t *testing.T, partner *Device) domain.SessionRecord {
	t.Helper()
	rec, _, err := d.Sessions.GetSession(d.Party, partner.Party)
	require.NoError(t, err)
	return rec
}

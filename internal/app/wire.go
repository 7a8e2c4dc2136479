package app

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"duet/internal/domain"
	"duet/internal/guard"
	"duet/internal/logging"
	"duet/internal/protocol/ratchet"
	"duet/internal/relay"
	identitysvc "duet/internal/services/identity"
	messagesvc "duet/internal/services/message"
	prekeysvc "duet/internal/services/prekey"
	sessionsvc "duet/internal/services/session"
	"duet/internal/storage/boltdb"
	"duet/internal/store"
)

// GuardFile is the device guard database under Home.
const GuardFile = "guard.db"

// Wire bundles the stores, services and clients of one device.
type Wire struct {
	Config *Config
	Log    *zap.Logger

	IdentityStore domain.IdentityStore
	PreKeyStore   domain.PreKeyStore
	Partners      domain.PartnerStore
	Profiles      domain.ProfileStore

	Identity *identitysvc.Service
	PreKeys  *prekeysvc.Service
	Sessions *sessionsvc.Service
	Messages *messagesvc.Service
	Relay    domain.RelayClient
	// RelayURL is remembered in the profile on register.
	RelayURL string

	guardDB *boltdb.DB
}

// NewWire builds a device talking to the relay at relayURL. An empty
// relayURL uses cfg.Client.RelayURL.
func NewWire(cfg *Config, relayURL string, log *zap.Logger) (*Wire, error) {
	if relayURL == "" {
		relayURL = cfg.Client.RelayURL
	}
	w, err := NewWireWithRelay(cfg, relay.NewHTTPClient(relayURL), log)
	if err != nil {
		return nil, err
	}
	w.RelayURL = relayURL
	return w, nil
}

// NewWireWithRelay builds a device over an existing relay client.
func NewWireWithRelay(cfg *Config, rc domain.RelayClient, log *zap.Logger) (*Wire, error) {
	log = logging.OrNop(log)
	home := cfg.Client.Home
	if err := os.MkdirAll(home, 0o700); err != nil {
		return nil, fmt.Errorf("create home %s: %w", home, err)
	}

	ids := store.NewIdentityFileStore(home)
	pks := store.NewPrekeyFileStore(home)
	partners := store.NewPartnerFileStore(home)
	profiles := store.NewProfileFileStore(home)
	registry := sessionsvc.NewRegistry(store.NewSessionFileStore(home))

	db, err := boltdb.Open(filepath.Join(home, GuardFile))
	if err != nil {
		return nil, err
	}
	localGuard := guard.New(db, cfg.LocalGuardConfig(), log.Named("guard"))

	r := ratchet.New(cfg.RatchetConfig())
	sessions := sessionsvc.New(ids, pks, partners, registry, rc, r, log.Named("session"))
	messages := messagesvc.New(registry, sessions, r, rc, localGuard, log.Named("message"))

	return &Wire{
		Config:        cfg,
		Log:           log,
		IdentityStore: ids,
		PreKeyStore:   pks,
		Partners:      partners,
		Profiles:      profiles,
		Identity:      identitysvc.New(ids, log.Named("identity")),
		PreKeys:       prekeysvc.New(ids, pks, cfg.PreKeyConfig(), log.Named("prekey")),
		Sessions:      sessions,
		Messages:      messages,
		Relay:         rc,
		RelayURL:      cfg.Client.RelayURL,
		guardDB:       db,
	}, nil
}

// Close releases the device guard database.
func (w *Wire) Close() error {
	return w.guardDB.Close()
}

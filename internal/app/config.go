package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"duet/internal/guard"
	"duet/internal/logging"
	"duet/internal/protocol/ratchet"
	"duet/internal/services/prekey"
	"duet/internal/storage/postgres"
	"duet/internal/storage/redisdb"
)

const (
	// DefaultRelayURL is where a client looks for a relay without config.
	DefaultRelayURL = "http://127.0.0.1:8080"
	// DefaultListen is the relay listen address.
	DefaultListen = ":8080"
	// DefaultReplayWindow is how long a device remembers message IDs and
	// tolerates late delivery.
	DefaultReplayWindow = 30 * 24 * time.Hour
	// DefaultPurgeInterval is how often the relay drops expired guard records.
	DefaultPurgeInterval = 5 * time.Minute
	// DefaultOneTimePreKeys is the pool size a client keeps published.
	DefaultOneTimePreKeys = 100
	// DefaultLowWatermark triggers a replenish.
	DefaultLowWatermark = 20
	// DefaultFetchLimit caps one recv round.
	DefaultFetchLimit = 100
)

// Relay storage backends.
const (
	BackendMemory   = "memory"
	BackendBolt     = "bolt"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Duration is a time.Duration written as "5m" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText writes the Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Client is the device configuration.
type Client struct {
	// Home holds keys, sessions and the local guard database.
	Home     string
	RelayURL string
	// ReplayWindow bounds the local guard: message IDs are remembered and
	// messages accepted for this long.
	ReplayWindow Duration
	FetchLimit   int
}

// Ratchet bounds the skipped-key cache.
type Ratchet struct {
	MaxSkip        int
	MaxSkippedKeys int
	SkippedKeyTTL  Duration
}

// Guard holds the relay guard windows.
type Guard struct {
	MaxMessageAge  Duration
	MaxClockSkew   Duration
	MaxSequenceGap uint64
	TokenTTL       Duration
	PurgeInterval  Duration
}

// PreKeys controls pre-key lifetimes and the one-time pool.
type PreKeys struct {
	SignedPreKeyTTL Duration
	Grace           Duration
	OneTimePreKeys  int
	LowWatermark    int
}

// Relay is the relay server configuration.
type Relay struct {
	Listen string
	// Backend is one of memory, bolt, redis or postgres.
	Backend string
	// BoltPath is the database file of the bolt backend. With the redis and
	// postgres backends it holds the mailbox; when empty the mailbox lives
	// in memory.
	BoltPath string
	Redis    redisdb.Config
	Postgres postgres.Config
}

// Config is the top-level configuration of both binaries.
type Config struct {
	Client  Client
	Ratchet Ratchet
	Guard   Guard
	PreKeys PreKeys
	Relay   Relay
	Logging logging.Config
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := new(Config)
	_ = cfg.FixupAndValidate()
	return cfg
}

// Load parses and validates a TOML configuration.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)
	if _, err := toml.Decode(string(b), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads the configuration at path.
func LoadFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Load(b)
}

// FixupAndValidate applies defaults to unset fields and rejects invalid
// values.
func (c *Config) FixupAndValidate() error {
	if c.Client.Home == "" {
		if dir, err := os.UserHomeDir(); err == nil {
			c.Client.Home = filepath.Join(dir, ".duet")
		}
	}
	if c.Client.RelayURL == "" {
		c.Client.RelayURL = DefaultRelayURL
	}
	c.Client.RelayURL = strings.TrimRight(c.Client.RelayURL, "/")
	if c.Client.ReplayWindow.Duration <= 0 {
		c.Client.ReplayWindow.Duration = DefaultReplayWindow
	}
	if c.Client.FetchLimit <= 0 {
		c.Client.FetchLimit = DefaultFetchLimit
	}

	rd := ratchet.DefaultConfig()
	if c.Ratchet.MaxSkip <= 0 {
		c.Ratchet.MaxSkip = rd.MaxSkip
	}
	if c.Ratchet.MaxSkippedKeys <= 0 {
		c.Ratchet.MaxSkippedKeys = rd.MaxSkippedKeys
	}
	if c.Ratchet.SkippedKeyTTL.Duration == 0 {
		c.Ratchet.SkippedKeyTTL.Duration = rd.SkippedKeyTTL
	}
	if err := c.RatchetConfig().Validate(); err != nil {
		return fmt.Errorf("config: Ratchet: %w", err)
	}

	gd := guard.DefaultConfig()
	if c.Guard.MaxMessageAge.Duration <= 0 {
		c.Guard.MaxMessageAge.Duration = gd.MaxMessageAge
	}
	if c.Guard.MaxClockSkew.Duration <= 0 {
		c.Guard.MaxClockSkew.Duration = gd.MaxClockSkew
	}
	if c.Guard.MaxSequenceGap == 0 {
		c.Guard.MaxSequenceGap = gd.MaxSequenceGap
	}
	if c.Guard.TokenTTL.Duration <= 0 {
		c.Guard.TokenTTL.Duration = gd.TokenTTL
	}
	if c.Guard.PurgeInterval.Duration <= 0 {
		c.Guard.PurgeInterval.Duration = DefaultPurgeInterval
	}

	pd := prekey.DefaultConfig()
	if c.PreKeys.SignedPreKeyTTL.Duration <= 0 {
		c.PreKeys.SignedPreKeyTTL.Duration = pd.SignedPreKeyTTL
	}
	if c.PreKeys.Grace.Duration < 0 {
		return errors.New("config: PreKeys: Grace must not be negative")
	}
	if c.PreKeys.Grace.Duration == 0 {
		c.PreKeys.Grace.Duration = pd.Grace
	}
	if c.PreKeys.OneTimePreKeys <= 0 {
		c.PreKeys.OneTimePreKeys = DefaultOneTimePreKeys
	}
	if c.PreKeys.LowWatermark <= 0 {
		c.PreKeys.LowWatermark = DefaultLowWatermark
	}
	if c.PreKeys.LowWatermark > c.PreKeys.OneTimePreKeys {
		return fmt.Errorf("config: PreKeys: LowWatermark %d exceeds OneTimePreKeys %d",
			c.PreKeys.LowWatermark, c.PreKeys.OneTimePreKeys)
	}

	if c.Relay.Listen == "" {
		c.Relay.Listen = DefaultListen
	}
	if c.Relay.Backend == "" {
		c.Relay.Backend = BackendMemory
	}
	switch c.Relay.Backend {
	case BackendMemory:
	case BackendBolt:
		if c.Relay.BoltPath == "" {
			return errors.New("config: Relay: BoltPath is required for the bolt backend")
		}
	case BackendRedis:
		if c.Relay.Redis.Addr == "" {
			return errors.New("config: Relay: Redis.Addr is required for the redis backend")
		}
	case BackendPostgres:
		if c.Relay.Postgres.DSN == "" {
			return errors.New("config: Relay: Postgres.DSN is required for the postgres backend")
		}
	default:
		return fmt.Errorf("config: Relay: unknown backend %q", c.Relay.Backend)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	return nil
}

// RatchetConfig returns the ratchet bounds.
func (c *Config) RatchetConfig() ratchet.Config {
	return ratchet.Config{
		MaxSkip:        c.Ratchet.MaxSkip,
		MaxSkippedKeys: c.Ratchet.MaxSkippedKeys,
		SkippedKeyTTL:  c.Ratchet.SkippedKeyTTL.Duration,
	}
}

// RelayGuardConfig returns the windows the relay guard enforces.
func (c *Config) RelayGuardConfig() guard.Config {
	return guard.Config{
		MaxMessageAge:  c.Guard.MaxMessageAge.Duration,
		MaxClockSkew:   c.Guard.MaxClockSkew.Duration,
		MaxSequenceGap: c.Guard.MaxSequenceGap,
		TokenTTL:       c.Guard.TokenTTL.Duration,
	}
}

// LocalGuardConfig returns the windows of the device guard. Messages may sit
// in the mailbox, so the age window is the replay window rather than the
// relay's.
func (c *Config) LocalGuardConfig() guard.Config {
	g := c.RelayGuardConfig()
	g.MaxMessageAge = c.Client.ReplayWindow.Duration
	return g
}

// PreKeyConfig returns the pre-key lifetimes.
func (c *Config) PreKeyConfig() prekey.Config {
	return prekey.Config{
		SignedPreKeyTTL: c.PreKeys.SignedPreKeyTTL.Duration,
		Grace:           c.PreKeys.Grace.Duration,
	}
}

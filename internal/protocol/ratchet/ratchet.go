package ratchet

import (
	"errors"
	"fmt"
	"time"

	"duet/internal/crypto"
	"duet/internal/domain"
	"duet/internal/protocol/framing"
	"duet/internal/util/memzero"
)

// Config bounds the skipped-key cache.
type Config struct {
	// MaxSkip is the largest number of keys a single message may skip.
	MaxSkip int
	// MaxSkippedKeys caps the total number of cached skipped keys.
	MaxSkippedKeys int
	// SkippedKeyTTL is how long a skipped key is kept. Zero keeps keys forever.
	SkippedKeyTTL time.Duration
}

// DefaultConfig returns the default bounds.
func DefaultConfig() Config {
	return Config{
		MaxSkip:        1000,
		MaxSkippedKeys: 2000,
		SkippedKeyTTL:  7 * 24 * time.Hour,
	}
}

// Validate reports a config that would let the cache grow without bound.
func (c Config) Validate() error {
	if c.MaxSkip <= 0 {
		return fmt.Errorf("ratchet: MaxSkip must be positive, got %d", c.MaxSkip)
	}
	if c.MaxSkippedKeys < c.MaxSkip {
		return fmt.Errorf("ratchet: MaxSkippedKeys (%d) below MaxSkip (%d)", c.MaxSkippedKeys, c.MaxSkip)
	}
	if c.SkippedKeyTTL < 0 {
		return errors.New("ratchet: SkippedKeyTTL must not be negative")
	}
	return nil
}

var errNoPeerRatchetKey = errors.New("ratchet: partner ratchet key unknown")

// Ratchet runs the Double Ratchet over a domain.RatchetState.
type Ratchet struct {
	cfg Config
	// Now is the clock used for skipped-key timestamps.
	Now func() time.Time
}

// New returns a Ratchet with the given bounds.
func New(cfg Config) *Ratchet {
	return &Ratchet{cfg: cfg, Now: time.Now}
}

// Config returns the bounds r enforces.
func (r *Ratchet) Config() Config { return r.cfg }

func (r *Ratchet) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

// InitAsInitiator creates the initiator state: a fresh ratchet key pair and
// one DH step against theirRatchetKey (the responder's signed pre-key) give
// the first sending chain.
func (r *Ratchet) InitAsInitiator(root, ad []byte, theirRatchetKey domain.X25519Public) (*domain.RatchetState, error) {
	st := &domain.RatchetState{
		RootKey:         append([]byte(nil), root...),
		TheirRatchetPub: theirRatchetKey,
		IsInitiator:     true,
		AssociatedData:  append([]byte(nil), ad...),
	}
	if err := sendingStep(st); err != nil {
		return nil, err
	}
	return st, nil
}

// InitAsResponder creates the responder state. The receiving chain is seeded
// from the handshake chain key and our ratchet key pair is the signed
// pre-key pair; no new pair is generated until the first inbound message.
func (r *Ratchet) InitAsResponder(root, chainKey, ad []byte, spk domain.SignedPreKeyPair) *domain.RatchetState {
	return &domain.RatchetState{
		RootKey:        append([]byte(nil), root...),
		OurRatchetPriv: spk.Priv,
		OurRatchetPub:  spk.Pub,
		Receiving:      &domain.ChainState{Key: append([]byte(nil), chainKey...)},
		AssociatedData: append([]byte(nil), ad...),
	}
}

// Encrypt seals plaintext for recipient and advances the sending chain. A
// sending DH step runs first if the last inbound message dropped the chain.
func (r *Ratchet) Encrypt(
	st *domain.RatchetState,
	sender, recipient domain.PartyID,
	plaintext []byte,
) (domain.EncryptedMessage, error) {
	work := st.Clone()
	if work.Sending == nil {
		if err := sendingStep(work); err != nil {
			return domain.EncryptedMessage{}, err
		}
	}

	msg := domain.EncryptedMessage{
		RatchetKey:          work.Sending.RatchetKey,
		PreviousChainLength: work.PreviousSendingLength,
		MessageIndex:        work.Sending.Index,
	}
	mk, err := step(work.Sending)
	if err != nil {
		return domain.EncryptedMessage{}, err
	}
	defer memzero.Zero(mk)

	ad := framing.AssociatedData(work.AssociatedData, sender, recipient, msg.RatchetKey, msg.PreviousChainLength, msg.MessageIndex)
	msg.Ciphertext, err = framing.Seal(mk, ad, plaintext)
	if err != nil {
		return domain.EncryptedMessage{}, err
	}
	commit(st, work)
	return msg, nil
}

// Decrypt opens msg from sender. The state is only changed when the message
// authenticates; expired skipped keys are purged regardless.
func (r *Ratchet) Decrypt(
	st *domain.RatchetState,
	sender, recipient domain.PartyID,
	msg domain.EncryptedMessage,
) ([]byte, error) {
	now := r.now()
	purgeSkipped(st, r.cfg.SkippedKeyTTL, now)

	work := st.Clone()
	ad := framing.AssociatedData(work.AssociatedData, sender, recipient, msg.RatchetKey, msg.PreviousChainLength, msg.MessageIndex)

	if mk, ok := takeSkipped(work, msg.RatchetKey, msg.MessageIndex); ok {
		pt, err := framing.Open(mk, ad, msg.Ciphertext)
		memzero.Zero(mk)
		if err != nil {
			wipe(work)
			return nil, domain.ErrDecryptionFailed
		}
		commit(st, work)
		return pt, nil
	}

	newChain := work.Receiving == nil || !work.Receiving.RatchetKey.Equal(msg.RatchetKey)
	if err := r.checkSkip(work, msg, newChain); err != nil {
		wipe(work)
		return nil, err
	}

	if newChain {
		if err := receivingStep(work, msg, now); err != nil {
			wipe(work)
			return nil, domain.ErrDecryptionFailed
		}
	}
	if err := skipTo(work, work.Receiving, msg.MessageIndex, now); err != nil {
		wipe(work)
		return nil, err
	}
	mk, err := step(work.Receiving)
	if err != nil {
		wipe(work)
		return nil, err
	}
	pt, err := framing.Open(mk, ad, msg.Ciphertext)
	memzero.Zero(mk)
	if err != nil {
		wipe(work)
		return nil, domain.ErrDecryptionFailed
	}
	commit(st, work)
	return pt, nil
}

// checkSkip enforces the skip bounds before anything is derived.
func (r *Ratchet) checkSkip(st *domain.RatchetState, msg domain.EncryptedMessage, newChain bool) error {
	var oldSkip, newSkip uint64
	if newChain {
		if st.Receiving != nil && msg.PreviousChainLength > st.Receiving.Index {
			oldSkip = uint64(msg.PreviousChainLength - st.Receiving.Index)
		}
		newSkip = uint64(msg.MessageIndex)
	} else {
		if msg.MessageIndex < st.Receiving.Index {
			// Already consumed and not cached.
			return domain.ErrDecryptionFailed
		}
		newSkip = uint64(msg.MessageIndex - st.Receiving.Index)
	}

	limit := uint64(r.cfg.MaxSkip)
	if oldSkip > limit || newSkip > limit {
		return domain.ErrSkippedKeyLimit
	}
	if uint64(len(st.Skipped))+oldSkip+newSkip > uint64(r.cfg.MaxSkippedKeys) {
		return domain.ErrSkippedKeyLimit
	}
	return nil
}

// receivingStep caches the rest of the old receiving chain, derives the new
// receiving chain for msg.RatchetKey and drops the sending chain.
func receivingStep(st *domain.RatchetState, msg domain.EncryptedMessage, now time.Time) error {
	if st.Receiving != nil {
		if err := skipTo(st, st.Receiving, msg.PreviousChainLength, now); err != nil {
			return err
		}
		memzero.Zero(st.Receiving.Key)
	}
	dh, err := crypto.DH(st.OurRatchetPriv, msg.RatchetKey)
	if err != nil {
		return err
	}
	rk, ck, err := kdfRK(st.RootKey, dh)
	if err != nil {
		return err
	}
	memzero.Zero(st.RootKey)
	st.RootKey = rk
	st.Receiving = &domain.ChainState{Key: ck, RatchetKey: msg.RatchetKey}
	st.TheirRatchetPub = msg.RatchetKey
	if st.Sending != nil {
		st.PreviousSendingLength = st.Sending.Index
		memzero.Zero(st.Sending.Key)
		st.Sending = nil
	}
	return nil
}

// sendingStep generates a new ratchet key pair and derives a sending chain
// against the partner's current ratchet key.
func sendingStep(st *domain.RatchetState) error {
	if st.TheirRatchetPub.IsZero() {
		return errNoPeerRatchetKey
	}
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return err
	}
	dh, err := crypto.DH(priv, st.TheirRatchetPub)
	if err != nil {
		return err
	}
	rk, ck, err := kdfRK(st.RootKey, dh)
	if err != nil {
		return err
	}
	memzero.Zero(st.RootKey)
	memzero.Zero(st.OurRatchetPriv[:])
	st.RootKey = rk
	st.OurRatchetPriv, st.OurRatchetPub = priv, pub
	st.Sending = &domain.ChainState{Key: ck, RatchetKey: pub}
	return nil
}

// commit replaces st with work and wipes the superseded secrets.
func commit(st, work *domain.RatchetState) {
	old := *st
	*st = *work
	wipe(&old)
}

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"duet/internal/domain"
)

// ErrNoProfile is returned when no party was given and none was registered.
var ErrNoProfile = errors.New("no party registered on this device; run register or pass --party")

// Party resolves the local party: override when set, else the registered
// profile.
func (w *Wire) Party(override string) (domain.PartyID, error) {
	if override != "" {
		return domain.PartyID(override), nil
	}
	p, ok, err := w.Profiles.LoadProfile()
	if err != nil {
		return "", err
	}
	if !ok || p.PartyID == "" {
		return "", ErrNoProfile
	}
	return p.PartyID, nil
}

// Register publishes the device keys as party and remembers the profile.
// Pre-keys are generated on first use. The one-time pool is uploaded only
// when the relay does not know party yet, so keys that were already claimed
// are never offered twice.
func (w *Wire) Register(ctx context.Context, passphrase string, party domain.PartyID) (domain.PublishedKeys, error) {
	if _, ok, err := w.PreKeyStore.CurrentSignedPreKeyID(); err != nil {
		return domain.PublishedKeys{}, err
	} else if !ok {
		if _, _, err := w.PreKeys.GenerateAndStorePreKeys(passphrase, w.Config.PreKeys.OneTimePreKeys); err != nil {
			return domain.PublishedKeys{}, err
		}
	}

	keys, err := w.PreKeys.PublishedKeys(passphrase, party)
	if err != nil {
		return domain.PublishedKeys{}, err
	}
	_, err = w.Relay.CountOneTimePreKeys(ctx, party)
	switch {
	case err == nil:
		keys.OneTimePreKeys = nil
	case !errors.Is(err, domain.ErrNotFound):
		return domain.PublishedKeys{}, fmt.Errorf("query relay: %w", err)
	}

	if err := w.Relay.PublishKeys(ctx, keys); err != nil {
		return domain.PublishedKeys{}, fmt.Errorf("publish keys: %w", err)
	}
	if err := w.saveProfile(party); err != nil {
		return domain.PublishedKeys{}, err
	}
	w.Log.Info("registered",
		zap.String("party", party.String()),
		zap.Int("one_time_pre_keys", len(keys.OneTimePreKeys)))
	return keys, nil
}

// RotatePreKeys replaces the signed pre-key, prunes superseded ones past
// their grace period and publishes the new key.
func (w *Wire) RotatePreKeys(ctx context.Context, passphrase string, party domain.PartyID) (domain.SignedPreKeyPublic, int, error) {
	spk, err := w.PreKeys.RotateSignedPreKey(passphrase)
	if err != nil {
		return domain.SignedPreKeyPublic{}, 0, err
	}
	pruned, err := w.PreKeys.PruneSignedPreKeys(time.Now())
	if err != nil {
		return domain.SignedPreKeyPublic{}, 0, err
	}
	keys, err := w.PreKeys.PublishedKeys(passphrase, party)
	if err != nil {
		return domain.SignedPreKeyPublic{}, 0, err
	}
	keys.OneTimePreKeys = nil
	if err := w.Relay.PublishKeys(ctx, keys); err != nil {
		return domain.SignedPreKeyPublic{}, 0, fmt.Errorf("publish keys: %w", err)
	}
	return spk, pruned, nil
}

// RotateIdentity moves to the next identity version, re-signs the pre-keys
// and replaces the identity at the relay. The relay drops the old one-time
// pool and receives a fresh batch; the old pairs stay on the device so
// handshakes over keys that were already claimed still complete.
func (w *Wire) RotateIdentity(ctx context.Context, passphrase, phrase string, party domain.PartyID) (domain.Identity, domain.Fingerprint, error) {
	id, fp, err := w.Identity.RotateIdentity(passphrase, phrase)
	if err != nil {
		return domain.Identity{}, "", err
	}
	if _, err := w.PreKeys.RotateSignedPreKey(passphrase); err != nil {
		return domain.Identity{}, "", err
	}
	keys, err := w.PreKeys.PublishedKeys(passphrase, party)
	if err != nil {
		return domain.Identity{}, "", err
	}
	fresh, err := w.PreKeys.ReplenishOneTimePreKeys(0, w.Config.PreKeys.OneTimePreKeys)
	if err != nil {
		return domain.Identity{}, "", err
	}
	keys.OneTimePreKeys = fresh
	keys.ReplaceIdentity = true
	if err := w.Relay.PublishKeys(ctx, keys); err != nil {
		return domain.Identity{}, "", fmt.Errorf("publish keys: %w", err)
	}
	w.Log.Info("identity rotated",
		zap.String("party", party.String()),
		zap.Uint32("version", id.Version),
		zap.String("fingerprint", fp.String()))
	return id, fp, nil
}

// Replenish tops up the one-time pool at the relay when it has fallen below
// the low watermark. It returns how many keys were published.
func (w *Wire) Replenish(ctx context.Context, passphrase string, party domain.PartyID) (int, error) {
	remaining, err := w.Relay.CountOneTimePreKeys(ctx, party)
	if err != nil {
		return 0, fmt.Errorf("count one-time pre-keys: %w", err)
	}
	if remaining >= w.Config.PreKeys.LowWatermark {
		return 0, nil
	}
	fresh, err := w.PreKeys.ReplenishOneTimePreKeys(remaining, w.Config.PreKeys.OneTimePreKeys)
	if err != nil {
		return 0, err
	}
	keys, err := w.PreKeys.PublishedKeys(passphrase, party)
	if err != nil {
		return 0, err
	}
	keys.OneTimePreKeys = fresh
	if err := w.Relay.PublishKeys(ctx, keys); err != nil {
		return 0, fmt.Errorf("publish keys: %w", err)
	}
	w.Log.Info("one-time pre-keys replenished",
		zap.String("party", party.String()),
		zap.Int("remaining", remaining),
		zap.Int("added", len(fresh)))
	return len(fresh), nil
}

func (w *Wire) saveProfile(party domain.PartyID) error {
	return w.Profiles.SaveProfile(domain.Profile{PartyID: party, RelayURL: w.RelayURL})
}

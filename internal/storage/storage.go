// Package storage holds what the store backends share: the canonical CBOR
// value encoding (also used for session records on the device), validation
// of published keys and the record layout of a directory entry.
//
// Backends live in subpackages: memory (development relay and tests),
// boltdb (single node), redisdb and postgres (shared by several relays).
// Every backend implements domain.GuardStore and domain.PreKeyDirectory;
// memory and boltdb also implement domain.MessageQueue.
package storage

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"duet/internal/crypto"
	"duet/internal/domain"
)

// DefaultMaxRetries bounds optimistic transaction retries.
const DefaultMaxRetries = 8

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort: cbor.SortCanonical,
		Time: cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Marshal encodes v as canonical CBOR.
func Marshal(v any) ([]byte, error) { return encMode.Marshal(v) }

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error { return decMode.Unmarshal(data, v) }

// IdentityRecord is the directory entry of a party without its one-time
// pre-key pool.
type IdentityRecord struct {
	Identity     domain.PublicIdentity     `cbor:"1,keyasint"`
	SignedPreKey domain.SignedPreKeyPublic `cbor:"2,keyasint"`
	UpdatedUTC   int64                     `cbor:"3,keyasint"`
}

// ValidatePublished rejects uploads whose signatures do not verify.
func ValidatePublished(keys domain.PublishedKeys, now time.Time) error {
	if keys.PartyID == "" {
		return domain.NewError(domain.CodeInvalidInput, "party id is required")
	}
	if !crypto.VerifyBinding(keys.Identity) {
		return domain.NewError(domain.CodeInvalidInput, "identity binding signature invalid")
	}
	if !crypto.VerifySignedPreKey(keys.Identity.SigningKey, keys.SignedPreKey, now) {
		return domain.NewError(domain.CodeInvalidInput, "signed pre-key signature invalid or expired")
	}
	seen := make(map[domain.OneTimePreKeyID]struct{}, len(keys.OneTimePreKeys))
	for _, k := range keys.OneTimePreKeys {
		if k.ID == "" {
			return domain.NewError(domain.CodeInvalidInput, "one-time pre-key id is required")
		}
		if _, dup := seen[k.ID]; dup {
			return domain.NewError(domain.CodeInvalidInput, fmt.Sprintf("duplicate one-time pre-key %s", k.ID))
		}
		seen[k.ID] = struct{}{}
	}
	return nil
}

// CheckReplace returns ErrIdentityConflict when keys carry a different
// identity than the registered one, unless ReplaceIdentity is set and the
// registered identity endorsed the new one.
func CheckReplace(existing *IdentityRecord, keys domain.PublishedKeys) error {
	if existing == nil || existing.Identity.SameKeys(keys.Identity) {
		return nil
	}
	if !keys.ReplaceIdentity {
		return domain.ErrIdentityConflict
	}
	if !crypto.VerifyEndorsement(existing.Identity, keys.Identity, keys.Endorsements) {
		return domain.NewError(domain.CodeIdentityConflict, "new identity is not endorsed by the registered identity")
	}
	return nil
}

// IdentityChanged reports whether keys carries a different identity than
// existing, in which case the old one-time pre-key pool must be dropped.
func IdentityChanged(existing *IdentityRecord, keys domain.PublishedKeys) bool {
	return existing != nil && !existing.Identity.SameKeys(keys.Identity)
}

// NonceKey scopes a message ID to its conversation.
func NonceKey(conv domain.ConversationKey, id domain.MessageID) string {
	return conv.String() + "|" + id.String()
}

package crypto

import (
	"crypto/sha256"
	"encoding/hex"

	"duet/internal/domain"
)

// LabelFingerprint prefixes every fingerprinted key set.
const LabelFingerprint = "duet/fingerprint"

// FingerprintIdentity returns the 20 hex digit fingerprint users compare out
// of band: SHA-256 over the label, the signing key and the agreement key,
// truncated to 10 bytes.
func FingerprintIdentity(id domain.PublicIdentity) domain.Fingerprint {
	h := sha256.New()
	h.Write([]byte(LabelFingerprint))
	h.Write(id.SigningKey[:])
	h.Write(id.AgreementKey[:])
	return domain.Fingerprint(hex.EncodeToString(h.Sum(nil)[:10]))
}

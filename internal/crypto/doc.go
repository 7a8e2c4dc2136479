// Package crypto exposes the primitives the session engine is built from.
//
// Contents
//
//   - X25519 key generation, clamping and Diffie–Hellman (GenerateX25519,
//     X25519FromScalar, DH)
//   - Ed25519 key generation, signing and verification (GenerateEd25519,
//     SignEd25519, VerifyEd25519)
//   - HKDF-SHA256 and the Argon2id recovery-phrase stretch (HKDF,
//     SeedFromPhrase)
//   - Deterministic identity derivation and the signatures that bind
//     agreement keys to the signing key (DeriveIdentity, SignedPreKeyMessage)
//   - ChaCha20-Poly1305 construction (NewAEAD)
//   - Identity fingerprints for out-of-band comparison (FingerprintIdentity)
//
// # Notes
//
// All functions return fixed-size array types defined in internal/domain to
// avoid accidental reallocations. Domain-separation labels are fixed
// constants shared by both peers; changing one breaks interoperability.
// Callers should treat returned secrets as sensitive and wipe them with
// internal/util/memzero when practical.
package crypto

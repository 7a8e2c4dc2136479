// Package store provides the device-local persistence of a duet party.
//
// Everything lives under one home directory. The identity (and the archive
// of superseded identities) is sealed with a passphrase; pre-key pairs,
// pinned partners and the profile are JSON; each session record is a CBOR
// file of its own. Writes go to a temp file that replaces the target, and
// every store serialises its own methods with a mutex.
//
// The package includes stores for:
//   - Identity keys (IdentityFileStore)
//   - Pre-keys (PrekeyFileStore)
//   - Session records (SessionFileStore)
//   - Pinned partners (PartnerFileStore)
//   - The local profile (ProfileFileStore)
package store

// Package identity manages creation, restoration, rotation and loading of
// the local identity.
//
// Identities are derived from a recovery phrase, so restoring on a new
// device yields the same keys. Rotation derives the next version from the
// same phrase and archives the old identity for backlog decryption. The
// sealed identity is persisted via the domain.IdentityStore.
package identity

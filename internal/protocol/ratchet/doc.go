// Package ratchet implements the Double Ratchet algorithm following Signal's design.
//
// The algorithm maintains a root key and two message chains (send and receive).
// Each message advances a KDF chain so that keys are forward secure. When a party
// sees a new ratchet public key from its partner, it derives a new receiving
// chain from the root key; the matching sending step is deferred until the
// next Encrypt, which generates a fresh ratchet key pair.
//
// Decrypt works on a copy of the state and commits it only after the message
// authenticated, so a forged or corrupted message never advances a chain.
// Skipping is bounded per message (Config.MaxSkip) and in total
// (Config.MaxSkippedKeys); both bounds are checked before any key is derived.
//
// Concurrency: RatchetState is NOT safe for concurrent use. Callers must
// serialise access per conversation.
package ratchet

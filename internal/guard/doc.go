// Package guard implements the replay and sequence guard.
//
// ValidateIncoming checks, in order: message age, future clock skew, nonce
// reuse, sequence monotonicity and the sequence gap cap. The last three
// checks and the resulting writes run inside one GuardStore transaction, so
// concurrent callers for the same conversation serialise there and exactly
// one of two racing duplicates is accepted.
//
// An accepted request yields a single-use DeliveryToken. Redeem consumes it
// atomically; the mailbox refuses writes without a redeemed token.
package guard

// Package x3dh implements the X3DH key agreement used to bootstrap a Double
// Ratchet session between two partners.
//
// # Overview
//
// X3DH lets an initiator derive a shared root key and chain key with a
// responder who has published a pre-key bundle. The bundle contains:
//   - Public identity (X25519 agreement key, Ed25519 signing key and the
//     binding signature over the agreement key)
//   - Signed pre-key (X25519), its Ed25519 signature and expiry
//   - At most one claimed one-time pre-key (X25519)
//
// # Flows
//
// Initiator (Initiate):
//  1. Verify the identity binding and the signed pre-key signature + expiry.
//  2. Compare the bundle identity with the pinned partner identity, if any.
//  3. Generate an ephemeral X25519 key pair.
//  4. Compute DH values (IKa·SPKb, EKa·IKb, EKa·SPKb[, EKa·OPKb]).
//  5. HKDF over F || DH transcript to 64 bytes: root key || chain key.
//  6. Return both keys, the session associated data and the handshake
//     header the initiator attaches to its messages.
//
// Responder (Respond):
//  1. Verify the initiator's identity binding.
//  2. Compute the symmetric DH set (SPKb·IKa, IKb·EKa, SPKb·EKa[, OPKb·EKa]).
//  3. HKDF the same transcript to the identical keys.
//
// # Errors
//
// Every authentication failure is domain.ErrHandshakeAuth and must not be
// retried. A bundle without a one-time pre-key is valid; Result reports it.
//
// # Security notes
//
// Only public material is sent over the wire. Intermediate DH outputs are
// wiped as soon as the transcript has been hashed.
package x3dh

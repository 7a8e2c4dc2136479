// Package session establishes and tracks ratchet sessions.
//
// StartSession runs the X3DH initiator side against a partner's published
// bundle; AcceptHandshake runs the responder side for an inbound handshake.
// Partner identities are pinned on first contact and every later handshake
// must present the pinned keys unless a re-pin was requested.
//
// The Registry serialises all reads and writes of one (local, partner)
// session record and persists every change before the caller continues.
package session

// Package prekey manages signed pre-keys and one-time pre-keys for the X3DH
// handshake.
//
// It rotates the current signed pre-key, keeps superseded ones until their
// expiry plus a grace period, tops up the one-time pool and assembles the
// public material a party publishes.
package prekey

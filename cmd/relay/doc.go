// Command relay runs the duet store-and-forward relay.
//
// The relay holds published identities and pre-keys, hands out bundles
// (claiming one one-time pre-key each), runs every delivery through the
// replay and sequence guard and queues admitted messages until the recipient
// acks them. It never sees plaintext or private keys.
//
// Usage
//
//	relay --config relay.toml
//	relay --backend bolt --bolt /var/lib/duet/relay.db --listen :8080
//
// Storage backends: memory (development, state lost on exit), bolt (single
// node), redis and postgres (shared guard and directory for several relay
// processes; the mailbox then lives in the bolt file named by BoltPath, or in
// memory). Expired nonces and tokens are purged every Guard.PurgeInterval.
//
// The HTTP API is documented in package internal/relay.
package main

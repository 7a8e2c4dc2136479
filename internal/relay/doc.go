// Package relay is the HTTP store-and-forward service between two parties
// and the client devices use to reach it.
//
// The relay never sees plaintext or private keys. It keeps published
// identities and pre-keys, claims one-time pre-keys on bundle fetches and
// queues wire messages the replay guard admitted until the recipient acks
// them.
//
// HTTP API
//
//	POST /v1/keys                   publish identity, signed and one-time pre-keys
//	GET  /v1/keys/:party            fetch a bundle, claiming one one-time pre-key
//	GET  /v1/keys/:party/count      remaining one-time pre-keys
//	POST /v1/messages               validate, issue a token and persist
//	GET  /v1/messages/:party?limit  queued messages in arrival order
//	POST /v1/messages/:party/ack    drop delivered messages by id
//	GET  /metrics                   Prometheus collectors
//	GET  /healthz                   liveness
//
// Errors are JSON objects {"error": {"code", "message"}} with the status
// the error code maps to; the client turns them back into ProtocolErrors.
package relay

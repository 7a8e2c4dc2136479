// Package commands defines the duet CLI.
//
// Commands
//
//   - init             Create the local identity and print the recovery phrase
//   - restore          Rebuild the identity from a recovery phrase
//   - fingerprint      Print your fingerprint or a partner's pinned one
//   - register         Publish identity and pre-keys to a relay
//   - rotate-prekeys   Replace the signed pre-key
//   - rotate-identity  Move to the next identity version
//   - start-session    Run the handshake with a partner
//   - send             Encrypt and send a message
//   - recv             Fetch and decrypt queued messages
//
// The root command loads the TOML config, applies flag overrides and builds
// the app.Wire every subcommand uses. The relay URL comes from --relay, then
// the registered profile, then the config.
package commands

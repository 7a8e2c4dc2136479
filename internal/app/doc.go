// Package app wires application dependencies for both binaries.
//
// Config is loaded from TOML and filled with defaults. Wire builds the
// stores, the device guard, the relay client and the services of one device
// and carries the multi-step flows the CLI runs (register, rotations,
// replenish). RelayNode assembles a relay on the configured storage backend.
package app

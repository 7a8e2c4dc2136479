// Package message encrypts, sends, fetches and decrypts messages.
//
// Every change to a session, including the outbound sequence counter, is
// persisted through the session registry before a ciphertext or plaintext
// is returned. Received messages pass the device's own replay guard before
// they are decrypted.
package message

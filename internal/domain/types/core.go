package types

// PartyID identifies one of the two partners of a session.
type PartyID string

// String returns the string form of the party identifier.
func (p PartyID) String() string { return string(p) }

// Fingerprint is a short identifier for public keys presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }

// SignedPreKeyID uniquely identifies a signed pre-key.
type SignedPreKeyID string

// String returns the string form of the identifier.
func (id SignedPreKeyID) String() string { return string(id) }

// OneTimePreKeyID uniquely identifies a one-time pre-key.
type OneTimePreKeyID string

// String returns the string form of the identifier.
func (id OneTimePreKeyID) String() string { return string(id) }

// MessageID identifies a single delivery attempt of a message.
type MessageID string

// String returns the string form of the message identifier.
func (id MessageID) String() string { return string(id) }

// ConversationKey names the direction of a conversation the replay guard
// keeps a sequence counter for.
type ConversationKey struct {
	Sender    PartyID `json:"sender"`
	Recipient PartyID `json:"recipient"`
}

// String returns "sender>recipient".
func (c ConversationKey) String() string {
	return string(c.Sender) + ">" + string(c.Recipient)
}

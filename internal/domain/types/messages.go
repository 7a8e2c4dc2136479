package types

// WireVersion is the current WireMessage version.
const WireVersion = 1

// EncryptedMessage is the fixed ratchet envelope. Ciphertext is
// nonce || sealed payload || tag.
type EncryptedMessage struct {
	RatchetKey          X25519Public `json:"ratchet_key"`
	PreviousChainLength uint32       `json:"pn"`
	MessageIndex        uint32       `json:"n"`
	Ciphertext          []byte       `json:"ciphertext"`
}

// WireMessage is the versioned record exchanged through the relay.
// Timestamp is unix milliseconds.
type WireMessage struct {
	Version         int              `json:"version"`
	MessageID       MessageID        `json:"message_id"`
	SenderID        PartyID          `json:"sender_id"`
	RecipientID     PartyID          `json:"recipient_id"`
	SequenceNumber  uint64           `json:"sequence_number"`
	IdentityVersion uint32           `json:"identity_version"`
	Timestamp       int64            `json:"timestamp"`
	Envelope        EncryptedMessage `json:"envelope"`
	Handshake       *HandshakeHeader `json:"handshake,omitempty"`
}

// Conversation returns the guard key of the message.
func (m WireMessage) Conversation() ConversationKey {
	return ConversationKey{Sender: m.SenderID, Recipient: m.RecipientID}
}

// OutgoingMessage is what EncryptForSending returns.
type OutgoingMessage struct {
	Wire           WireMessage `json:"wire"`
	SequenceNumber uint64      `json:"sequence_number"`
}

// DecryptedMessage is what the message service returns for a received message.
type DecryptedMessage struct {
	MessageID MessageID `json:"message_id"`
	From      PartyID   `json:"from"`
	To        PartyID   `json:"to"`
	Plaintext []byte    `json:"plaintext"`
	Timestamp int64     `json:"timestamp"`
}

// QueuedMessage is a mailbox entry.
type QueuedMessage struct {
	Message     WireMessage `json:"message"`
	EnqueuedUTC int64       `json:"enqueued_utc"`
}

package types

import "time"

// ValidationRequest is the metadata the replay guard checks for one delivery
// attempt.
type ValidationRequest struct {
	MessageID      MessageID `json:"message_id"`
	Sender         PartyID   `json:"sender"`
	Recipient      PartyID   `json:"recipient"`
	SequenceNumber uint64    `json:"sequence_number"`
	Timestamp      time.Time `json:"timestamp"`
}

// Conversation returns the guard key of the request.
func (r ValidationRequest) Conversation() ConversationKey {
	return ConversationKey{Sender: r.Sender, Recipient: r.Recipient}
}

// DeliveryToken authorises exactly one mailbox write of one message.
type DeliveryToken struct {
	Token          string    `json:"token"`
	MessageID      MessageID `json:"message_id"`
	Sender         PartyID   `json:"sender"`
	Recipient      PartyID   `json:"recipient"`
	SequenceNumber uint64    `json:"sequence_number"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Matches reports whether the token was issued for the given request.
func (t DeliveryToken) Matches(r ValidationRequest) bool {
	return t.MessageID == r.MessageID &&
		t.Sender == r.Sender &&
		t.Recipient == r.Recipient &&
		t.SequenceNumber == r.SequenceNumber
}

// ConversationState is what a guard store reads inside its transaction
// before the admission checks run.
type ConversationState struct {
	Key          ConversationKey
	LastSequence uint64
	HasSequence  bool
	NonceSeen    bool
}

// Admission is the set of writes a guard store applies atomically when the
// checks pass.
type Admission struct {
	Request        ValidationRequest
	NonceExpiresAt time.Time
	Token          DeliveryToken
}

// Package wire encodes WireMessages for the relay and migrates older
// records at the boundary.
//
// Version 0 records carried the sequence number and identity version as
// decimal strings. Decode accepts them once and returns a v1 message; every
// other package sees only the typed form.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"duet/internal/domain"
)

// record mirrors domain.WireMessage with the fields whose type changed
// between versions left raw.
type record struct {
	Version         int                     `json:"version"`
	MessageID       domain.MessageID        `json:"message_id"`
	SenderID        domain.PartyID          `json:"sender_id"`
	RecipientID     domain.PartyID          `json:"recipient_id"`
	SequenceNumber  json.RawMessage         `json:"sequence_number"`
	IdentityVersion json.RawMessage         `json:"identity_version"`
	Timestamp       int64                   `json:"timestamp"`
	Envelope        domain.EncryptedMessage `json:"envelope"`
	Handshake       *domain.HandshakeHeader `json:"handshake,omitempty"`
}

// Encode returns the JSON form of msg.
func Encode(msg domain.WireMessage) ([]byte, error) {
	if msg.Version == 0 {
		msg.Version = domain.WireVersion
	}
	return json.Marshal(msg)
}

// Decode parses a v0 or v1 record and validates it.
func Decode(data []byte) (domain.WireMessage, error) {
	var r record
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&r); err != nil {
		return domain.WireMessage{}, domain.WrapError(domain.CodeInvalidInput, "malformed wire message", err)
	}
	return migrate(r)
}

// migrate coerces a raw record into the current WireMessage.
func migrate(r record) (domain.WireMessage, error) {
	msg := domain.WireMessage{
		Version:     domain.WireVersion,
		MessageID:   r.MessageID,
		SenderID:    r.SenderID,
		RecipientID: r.RecipientID,
		Timestamp:   r.Timestamp,
		Envelope:    r.Envelope,
		Handshake:   r.Handshake,
	}

	var err error
	switch r.Version {
	case 0:
		msg.SequenceNumber, err = legacyUint(r.SequenceNumber, 64)
		if err != nil {
			return domain.WireMessage{}, invalid("sequence_number", err)
		}
		v, err := legacyUint(r.IdentityVersion, 32)
		if err != nil {
			return domain.WireMessage{}, invalid("identity_version", err)
		}
		msg.IdentityVersion = uint32(v)
	case domain.WireVersion:
		if err := strictUint(r.SequenceNumber, &msg.SequenceNumber); err != nil {
			return domain.WireMessage{}, invalid("sequence_number", err)
		}
		if err := strictUint(r.IdentityVersion, &msg.IdentityVersion); err != nil {
			return domain.WireMessage{}, invalid("identity_version", err)
		}
	default:
		return domain.WireMessage{}, domain.NewError(domain.CodeInvalidInput,
			fmt.Sprintf("unsupported wire version %d", r.Version))
	}

	if err := Validate(msg); err != nil {
		return domain.WireMessage{}, err
	}
	return msg, nil
}

// Validate checks the fields every component relies on.
func Validate(msg domain.WireMessage) error {
	switch {
	case msg.Version != domain.WireVersion:
		return domain.NewError(domain.CodeInvalidInput, fmt.Sprintf("unsupported wire version %d", msg.Version))
	case msg.MessageID == "":
		return domain.NewError(domain.CodeInvalidInput, "message_id is required")
	case msg.SenderID == "" || msg.RecipientID == "":
		return domain.NewError(domain.CodeInvalidInput, "sender_id and recipient_id are required")
	case msg.SenderID == msg.RecipientID:
		return domain.NewError(domain.CodeInvalidInput, "sender and recipient must differ")
	case msg.SequenceNumber == 0:
		return domain.NewError(domain.CodeInvalidInput, "sequence_number must be positive")
	case msg.Envelope.RatchetKey.IsZero():
		return domain.NewError(domain.CodeInvalidInput, "envelope ratchet key is required")
	case len(msg.Envelope.Ciphertext) == 0:
		return domain.NewError(domain.CodeInvalidInput, "envelope ciphertext is required")
	}
	return nil
}

// Request returns the guard metadata of msg.
func Request(msg domain.WireMessage) domain.ValidationRequest {
	return domain.ValidationRequest{
		MessageID:      msg.MessageID,
		Sender:         msg.SenderID,
		Recipient:      msg.RecipientID,
		SequenceNumber: msg.SequenceNumber,
		Timestamp:      time.UnixMilli(msg.Timestamp),
	}
}

// legacyUint accepts a quoted decimal, a bare number or nothing.
func legacyUint(raw json.RawMessage, bits int) (uint64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		s = string(raw)
	}
	return strconv.ParseUint(s, 10, bits)
}

func strictUint[T uint32 | uint64](raw json.RawMessage, out *T) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func invalid(field string, err error) error {
	return domain.WrapError(domain.CodeInvalidInput, "invalid "+field, err)
}

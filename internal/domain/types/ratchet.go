package types

// ChainState is one symmetric chain of the Double Ratchet. RatchetKey is the
// sender ratchet public key the chain belongs to.
type ChainState struct {
	Key        []byte       `json:"key"`
	Index      uint32       `json:"index"`
	RatchetKey X25519Public `json:"ratchet_key"`
}

// SkippedMessageKey is a message key derived ahead of time for a message
// that has not arrived yet.
type SkippedMessageKey struct {
	RatchetKey X25519Public `json:"ratchet_key"`
	Index      uint32       `json:"index"`
	Key        []byte       `json:"key"`
	CreatedUTC int64        `json:"created_utc"`
}

// RatchetState contains all fields the Double Ratchet needs to track.
//
// Sending is nil until the next sending DH step; Receiving is nil on an
// initiator until the first reply arrives.
type RatchetState struct {
	RootKey               []byte              `json:"root_key"`
	OurRatchetPriv        X25519Private       `json:"our_ratchet_priv"`
	OurRatchetPub         X25519Public        `json:"our_ratchet_pub"`
	TheirRatchetPub       X25519Public        `json:"their_ratchet_pub"`
	Sending               *ChainState         `json:"sending,omitempty"`
	Receiving             *ChainState         `json:"receiving,omitempty"`
	PreviousSendingLength uint32              `json:"previous_sending_length"`
	Skipped               []SkippedMessageKey `json:"skipped,omitempty"`
	IsInitiator           bool                `json:"is_initiator"`
	AssociatedData        []byte              `json:"associated_data"`
}

// Clone returns a deep copy of the state.
func (s *RatchetState) Clone() *RatchetState {
	out := *s
	out.RootKey = cloneBytes(s.RootKey)
	out.AssociatedData = cloneBytes(s.AssociatedData)
	out.Sending = s.Sending.clone()
	out.Receiving = s.Receiving.clone()
	if s.Skipped != nil {
		out.Skipped = make([]SkippedMessageKey, len(s.Skipped))
		for i, k := range s.Skipped {
			k.Key = cloneBytes(k.Key)
			out.Skipped[i] = k
		}
	}
	return &out
}

func (c *ChainState) clone() *ChainState {
	if c == nil {
		return nil
	}
	out := *c
	out.Key = cloneBytes(c.Key)
	return &out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

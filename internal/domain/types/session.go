package types

// Session is the ratchet session between the local party and one partner.
//
// PendingHandshake is set on an initiator until the first reply arrives.
// HandshakeKey is the initiator ephemeral key the session was created from.
type Session struct {
	Local            PartyID          `json:"local"`
	Partner          PartyID          `json:"partner"`
	PartnerIdentity  PublicIdentity   `json:"partner_identity"`
	State            RatchetState     `json:"state"`
	SendSequence     uint64           `json:"send_sequence"`
	PendingHandshake *HandshakeHeader `json:"pending_handshake,omitempty"`
	HandshakeKey     X25519Public     `json:"handshake_key"`
	IdentityVersion  uint32           `json:"identity_version"`
	CreatedUTC       int64            `json:"created_utc"`
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	out := *s
	out.State = *s.State.Clone()
	out.PartnerIdentity.BindingSignature = cloneBytes(s.PartnerIdentity.BindingSignature)
	if s.PendingHandshake != nil {
		hs := *s.PendingHandshake
		out.PendingHandshake = &hs
	}
	return &out
}

// SessionRecord holds the current session for a pair plus older sessions
// kept for backlog decryption, most recent first.
type SessionRecord struct {
	Current  *Session  `json:"current,omitempty"`
	Archived []Session `json:"archived,omitempty"`
}

// Candidates returns the sessions to try when decrypting, in order: the
// current session first, then archived sessions from most recent.
func (r *SessionRecord) Candidates() []*Session {
	out := make([]*Session, 0, 1+len(r.Archived))
	if r.Current != nil {
		out = append(out, r.Current)
	}
	for i := range r.Archived {
		out = append(out, &r.Archived[i])
	}
	return out
}

// Promote replaces the current session with s, moving the previous one to
// the front of the archive and keeping at most limit archived sessions.
// The outbound sequence never goes backwards: s continues from the highest
// sequence any session of the record has sent.
func (r *SessionRecord) Promote(s *Session, limit int) {
	if seq := r.maxSendSequence(); s.SendSequence < seq {
		s.SendSequence = seq
	}
	if r.Current != nil {
		r.Archived = append([]Session{*r.Current}, r.Archived...)
	}
	r.Current = s
	r.trim(limit)
}

// Archive stores s as the most recent archived session without touching the
// current one.
func (r *SessionRecord) Archive(s Session, limit int) {
	r.Archived = append([]Session{s}, r.Archived...)
	r.trim(limit)
}

func (r *SessionRecord) trim(limit int) {
	if limit < 0 {
		limit = 0
	}
	if len(r.Archived) > limit {
		r.Archived = r.Archived[:limit]
	}
}

func (r *SessionRecord) maxSendSequence() uint64 {
	var seq uint64
	for _, c := range r.Candidates() {
		if c.SendSequence > seq {
			seq = c.SendSequence
		}
	}
	return seq
}

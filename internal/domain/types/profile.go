package types

// Profile remembers who the local party is and which relay it talks to.
type Profile struct {
	PartyID  PartyID `json:"party_id"`
	RelayURL string  `json:"relay_url"`
}

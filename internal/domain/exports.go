package domain

import (
	interfaces "duet/internal/domain/interfaces"
	types "duet/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	PartyID             = types.PartyID
	Fingerprint         = types.Fingerprint
	SignedPreKeyID      = types.SignedPreKeyID
	OneTimePreKeyID     = types.OneTimePreKeyID
	MessageID           = types.MessageID
	ConversationKey     = types.ConversationKey
	X25519Public        = types.X25519Public
	X25519Private       = types.X25519Private
	Ed25519Public       = types.Ed25519Public
	Ed25519Private      = types.Ed25519Private
	Identity            = types.Identity
	PublicIdentity      = types.PublicIdentity
	Endorsement         = types.Endorsement
	Partner             = types.Partner
	Profile             = types.Profile
	SignedPreKeyPair    = types.SignedPreKeyPair
	SignedPreKeyPublic  = types.SignedPreKeyPublic
	OneTimePreKeyPair   = types.OneTimePreKeyPair
	OneTimePreKeyPublic = types.OneTimePreKeyPublic
	PublishedKeys       = types.PublishedKeys
	PreKeyBundle        = types.PreKeyBundle
	HandshakeHeader     = types.HandshakeHeader
	ChainState          = types.ChainState
	SkippedMessageKey   = types.SkippedMessageKey
	RatchetState        = types.RatchetState
	Session             = types.Session
	SessionRecord       = types.SessionRecord
	EncryptedMessage    = types.EncryptedMessage
	WireMessage         = types.WireMessage
	OutgoingMessage     = types.OutgoingMessage
	DecryptedMessage    = types.DecryptedMessage
	QueuedMessage       = types.QueuedMessage
	ValidationRequest   = types.ValidationRequest
	DeliveryToken       = types.DeliveryToken
	ConversationState   = types.ConversationState
	Admission           = types.Admission
)

// WireVersion is the current WireMessage version.
const WireVersion = types.WireVersion

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	IdentityService = interfaces.IdentityService
	PreKeyService   = interfaces.PreKeyService
	SessionService  = interfaces.SessionService
	MessageService  = interfaces.MessageService
	StartOptions    = interfaces.StartOptions
	RelayClient     = interfaces.RelayClient
	PreKeyDirectory = interfaces.PreKeyDirectory
	GuardStore      = interfaces.GuardStore
	MessageQueue    = interfaces.MessageQueue
	IdentityStore   = interfaces.IdentityStore
	PreKeyStore     = interfaces.PreKeyStore
	SessionStore    = interfaces.SessionStore
	PartnerStore    = interfaces.PartnerStore
	ProfileStore    = interfaces.ProfileStore
)

// ParseX25519Public copies b into an X25519Public.
func ParseX25519Public(b []byte) (X25519Public, error) { return types.ParseX25519Public(b) }

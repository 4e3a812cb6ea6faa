package domain

import (
	interfaces "tether/internal/domain/interfaces"
	types "tether/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	Fingerprint      = types.Fingerprint
	DeviceID         = types.DeviceID
	MessageID        = types.MessageID
	TargetKind       = types.TargetKind
	Target           = types.Target
	DeviceIdentity   = types.DeviceIdentity
	ChainState       = types.ChainState
	SessionInfo      = types.SessionInfo
	LinkState        = types.LinkState
	PairingPayload   = types.PairingPayload
	LinkConfirmation = types.LinkConfirmation
	Format           = types.Format
	Span             = types.Span
	OpKind           = types.OpKind
	OpCommand        = types.OpCommand
	Envelope         = types.Envelope
	SourceMeta       = types.SourceMeta
	SubmitResult     = types.SubmitResult
	Direction        = types.Direction
	DeliveryStatus   = types.DeliveryStatus
	RecordKey        = types.RecordKey
	HistoryRecord    = types.HistoryRecord
	ApplyOutcome     = types.ApplyOutcome
	X25519Public     = types.X25519Public
	X25519Private    = types.X25519Private
	Ed25519Public    = types.Ed25519Public
	Ed25519Private   = types.Ed25519Private
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	IdentityStore    = interfaces.IdentityStore
	SessionStore     = interfaces.SessionStore
	HistoryStore     = interfaces.HistoryStore
	Conn             = interfaces.Conn
	Dialer           = interfaces.Dialer
	Rendezvous       = interfaces.Rendezvous
	RendezvousWaiter = interfaces.RendezvousWaiter
	PairingService   = interfaces.PairingService
	FrameSender      = interfaces.FrameSender
	OutgoingService  = interfaces.OutgoingService
	IngestService    = interfaces.IngestService
	Roster           = interfaces.Roster
)

// Constants re-exported so callers can stay on the domain package.
const (
	TargetPeer  = types.TargetPeer
	TargetGroup = types.TargetGroup

	LinkIdle      = types.LinkIdle
	LinkPending   = types.LinkPending
	LinkConfirmed = types.LinkConfirmed
	LinkExpired   = types.LinkExpired
	LinkRejected  = types.LinkRejected

	FormatBold          = types.FormatBold
	FormatItalic        = types.FormatItalic
	FormatStrikethrough = types.FormatStrikethrough
	FormatMonospace     = types.FormatMonospace
	FormatLink          = types.FormatLink

	OpSyncRequest   = types.OpSyncRequest
	OpHistoryQuery  = types.OpHistoryQuery
	OpReceipt       = types.OpReceipt
	OpDeviceRemoved = types.OpDeviceRemoved

	DirectionSent     = types.DirectionSent
	DirectionReceived = types.DirectionReceived

	StatusQueued    = types.StatusQueued
	StatusSent      = types.StatusSent
	StatusDelivered = types.StatusDelivered
	StatusFailed    = types.StatusFailed

	OutcomeInserted  = types.OutcomeInserted
	OutcomeUpdated   = types.OutcomeUpdated
	OutcomeUnchanged = types.OutcomeUnchanged
	OutcomeStale     = types.OutcomeStale

	SourceChannel = types.SourceChannel
	SourceHTTP    = types.SourceHTTP
)

// Function re-exports.
var (
	Peer        = types.Peer
	Group       = types.Group
	ParseTarget = types.ParseTarget
	PlainText   = types.PlainText
	SpansEqual  = types.SpansEqual
)

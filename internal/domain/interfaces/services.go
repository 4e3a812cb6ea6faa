package interfaces

import (
	"context"

	domaintypes "tether/internal/domain/types"
)

// PairingService drives a LinkingSession to a DeviceSession.
type PairingService interface {
	Begin(ctx context.Context) (domaintypes.PairingPayload, error)
	Await(ctx context.Context) (domaintypes.SessionInfo, error)
	Cancel()
	State() domaintypes.LinkState
}

// FrameSender hands encoded payloads to the secure channel.
type FrameSender interface {
	Send(ctx context.Context, payload []byte) error
}

// OutgoingService accepts envelopes for asynchronous delivery.
type OutgoingService interface {
	Submit(ctx context.Context, env domaintypes.Envelope) <-chan domaintypes.SubmitResult
}

// IngestService is the single entry point for inbound payloads.
type IngestService interface {
	Ingest(
		ctx context.Context,
		raw []byte,
		meta domaintypes.SourceMeta,
	) (domaintypes.ApplyOutcome, error)
}

// Roster answers whether a conversation or sender is recognised.
type Roster interface {
	KnownTarget(t domaintypes.Target) bool
	KnownSender(sender string) bool
}

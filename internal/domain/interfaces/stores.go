package interfaces

import (
	"context"

	domaintypes "tether/internal/domain/types"
)

// IdentityStore owns the long-term device identity.
type IdentityStore interface {
	LoadOrCreateIdentity() (domaintypes.DeviceIdentity, error)
	ResetIdentity() (domaintypes.DeviceIdentity, error)
	Sign(msg []byte) ([]byte, error)
}

// SessionStore exposes the lifecycle of the single linked DeviceSession.
type SessionStore interface {
	CurrentSession() (domaintypes.SessionInfo, bool, error)
	InvalidateSession() error
}

// HistoryStore persists message records and their revision log.
type HistoryStore interface {
	// Apply inserts or revises a record, comparing revisions atomically.
	Apply(
		ctx context.Context,
		rec domaintypes.HistoryRecord,
	) (domaintypes.ApplyOutcome, domaintypes.HistoryRecord, error)
	Get(ctx context.Context, key domaintypes.RecordKey) (domaintypes.HistoryRecord, bool, error)
	// SetStatus moves a record forward; backward transitions are ignored.
	SetStatus(
		ctx context.Context,
		key domaintypes.RecordKey,
		status domaintypes.DeliveryStatus,
		detail string,
	) (domaintypes.HistoryRecord, error)
	// Requeue moves a Failed record back to Queued for a new attempt.
	Requeue(ctx context.Context, key domaintypes.RecordKey) (domaintypes.HistoryRecord, error)
	List(ctx context.Context, target domaintypes.Target, limit int) ([]domaintypes.HistoryRecord, error)
	Conversations(ctx context.Context) ([]domaintypes.Target, error)
}

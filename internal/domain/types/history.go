package types

import (
	"fmt"
	"time"
)

// Direction records whether a message was sent from this device or received.
type Direction uint8

const (
	DirectionSent Direction = iota + 1
	DirectionReceived
)

// String returns "sent" or "received".
func (d Direction) String() string {
	switch d {
	case DirectionSent:
		return "sent"
	case DirectionReceived:
		return "received"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// DeliveryStatus tracks an outbound message through the pipeline.
type DeliveryStatus uint8

const (
	StatusQueued DeliveryStatus = iota + 1
	StatusSent
	StatusDelivered
	StatusFailed
)

// String returns a lower-case status name.
func (s DeliveryStatus) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// rank orders statuses so that a status never moves backwards.
func (s DeliveryStatus) rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusFailed:
		return 1
	case StatusSent:
		return 2
	case StatusDelivered:
		return 3
	default:
		return -1
	}
}

// Advances reports whether moving from s to next is a forward transition.
func (s DeliveryStatus) Advances(next DeliveryStatus) bool {
	return next.rank() > s.rank()
}

// RecordKey identifies a history record: one per message, across revisions.
type RecordKey struct {
	Sender    string
	Target    Target
	MessageID MessageID
}

// String renders the key for logs.
func (k RecordKey) String() string {
	return k.Sender + "/" + k.Target.String() + "/" + string(k.MessageID)
}

// HistoryRecord is the current state of one message.
type HistoryRecord struct {
	Envelope  Envelope       `json:"envelope"`
	Direction Direction      `json:"direction"`
	Status    DeliveryStatus `json:"status"`
	Flagged   bool           `json:"flagged,omitempty"`
	Error     string         `json:"error,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Key returns the record's identity.
func (r HistoryRecord) Key() RecordKey {
	return RecordKey{
		Sender:    r.Envelope.Sender,
		Target:    r.Envelope.Target,
		MessageID: r.Envelope.MessageID,
	}
}

// ApplyOutcome is the result of applying a revision to the history store.
type ApplyOutcome uint8

const (
	// OutcomeInserted means the message was not known before.
	OutcomeInserted ApplyOutcome = iota + 1
	// OutcomeUpdated means a newer revision replaced the stored one.
	OutcomeUpdated
	// OutcomeUnchanged means the same revision and content was already stored.
	OutcomeUnchanged
	// OutcomeStale means the stored revision wins and nothing changed.
	OutcomeStale
)

// String returns a lower-case outcome name.
func (o ApplyOutcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeUpdated:
		return "updated"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeStale:
		return "stale"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// Changed reports whether the store was modified.
func (o ApplyOutcome) Changed() bool {
	return o == OutcomeInserted || o == OutcomeUpdated
}
